package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
)

var (
	// ErrUnsupportedDocument - документ не является PDF.
	ErrUnsupportedDocument = errors.New("storage: поддерживаются только PDF-документы")
	ErrDocumentTooLarge    = errors.New("storage: размер файла превышает лимит")
)

// DocumentStorage отвечает за файловое хранилище документов возвратов (кредит-ноты).
type DocumentStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// NewDocumentStorage создаёт файловое хранилище.
func NewDocumentStorage(rootPath string, maxUploadMB int64) (*DocumentStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &DocumentStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// ValidatePDF проверяет сигнатуру файла.
func ValidatePDF(data []byte) error {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || kind.Extension != "pdf" {
		return ErrUnsupportedDocument
	}
	return nil
}

// Save сохраняет документ кредит-ноты и возвращает относительный путь.
// Имя файла зависит только от заказа и номера документа, поэтому повторная доставка перезаписывает тот же файл.
func (s *DocumentStorage) Save(ctx context.Context, orderID int64, documentID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if int64(len(data)) > s.maxUploadBytes {
		return "", fmt.Errorf("%w %d байт", ErrDocumentTooLarge, s.maxUploadBytes)
	}
	if err := ValidatePDF(data); err != nil {
		return "", err
	}

	orderDir := strconv.FormatInt(orderID, 10)
	fileName := sanitizeFilename(documentID) + ".pdf"

	targetDir := filepath.Join(s.rootPath, orderDir)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("storage: не удалось создать каталог заказа: %w", err)
	}

	targetPath := filepath.Join(targetDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return filepath.Join(orderDir, fileName), nil
}

// Open открывает сохранённый документ для чтения.
func (s *DocumentStorage) Open(ctx context.Context, relativePath string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(relativePath)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("storage: недопустимый путь %q", relativePath)
	}
	return os.Open(filepath.Join(s.rootPath, clean))
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" || name == "." {
		name = "document"
	}
	return name
}
