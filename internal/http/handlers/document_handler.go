package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/order-sync-gateway/internal/http/handlers/common"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

// DocumentOpener открывает сохранённый документ по относительному пути.
type DocumentOpener interface {
	Open(ctx context.Context, relativePath string) (*os.File, error)
}

// DocumentHandler отдаёт PDF кредит-нот операторам.
type DocumentHandler struct {
	documents DocumentOpener
}

// NewDocumentHandler создаёт хэндлер.
func NewDocumentHandler(documents DocumentOpener) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Download обрабатывает GET /api/orders/:id/documents/:name.
func (h *DocumentHandler) Download(c *gin.Context) {
	orderID, err := common.OrderIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	name := path.Base(c.Param("name"))
	f, err := h.documents.Open(c.Request.Context(), path.Join(strconv.FormatInt(orderID, 10), name))
	if errors.Is(err, os.ErrNotExist) {
		_ = c.Error(apperror.New(apperror.ErrCodeNotFound, "документ не найден"))
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", "attachment; filename=\""+name+"\"")
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, f)
}
