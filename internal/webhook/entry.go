package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

// Entry - одна запись пакета, приведённая к каноническому виду.
// Err заполнен, если запись нельзя синхронизировать; остальные записи пакета обрабатываются дальше.
type Entry struct {
	Index     int
	RawID     string
	OrderID   int64
	Desired   models.PartialOrder
	ExtraSet  map[string]any
	ExtraPush map[string]any
	// CreditNote заполнен только для маршрута возвратов.
	CreditNote *CreditNote
	Err        error
}

// Failed сообщает, что запись отклонена на этапе разбора.
func (e Entry) Failed() bool {
	return e.Err != nil
}

func failedEntry(index int, rawID string, format string, args ...any) Entry {
	return Entry{
		Index: index,
		RawID: rawID,
		Err:   apperror.MalformedState(format, args...),
	}
}

// parseID принимает число или числовую строку и возвращает положительный идентификатор.
func parseID(v any) (int64, string, error) {
	var raw string
	switch val := v.(type) {
	case nil:
		return 0, "", fmt.Errorf("идентификатор отсутствует")
	case json.Number:
		raw = val.String()
	case string:
		raw = strings.TrimSpace(val)
	case float64:
		raw = strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return 0, fmt.Sprint(v), fmt.Errorf("идентификатор %v имеет неподдерживаемый тип", v)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, raw, fmt.Errorf("идентификатор %q не является целым числом", raw)
	}
	if id <= 0 {
		return 0, raw, fmt.Errorf("идентификатор %d должен быть положительным", id)
	}
	return id, raw, nil
}

func optionalString(obj map[string]any, key string) (*string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("поле %q должно быть строкой", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func stringValue(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return strings.TrimSpace(s)
	}
	if n, ok := obj[key].(json.Number); ok {
		return n.String()
	}
	return ""
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// restFields возвращает поля объекта за исключением перечисленных.
func restFields(obj map[string]any, skip ...string) map[string]any {
	skipped := make(map[string]struct{}, len(skip))
	for _, key := range skip {
		skipped[key] = struct{}{}
	}
	var out map[string]any
	for key, value := range obj {
		if _, ok := skipped[key]; ok {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[key] = value
	}
	return out
}
