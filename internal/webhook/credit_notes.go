package webhook

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/storage"
)

// ReturnsField - последовательность в документе заказа, куда дописываются кредит-ноты.
const ReturnsField = "returns"

// CreditNoteLine - возвращённая позиция.
type CreditNoteLine struct {
	SubOrderID int64
	Quantity   int64
	Amount     decimal.Decimal
}

// CreditNote - документ возврата маркетплейса.
type CreditNote struct {
	ID       string
	OrderID  int64
	Currency string
	Reason   string
	IssuedAt string
	Lines    []CreditNoteLine
	Total    decimal.Decimal
	// Document - декодированный PDF, если платформа его приложила.
	Document []byte
}

// Record возвращает запись для последовательности returns.
// Суммы хранятся строками с двумя знаками, чтобы не терять точность.
func (n *CreditNote) Record(documentPath string) map[string]any {
	lines := make([]any, 0, len(n.Lines))
	for _, line := range n.Lines {
		lines = append(lines, map[string]any{
			"suborder_id": line.SubOrderID,
			"quantity":    line.Quantity,
			"amount":      line.Amount.StringFixed(2),
		})
	}

	rec := map[string]any{
		"credit_note_id": n.ID,
		"total_amount":   n.Total.StringFixed(2),
		"lines":          lines,
	}
	if n.Currency != "" {
		rec["currency"] = n.Currency
	}
	if n.Reason != "" {
		rec["reason"] = n.Reason
	}
	if n.IssuedAt != "" {
		rec["issued_at"] = n.IssuedAt
	}
	if documentPath != "" {
		rec["document_path"] = documentPath
	}
	return rec
}

// ParseCreditNotes разбирает пакет возвратов: [[...]], [...] или {"credit_notes": [...]}.
func ParseCreditNotes(body []byte) ([]Entry, error) {
	batch, err := decodeBatch(KindCreditNotes, body)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(batch))
	for i, obj := range batch {
		entries = append(entries, parseCreditNote(i, obj))
	}
	return entries, nil
}

func parseCreditNote(index int, obj map[string]any) Entry {
	orderID, rawID, err := parseID(obj["order_id"])
	if err != nil {
		return failedEntry(index, rawID, "кредит-нота #%d: %v", index, err)
	}

	note := &CreditNote{
		ID:       stringValue(obj, "credit_note_id"),
		OrderID:  orderID,
		Currency: strings.ToUpper(stringValue(obj, "currency")),
		Reason:   stringValue(obj, "reason"),
		IssuedAt: stringValue(obj, "issued_at"),
		Total:    decimal.Zero,
	}
	if note.ID == "" {
		return failedEntry(index, rawID, "кредит-нота заказа %d: отсутствует credit_note_id", orderID)
	}

	status, err := optionalString(obj, "order_status")
	if err != nil {
		return failedEntry(index, rawID, "кредит-нота %s: %v", note.ID, err)
	}
	desired := models.PartialOrder{OrderStatus: status}

	for _, lineObj := range objects(obj["lines"]) {
		line, err := parseCreditNoteLine(lineObj)
		if err != nil {
			return failedEntry(index, rawID, "кредит-нота %s: %v", note.ID, err)
		}
		note.Lines = append(note.Lines, line)
		note.Total = note.Total.Add(line.Amount)
		desired.Items = append(desired.Items, models.PartialSubOrder{
			SubOrderID: line.SubOrderID,
			ItemStatus: models.StringPtr(models.OrderStatusReturned),
		})
	}

	if rawTotal, ok := obj["total_amount"]; ok && rawTotal != nil {
		total, err := parseAmount(rawTotal)
		if err != nil {
			return failedEntry(index, rawID, "кредит-нота %s: total_amount: %v", note.ID, err)
		}
		note.Total = total
	}

	if doc := stringValue(obj, "document"); doc != "" {
		data, err := base64.StdEncoding.DecodeString(doc)
		if err != nil {
			return failedEntry(index, rawID, "кредит-нота %s: документ не в base64", note.ID)
		}
		if err := storage.ValidatePDF(data); err != nil {
			return failedEntry(index, rawID, "кредит-нота %s: %v", note.ID, err)
		}
		note.Document = data
	}

	return Entry{
		Index:      index,
		RawID:      rawID,
		OrderID:    orderID,
		Desired:    desired,
		ExtraPush:  map[string]any{ReturnsField: note.Record("")},
		CreditNote: note,
	}
}

func parseCreditNoteLine(obj map[string]any) (CreditNoteLine, error) {
	subOrderID, _, err := parseID(obj["suborder_id"])
	if err != nil {
		return CreditNoteLine{}, fmt.Errorf("позиция: %w", err)
	}

	line := CreditNoteLine{SubOrderID: subOrderID, Quantity: 1, Amount: decimal.Zero}
	if rawQty, ok := obj["quantity"]; ok && rawQty != nil {
		qty, _, err := parseID(rawQty)
		if err != nil {
			return CreditNoteLine{}, fmt.Errorf("позиция %d: количество: %w", subOrderID, err)
		}
		line.Quantity = qty
	}
	if rawAmount, ok := obj["amount"]; ok && rawAmount != nil {
		amount, err := parseAmount(rawAmount)
		if err != nil {
			return CreditNoteLine{}, fmt.Errorf("позиция %d: сумма: %w", subOrderID, err)
		}
		line.Amount = amount
	}
	return line, nil
}

func parseAmount(v any) (decimal.Decimal, error) {
	var raw string
	switch val := v.(type) {
	case json.Number:
		raw = val.String()
	case string:
		raw = strings.TrimSpace(strings.ReplaceAll(val, ",", "."))
	default:
		return decimal.Zero, fmt.Errorf("неподдерживаемый формат суммы %v", v)
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("некорректная сумма %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("сумма %s отрицательная", amount)
	}
	return amount, nil
}
