package webhook

import (
	"encoding/json"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
)

// ParseOrders разбирает пакет заказов маркетплейса: массив или {"orders": [...]}.
func ParseOrders(body []byte) ([]Entry, error) {
	batch, err := decodeBatch(KindOrders, body)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(batch))
	for i, obj := range batch {
		entries = append(entries, parseOrder(i, obj))
	}
	return entries, nil
}

func parseOrder(index int, obj map[string]any) Entry {
	orderID, rawID, err := parseID(obj["order_id"])
	if err != nil {
		return failedEntry(index, rawID, "заказ #%d: %v", index, err)
	}

	status, err := optionalString(obj, "order_status")
	if err != nil {
		return failedEntry(index, rawID, "заказ %d: %v", orderID, err)
	}

	desired := models.PartialOrder{
		OrderStatus: status,
		Fields:      restFields(obj, "order_id", "order_status", "order_items", "status_history", "created_at", "last_updated"),
	}

	for _, item := range objects(obj["order_items"]) {
		partial, err := parseSubOrder(item, "item_status")
		if err != nil {
			return failedEntry(index, rawID, "заказ %d: %v", orderID, err)
		}
		desired.Items = append(desired.Items, partial)
	}

	return Entry{Index: index, RawID: rawID, OrderID: orderID, Desired: desired}
}

// parseSubOrder разбирает позицию; statusKey задаёт имя поля статуса в конкретном формате.
func parseSubOrder(obj map[string]any, statusKey string) (models.PartialSubOrder, error) {
	subOrderID, _, err := parseID(obj["suborder_id"])
	if err != nil {
		return models.PartialSubOrder{}, err
	}
	status, err := optionalString(obj, statusKey)
	if err != nil {
		return models.PartialSubOrder{}, err
	}

	partial := models.PartialSubOrder{
		SubOrderID: subOrderID,
		ItemStatus: status,
		Fields:     restFields(obj, "suborder_id", statusKey, "item_status", "status_history", "tracking_data"),
	}
	if tracking, ok := obj["tracking_data"]; ok && tracking != nil {
		raw, err := json.Marshal(tracking)
		if err != nil {
			return models.PartialSubOrder{}, err
		}
		partial.TrackingData = raw
	}
	return partial, nil
}
