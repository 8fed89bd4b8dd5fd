package webhook

import (
	"encoding/json"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
)

// Пути в документе заказа, куда пишутся данные отправления.
const (
	ShipmentCarrierPath        = "shipment.carrier"
	ShipmentTrackingNumberPath = "shipment.tracking_number"
)

// ParseShipments разбирает пакет службы доставки: массив или {"shipments": [...]}.
// Статус отправления применяется ко всем его позициям, если у позиции нет своего.
func ParseShipments(body []byte) ([]Entry, error) {
	batch, err := decodeBatch(KindShipments, body)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(batch))
	for i, obj := range batch {
		entries = append(entries, parseShipment(i, obj))
	}
	return entries, nil
}

func parseShipment(index int, obj map[string]any) Entry {
	orderID, rawID, err := parseID(obj["order_id"])
	if err != nil {
		return failedEntry(index, rawID, "отправление #%d: %v", index, err)
	}

	shipmentStatus, err := optionalString(obj, "status")
	if err != nil {
		return failedEntry(index, rawID, "отправление заказа %d: %v", orderID, err)
	}
	orderStatus, err := optionalString(obj, "order_status")
	if err != nil {
		return failedEntry(index, rawID, "отправление заказа %d: %v", orderID, err)
	}

	carrier := stringValue(obj, "carrier")
	trackingNumber := stringValue(obj, "tracking_number")

	tracking := map[string]any{}
	if carrier != "" {
		tracking["carrier"] = carrier
	}
	if trackingNumber != "" {
		tracking["tracking_number"] = trackingNumber
	}
	if events, ok := obj["events"]; ok && events != nil {
		tracking["events"] = events
	}
	if url := stringValue(obj, "tracking_url"); url != "" {
		tracking["tracking_url"] = url
	}

	var trackingData json.RawMessage
	if len(tracking) > 0 {
		raw, err := json.Marshal(tracking)
		if err != nil {
			return failedEntry(index, rawID, "отправление заказа %d: %v", orderID, err)
		}
		trackingData = raw
	}

	desired := models.PartialOrder{OrderStatus: orderStatus}
	for _, item := range objects(obj["items"]) {
		partial, err := parseSubOrder(item, "status")
		if err != nil {
			return failedEntry(index, rawID, "отправление заказа %d: %v", orderID, err)
		}
		if partial.ItemStatus == nil {
			partial.ItemStatus = shipmentStatus
		}
		if partial.TrackingData == nil {
			partial.TrackingData = trackingData
		}
		desired.Items = append(desired.Items, partial)
	}

	extraSet := map[string]any{}
	if carrier != "" {
		extraSet[ShipmentCarrierPath] = carrier
	}
	if trackingNumber != "" {
		extraSet[ShipmentTrackingNumberPath] = trackingNumber
	}
	if len(extraSet) == 0 {
		extraSet = nil
	}

	return Entry{
		Index:    index,
		RawID:    rawID,
		OrderID:  orderID,
		Desired:  desired,
		ExtraSet: extraSet,
	}
}
