package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Известные статусы заказов. Словарь открытый: платформы присылают и другие значения.
const (
	OrderStatusCreated   = "Created"
	OrderStatusConfirmed = "Confirmed"
	OrderStatusShipped   = "Shipped"
	OrderStatusDelivered = "Delivered"
	OrderStatusCancelled = "Cancelled"
	OrderStatusReturned  = "Returned"
)

// Имена полей в списке изменений SyncResult.
const (
	FieldOrderStatus = "order_status"
	FieldItemStatus  = "item_status"
)

// Платформы-источники вебхуков.
const (
	PlatformMarketplace = "marketplace"
	PlatformLogistics   = "logistics"
)

// Теги источника для журнала статусов.
const (
	SourceMarketplaceOrders  = "marketplace-orders"
	SourceMarketplaceReturns = "marketplace-returns"
	SourceLogisticsShipments = "logistics-shipments"
	SourceReconcile          = "reconcile"
	SourceOperatorPrefix     = "operator:"
	CreatedBySourcePrefix    = "created-by-"
)

// ItemStatusField возвращает имя поля статуса позиции для списка изменений.
func ItemStatusField(subOrderID int64) string {
	return fmt.Sprintf("order_items[%d].%s", subOrderID, FieldItemStatus)
}

// IsItemStatusField проверяет, относится ли поле к статусу позиции.
func IsItemStatusField(field string) bool {
	return strings.HasPrefix(field, "order_items[") && strings.HasSuffix(field, "]."+FieldItemStatus)
}

// ParseItemStatusField извлекает идентификатор позиции из имени поля статуса.
func ParseItemStatusField(field string) (int64, bool) {
	if !IsItemStatusField(field) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(field, "order_items["), "]."+FieldItemStatus)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// OriginPlatform возвращает платформу, от которой пришло изменение, или пустую строку.
func OriginPlatform(source string) string {
	source = strings.TrimPrefix(source, CreatedBySourcePrefix)
	switch {
	case strings.HasPrefix(source, PlatformMarketplace+"-"), source == SourceReconcile:
		return PlatformMarketplace
	case strings.HasPrefix(source, PlatformLogistics+"-"):
		return PlatformLogistics
	default:
		return ""
	}
}
