package models

// OrderHistory - представление журналов заказа для операторского API.
type OrderHistory struct {
	OrderID       int64             `json:"order_id"`
	OrderStatus   string            `json:"order_status"`
	StatusHistory []StatusChange    `json:"status_history"`
	Items         []SubOrderHistory `json:"items"`
}

// SubOrderHistory - журнал одной позиции.
type SubOrderHistory struct {
	SubOrderID    int64          `json:"suborder_id"`
	ItemStatus    string         `json:"item_status"`
	StatusHistory []StatusChange `json:"status_history"`
}

// NewOrderHistory собирает журналы из документа заказа.
func NewOrderHistory(order *Order) *OrderHistory {
	history := &OrderHistory{
		OrderID:       order.OrderID,
		OrderStatus:   order.OrderStatus,
		StatusHistory: cloneHistory(order.StatusHistory),
		Items:         make([]SubOrderHistory, 0, len(order.SubItems)),
	}
	for _, item := range order.SubItems {
		history.Items = append(history.Items, SubOrderHistory{
			SubOrderID:    item.SubOrderID,
			ItemStatus:    item.ItemStatus,
			StatusHistory: cloneHistory(item.StatusHistory),
		})
	}
	return history
}
