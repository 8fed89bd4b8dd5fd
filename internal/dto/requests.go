package dto

// LoginRequest represents operator credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// StatusOverrideRequest represents a manual status change by an operator
type StatusOverrideRequest struct {
	OrderStatus *string             `json:"order_status"`
	Items       []ItemStatusRequest `json:"items" binding:"omitempty,dive"`
}

// ItemStatusRequest represents a manual status change of a single sub-order
type ItemStatusRequest struct {
	SubOrderID int64  `json:"suborder_id" binding:"required,gt=0"`
	ItemStatus string `json:"item_status" binding:"required"`
}

// ReconcileRequest limits reconciliation to orders with the given upstream status
type ReconcileRequest struct {
	Status string `json:"status"`
}
