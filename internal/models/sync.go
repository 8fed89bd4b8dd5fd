package models

import "encoding/json"

// SyncAction описывает итог синхронизации заказа.
type SyncAction string

const (
	SyncActionInserted SyncAction = "inserted"
	SyncActionUpdated  SyncAction = "updated"
	SyncActionNoChange SyncAction = "no_change"
)

// PartialOrder - желаемое состояние заказа, пришедшее из вебхука.
// Nil-статус означает «статус не передан», а не пустую строку.
type PartialOrder struct {
	OrderStatus *string
	Items       []PartialSubOrder
	// Fields вливаются в документ только при создании заказа.
	Fields map[string]any
}

// PartialSubOrder - желаемое состояние позиции.
type PartialSubOrder struct {
	SubOrderID   int64
	ItemStatus   *string
	TrackingData json.RawMessage
	Fields       map[string]any
}

// FieldChange фиксирует одно применённое изменение поля.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new"`
}

// SyncResult возвращается синхронизатором на каждый вызов.
type SyncResult struct {
	OrderID int64         `json:"order_id"`
	Action  SyncAction    `json:"action"`
	Changes []FieldChange `json:"changes,omitempty"`
}

// StatusChanged сообщает, менялся ли статус заказа или какой-либо позиции.
func (r *SyncResult) StatusChanged() bool {
	if r == nil {
		return false
	}
	for _, change := range r.Changes {
		if change.Field == FieldOrderStatus || IsItemStatusField(change.Field) {
			return true
		}
	}
	return false
}

// StringPtr - помощник для построения PartialOrder.
func StringPtr(s string) *string {
	return &s
}
