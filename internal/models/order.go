package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Зарезервированные ключи документа заказа. Всё остальное хранится в Extra.
var orderReservedKeys = map[string]struct{}{
	"order_id":       {},
	"order_status":   {},
	"status_history": {},
	"order_items":    {},
	"created_at":     {},
	"last_updated":   {},
}

var subOrderReservedKeys = map[string]struct{}{
	"suborder_id":    {},
	"item_status":    {},
	"status_history": {},
	"tracking_data":  {},
}

// IsReservedOrderKey сообщает, управляется ли поле верхнего уровня синхронизатором.
func IsReservedOrderKey(key string) bool {
	_, ok := orderReservedKeys[key]
	return ok
}

// IsReservedSubOrderKey - то же для полей позиции.
func IsReservedSubOrderKey(key string) bool {
	_, ok := subOrderReservedKeys[key]
	return ok
}

// StatusChange - неизменяемая запись журнала статусов.
// OldStatus равен nil только у первой записи созданного заказа или подзаказа.
type StatusChange struct {
	OldStatus *string   `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Order описывает документ заказа в хранилище.
type Order struct {
	OrderID       int64
	OrderStatus   string
	StatusHistory []StatusChange
	SubItems      []SubOrder
	CreatedAt     time.Time
	LastUpdated   time.Time
	// Extra хранит произвольные поля платформ (трекинг, возвраты, покупатель) без изменений.
	Extra map[string]any

	// StorageID и Revision принадлежат хранилищу и в документ не попадают.
	StorageID int64
	Revision  int64
}

// SubOrder - позиция заказа со своим журналом статусов.
type SubOrder struct {
	SubOrderID    int64
	ItemStatus    string
	StatusHistory []StatusChange
	TrackingData  json.RawMessage
	Extra         map[string]any
}

// FindSubOrder возвращает позицию по идентификатору или nil.
func (o *Order) FindSubOrder(subOrderID int64) *SubOrder {
	for i := range o.SubItems {
		if o.SubItems[i].SubOrderID == subOrderID {
			return &o.SubItems[i]
		}
	}
	return nil
}

// AppendStatus добавляет запись в журнал и переключает статус заказа.
func (o *Order) AppendStatus(newStatus, source string, at time.Time) {
	o.StatusHistory = append(o.StatusHistory, newStatusChange(o.OrderStatus, newStatus, source, at))
	o.OrderStatus = newStatus
}

// AppendStatus добавляет запись в журнал позиции и переключает её статус.
func (s *SubOrder) AppendStatus(newStatus, source string, at time.Time) {
	s.StatusHistory = append(s.StatusHistory, newStatusChange(s.ItemStatus, newStatus, source, at))
	s.ItemStatus = newStatus
}

func newStatusChange(oldStatus, newStatus, source string, at time.Time) StatusChange {
	old := oldStatus
	return StatusChange{
		OldStatus: &old,
		NewStatus: newStatus,
		Timestamp: at,
		Source:    source,
	}
}

// InitialStatusChange формирует первую запись журнала (old_status = null).
func InitialStatusChange(status, source string, at time.Time) StatusChange {
	return StatusChange{
		NewStatus: status,
		Timestamp: at,
		Source:    source,
	}
}

// Clone возвращает независимую глубокую копию заказа.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.StatusHistory = cloneHistory(o.StatusHistory)
	cp.Extra = CloneFields(o.Extra)
	if o.SubItems != nil {
		cp.SubItems = make([]SubOrder, len(o.SubItems))
		for i, item := range o.SubItems {
			cp.SubItems[i] = item.clone()
		}
	}
	return &cp
}

func (s SubOrder) clone() SubOrder {
	cp := s
	cp.StatusHistory = cloneHistory(s.StatusHistory)
	cp.Extra = CloneFields(s.Extra)
	if s.TrackingData != nil {
		cp.TrackingData = append(json.RawMessage(nil), s.TrackingData...)
	}
	return cp
}

func cloneHistory(in []StatusChange) []StatusChange {
	if in == nil {
		return nil
	}
	out := make([]StatusChange, len(in))
	for i, entry := range in {
		out[i] = entry
		if entry.OldStatus != nil {
			old := *entry.OldStatus
			out[i].OldStatus = &old
		}
	}
	return out
}

// CloneFields делает глубокую копию JSON-подобного словаря.
func CloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue копирует вложенные map/slice; скалярные значения неизменяемы и возвращаются как есть.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), val...)
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}

// JSONEqual сравнивает значения по смыслу: оба приводятся через NormalizeValue,
// поэтому порядок ключей в json.RawMessage (JSONB хранит его по-своему) не важен.
// json.Number("5") и int(5) считаются равными.
func JSONEqual(a, b any) bool {
	left, errA := canonicalJSON(a)
	right, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func canonicalJSON(v any) ([]byte, error) {
	normalized, err := NormalizeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// MarshalJSON разворачивает Extra в документ верхнего уровня.
func (o Order) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(o.Extra)+len(orderReservedKeys))
	for k, v := range o.Extra {
		if _, reserved := orderReservedKeys[k]; reserved {
			continue
		}
		doc[k] = v
	}

	history := o.StatusHistory
	if history == nil {
		history = []StatusChange{}
	}
	items := o.SubItems
	if items == nil {
		items = []SubOrder{}
	}

	doc["order_id"] = o.OrderID
	doc["order_status"] = o.OrderStatus
	doc["status_history"] = history
	doc["order_items"] = items
	doc["created_at"] = o.CreatedAt
	doc["last_updated"] = o.LastUpdated
	return json.Marshal(doc)
}

// UnmarshalJSON собирает заказ из документа, неизвестные поля уходят в Extra.
func (o *Order) UnmarshalJSON(data []byte) error {
	var known struct {
		OrderID       int64          `json:"order_id"`
		OrderStatus   string         `json:"order_status"`
		StatusHistory []StatusChange `json:"status_history"`
		SubItems      []SubOrder     `json:"order_items"`
		CreatedAt     time.Time      `json:"created_at"`
		LastUpdated   time.Time      `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("models: некорректный документ заказа: %w", err)
	}

	extra, err := decodeExtra(data, orderReservedKeys)
	if err != nil {
		return err
	}

	*o = Order{
		OrderID:       known.OrderID,
		OrderStatus:   known.OrderStatus,
		StatusHistory: known.StatusHistory,
		SubItems:      known.SubItems,
		CreatedAt:     known.CreatedAt,
		LastUpdated:   known.LastUpdated,
		Extra:         extra,
		StorageID:     o.StorageID,
		Revision:      o.Revision,
	}
	return nil
}

// MarshalJSON разворачивает Extra позиции.
func (s SubOrder) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+len(subOrderReservedKeys))
	for k, v := range s.Extra {
		if _, reserved := subOrderReservedKeys[k]; reserved {
			continue
		}
		doc[k] = v
	}

	history := s.StatusHistory
	if history == nil {
		history = []StatusChange{}
	}

	doc["suborder_id"] = s.SubOrderID
	doc["item_status"] = s.ItemStatus
	doc["status_history"] = history
	if len(s.TrackingData) > 0 {
		doc["tracking_data"] = s.TrackingData
	}
	return json.Marshal(doc)
}

// UnmarshalJSON собирает позицию из документа.
func (s *SubOrder) UnmarshalJSON(data []byte) error {
	var known struct {
		SubOrderID    int64           `json:"suborder_id"`
		ItemStatus    string          `json:"item_status"`
		StatusHistory []StatusChange  `json:"status_history"`
		TrackingData  json.RawMessage `json:"tracking_data"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("models: некорректный документ позиции: %w", err)
	}

	extra, err := decodeExtra(data, subOrderReservedKeys)
	if err != nil {
		return err
	}

	*s = SubOrder{
		SubOrderID:    known.SubOrderID,
		ItemStatus:    known.ItemStatus,
		StatusHistory: known.StatusHistory,
		Extra:         extra,
	}
	if len(known.TrackingData) > 0 && !bytes.Equal(known.TrackingData, []byte("null")) {
		s.TrackingData = known.TrackingData
	}
	return nil
}

// decodeExtra читает незарезервированные поля с json.Number, чтобы числа не теряли точность.
func decodeExtra(data []byte, reserved map[string]struct{}) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("models: некорректный документ: %w", err)
	}

	var extra map[string]any
	for k, v := range raw {
		if _, ok := reserved[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra, nil
}

// NormalizeValue приводит значение к виду, в котором оно вернётся из хранилища:
// map[string]any, []any, json.Number, string, bool или nil.
func NormalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
