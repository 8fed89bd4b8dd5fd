package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/locker"
	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
	"github.com/ignatzorin/order-sync-gateway/internal/repository"
)

const defaultSyncMaxRetries = 3

// SyncOptions - дополнительные изменения документа помимо статусов.
type SyncOptions struct {
	// ExtraSet: путь через точку → значение, присваивается без истории.
	ExtraSet map[string]any
	// ExtraPush: путь через точку → значение, дописывается в последовательность.
	ExtraPush map[string]any
}

// SyncListener получает уведомление после каждой успешной записи.
// Вызывается синхронно, поэтому реализация не должна блокироваться.
type SyncListener interface {
	OrderSynced(ctx context.Context, order *models.Order, result *models.SyncResult, source string)
}

// OrderSyncService сводит входящее состояние заказа с сохранённым документом.
type OrderSyncService struct {
	store      repository.OrderStore
	locker     locker.Locker
	maxRetries int
	now        func() time.Time
	listeners  []SyncListener
}

// NewOrderSyncService создаёт синхронизатор. Если locker равен nil,
// используется блокировка внутри процесса.
func NewOrderSyncService(store repository.OrderStore, l locker.Locker, maxRetries int) *OrderSyncService {
	if l == nil {
		l = locker.NewKeyedMutex()
	}
	if maxRetries < 0 {
		maxRetries = defaultSyncMaxRetries
	}
	return &OrderSyncService{
		store:      store,
		locker:     l,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// SetClock подменяет источник времени.
func (s *OrderSyncService) SetClock(now func() time.Time) {
	s.now = now
}

// AddListener подписывает получателя событий синхронизации.
func (s *OrderSyncService) AddListener(l SyncListener) {
	s.listeners = append(s.listeners, l)
}

// Sync приводит сохранённый заказ к желаемому состоянию одной записью в хранилище.
func (s *OrderSyncService) Sync(ctx context.Context, orderID int64, desired models.PartialOrder, source string, opts SyncOptions) (*models.SyncResult, error) {
	if orderID <= 0 {
		return nil, apperror.MalformedState("некорректный идентификатор заказа %d", orderID)
	}
	if source == "" {
		return nil, apperror.MalformedState("не указан источник синхронизации заказа %d", orderID)
	}

	desired, opts, err := normalizeInput(desired, opts)
	if err != nil {
		return nil, err
	}

	log := logger.WithOrder(orderID, source)

	unlock, err := s.locker.Lock(ctx, strconv.FormatInt(orderID, 10))
	if err != nil {
		return nil, apperror.StorageUnavailable(fmt.Errorf("блокировка заказа %d: %w", orderID, err))
	}

	var (
		result *models.SyncResult
		saved  *models.Order
	)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		var retry bool
		result, saved, retry, err = s.syncOnce(ctx, orderID, desired, source, opts)
		if err != nil || !retry {
			break
		}
		log.WithField("attempt", attempt+1).Warn("Заказ изменён параллельно, повторяем синхронизацию")
		result = nil
	}
	unlock()

	if err != nil {
		return nil, err
	}
	if result == nil {
		log.Error("Не удалось синхронизировать заказ: исчерпаны повторы")
		return nil, apperror.ErrSyncConflict
	}

	log.WithFields(logrus.Fields{
		"action":  result.Action,
		"changes": len(result.Changes),
	}).Debug("Заказ синхронизирован")

	if saved != nil {
		for _, l := range s.listeners {
			l.OrderSynced(ctx, saved, result, source)
		}
	}
	return result, nil
}

// syncOnce выполняет один цикл чтение → изменение → запись.
// retry=true означает, что запись проиграла гонку и цикл нужно повторить.
func (s *OrderSyncService) syncOnce(ctx context.Context, orderID int64, desired models.PartialOrder, source string, opts SyncOptions) (*models.SyncResult, *models.Order, bool, error) {
	stored, err := s.store.FindOne(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return s.create(ctx, orderID, desired, source, opts)
	}
	if err != nil {
		return nil, nil, false, apperror.StorageUnavailable(fmt.Errorf("чтение заказа %d: %w", orderID, err))
	}
	return s.update(ctx, stored, desired, source, opts)
}

func (s *OrderSyncService) create(ctx context.Context, orderID int64, desired models.PartialOrder, source string, opts SyncOptions) (*models.SyncResult, *models.Order, bool, error) {
	now := s.now().UTC()
	createdBy := models.CreatedBySourcePrefix + source

	status := models.OrderStatusCreated
	if desired.OrderStatus != nil {
		status = *desired.OrderStatus
	}

	order := &models.Order{
		OrderID:       orderID,
		OrderStatus:   status,
		StatusHistory: []models.StatusChange{models.InitialStatusChange(status, createdBy, now)},
		SubItems:      []models.SubOrder{},
		CreatedAt:     now,
		LastUpdated:   now,
	}
	changes := []models.FieldChange{{Field: models.FieldOrderStatus, New: status}}

	for key, value := range desired.Fields {
		if models.IsReservedOrderKey(key) {
			continue
		}
		if order.Extra == nil {
			order.Extra = make(map[string]any)
		}
		order.Extra[key] = value
	}

	for _, partial := range desired.Items {
		if existing := order.FindSubOrder(partial.SubOrderID); existing != nil {
			changes = append(changes, mergeSubOrder(existing, partial, createdBy, now)...)
			continue
		}

		itemStatus := status
		if partial.ItemStatus != nil {
			itemStatus = *partial.ItemStatus
		}
		item := models.SubOrder{
			SubOrderID:    partial.SubOrderID,
			ItemStatus:    itemStatus,
			StatusHistory: []models.StatusChange{models.InitialStatusChange(itemStatus, createdBy, now)},
			TrackingData:  partial.TrackingData,
		}
		for key, value := range partial.Fields {
			if item.Extra == nil {
				item.Extra = make(map[string]any)
			}
			item.Extra[key] = value
		}
		order.SubItems = append(order.SubItems, item)
		changes = append(changes, models.FieldChange{Field: models.ItemStatusField(item.SubOrderID), New: itemStatus})
	}

	extraChanges, _, err := applyExtra(order, opts)
	if err != nil {
		return nil, nil, false, err
	}
	changes = append(changes, extraChanges...)

	if err := ctx.Err(); err != nil {
		return nil, nil, false, apperror.StorageUnavailable(fmt.Errorf("создание заказа %d: %w", orderID, err))
	}
	if _, err := s.store.InsertOne(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyExists) {
			return nil, nil, true, nil
		}
		return nil, nil, false, apperror.StorageUnavailable(fmt.Errorf("создание заказа %d: %w", orderID, err))
	}

	return &models.SyncResult{OrderID: orderID, Action: models.SyncActionInserted, Changes: changes}, order, false, nil
}

func (s *OrderSyncService) update(ctx context.Context, stored *models.Order, desired models.PartialOrder, source string, opts SyncOptions) (*models.SyncResult, *models.Order, bool, error) {
	now := s.now().UTC()
	order := stored.Clone()
	var changes []models.FieldChange

	if desired.OrderStatus != nil && *desired.OrderStatus != order.OrderStatus {
		changes = append(changes, models.FieldChange{Field: models.FieldOrderStatus, Old: order.OrderStatus, New: *desired.OrderStatus})
		order.AppendStatus(*desired.OrderStatus, source, now)
	}

	for _, partial := range desired.Items {
		item := order.FindSubOrder(partial.SubOrderID)
		if item == nil {
			// Новые позиции появляются только при создании заказа.
			logger.WithOrder(order.OrderID, source).
				WithField("suborder_id", partial.SubOrderID).
				Debug("Позиция не найдена в заказе, пропускаем")
			continue
		}
		changes = append(changes, mergeSubOrder(item, partial, source, now)...)
	}

	extraChanges, pushed, err := applyExtra(order, opts)
	if err != nil {
		return nil, nil, false, err
	}
	changes = append(changes, extraChanges...)

	if len(changes) == 0 && !pushed {
		return &models.SyncResult{OrderID: order.OrderID, Action: models.SyncActionNoChange}, nil, false, nil
	}

	order.LastUpdated = nextTimestamp(stored.LastUpdated, now)

	// Отменённый запрос не должен оставлять в хранилище частичный результат.
	if err := ctx.Err(); err != nil {
		return nil, nil, false, apperror.StorageUnavailable(fmt.Errorf("замена заказа %d: %w", order.OrderID, err))
	}
	res, err := s.store.ReplaceOne(ctx, order)
	if err != nil {
		return nil, nil, false, apperror.StorageUnavailable(fmt.Errorf("замена заказа %d: %w", order.OrderID, err))
	}
	if !res.Matched {
		return nil, nil, true, nil
	}

	return &models.SyncResult{OrderID: order.OrderID, Action: models.SyncActionUpdated, Changes: changes}, order, false, nil
}

// mergeSubOrder применяет частичное состояние к существующей позиции.
// Статус попадает в историю только при реальном изменении, прочие поля перезаписываются.
func mergeSubOrder(item *models.SubOrder, partial models.PartialSubOrder, source string, now time.Time) []models.FieldChange {
	var changes []models.FieldChange
	prefix := fmt.Sprintf("order_items[%d].", item.SubOrderID)

	if partial.ItemStatus != nil && *partial.ItemStatus != item.ItemStatus {
		changes = append(changes, models.FieldChange{Field: models.ItemStatusField(item.SubOrderID), Old: item.ItemStatus, New: *partial.ItemStatus})
		item.AppendStatus(*partial.ItemStatus, source, now)
	}

	if len(partial.TrackingData) > 0 && !models.JSONEqual(item.TrackingData, partial.TrackingData) {
		changes = append(changes, models.FieldChange{Field: prefix + "tracking_data", Old: item.TrackingData, New: partial.TrackingData})
		item.TrackingData = append(json.RawMessage(nil), partial.TrackingData...)
	}

	for _, key := range sortedKeys(partial.Fields) {
		value := partial.Fields[key]
		old, exists := item.Extra[key]
		if exists && models.JSONEqual(old, value) {
			continue
		}
		if item.Extra == nil {
			item.Extra = make(map[string]any)
		}
		item.Extra[key] = value
		changes = append(changes, models.FieldChange{Field: prefix + key, Old: old, New: value})
	}
	return changes
}

// applyExtra выполняет ExtraSet и ExtraPush в порядке сортировки путей.
// pushed=true, если была хотя бы одна дозапись: она всегда меняет документ.
func applyExtra(order *models.Order, opts SyncOptions) ([]models.FieldChange, bool, error) {
	if len(opts.ExtraSet) == 0 && len(opts.ExtraPush) == 0 {
		return nil, false, nil
	}
	if order.Extra == nil {
		order.Extra = make(map[string]any)
	}

	var changes []models.FieldChange
	for _, path := range sortedKeys(opts.ExtraSet) {
		value := opts.ExtraSet[path]
		old, changed, err := setFieldPath(order.Extra, path, value)
		if err != nil {
			return nil, false, err
		}
		if changed {
			changes = append(changes, models.FieldChange{Field: path, Old: old, New: value})
		}
	}

	pushed := false
	for _, path := range sortedKeys(opts.ExtraPush) {
		value := opts.ExtraPush[path]
		if _, err := pushFieldPath(order.Extra, path, value); err != nil {
			return nil, false, err
		}
		changes = append(changes, models.FieldChange{Field: path, New: value})
		pushed = true
	}
	return changes, pushed, nil
}

// nextTimestamp гарантирует строго возрастающий last_updated даже при отстающих часах.
func nextTimestamp(previous, now time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Microsecond)
}

// normalizeInput проверяет входные данные и приводит произвольные значения
// к JSON-виду, чтобы сравнение с сохранённым документом было корректным.
func normalizeInput(desired models.PartialOrder, opts SyncOptions) (models.PartialOrder, SyncOptions, error) {
	var err error
	out := models.PartialOrder{OrderStatus: desired.OrderStatus}

	if out.Fields, err = normalizeFields(desired.Fields); err != nil {
		return out, opts, err
	}

	out.Items = make([]models.PartialSubOrder, 0, len(desired.Items))
	for _, item := range desired.Items {
		if item.SubOrderID <= 0 {
			return out, opts, apperror.MalformedState("некорректный идентификатор позиции %d", item.SubOrderID)
		}
		if len(item.TrackingData) > 0 && !json.Valid(item.TrackingData) {
			return out, opts, apperror.MalformedState("tracking_data позиции %d не является JSON", item.SubOrderID)
		}
		for key := range item.Fields {
			if models.IsReservedSubOrderKey(key) {
				return out, opts, apperror.MalformedState("поле позиции %q управляется синхронизатором", key)
			}
		}
		fields, err := normalizeFields(item.Fields)
		if err != nil {
			return out, opts, err
		}
		item.Fields = fields
		out.Items = append(out.Items, item)
	}

	normalized := SyncOptions{}
	if normalized.ExtraSet, err = normalizeFields(opts.ExtraSet); err != nil {
		return out, opts, err
	}
	if normalized.ExtraPush, err = normalizeFields(opts.ExtraPush); err != nil {
		return out, opts, err
	}
	return out, normalized, nil
}

func normalizeFields(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		normalized, err := models.NormalizeValue(value)
		if err != nil {
			return nil, apperror.MalformedState("значение поля %q не сериализуется в JSON: %v", key, err)
		}
		out[key] = normalized
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
