package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
	"github.com/ignatzorin/order-sync-gateway/internal/repository"
	"github.com/ignatzorin/order-sync-gateway/internal/validation"
)

const (
	defaultOrderListLimit = 20
	maxOrderListLimit     = 100
)

// ItemStatusOverride - ручная смена статуса позиции.
type ItemStatusOverride struct {
	SubOrderID int64
	ItemStatus string
}

// StatusOverrideInput - ручная смена статусов оператором.
type StatusOverrideInput struct {
	OrderStatus *string
	Items       []ItemStatusOverride
}

// OrderListResult - страница операторского списка.
type OrderListResult struct {
	Orders []models.Order
	Total  int
	Limit  int
	Offset int
}

// OrderService - операторские операции над заказами.
type OrderService struct {
	store repository.OrderStore
	sync  *OrderSyncService
}

// NewOrderService создаёт сервис.
func NewOrderService(store repository.OrderStore, sync *OrderSyncService) *OrderService {
	return &OrderService{store: store, sync: sync}
}

// GetOrder возвращает документ заказа.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.FindOne(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, apperror.ErrOrderNotFound
	}
	if err != nil {
		return nil, apperror.StorageUnavailable(fmt.Errorf("чтение заказа %d: %w", orderID, err))
	}
	return order, nil
}

// GetHistory возвращает журналы статусов заказа и его позиций.
func (s *OrderService) GetHistory(ctx context.Context, orderID int64) (*models.OrderHistory, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return models.NewOrderHistory(order), nil
}

// ListOrders возвращает страницу заказов, новые идентификаторы первыми.
func (s *OrderService) ListOrders(ctx context.Context, status string, limit, offset int) (*OrderListResult, error) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	if limit > maxOrderListLimit {
		limit = maxOrderListLimit
	}
	if offset < 0 {
		offset = 0
	}

	orders, total, err := s.store.List(ctx, repository.OrderFilter{
		Status: strings.TrimSpace(status),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, apperror.StorageUnavailable(fmt.Errorf("список заказов: %w", err))
	}
	return &OrderListResult{Orders: orders, Total: total, Limit: limit, Offset: offset}, nil
}

// OverrideStatus вручную меняет статусы существующего заказа.
// Запись в журнале получает источник operator:<username>.
func (s *OrderService) OverrideStatus(ctx context.Context, orderID int64, username string, in StatusOverrideInput) (*models.SyncResult, error) {
	if in.OrderStatus == nil && len(in.Items) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "не указан ни один статус")
	}
	if in.OrderStatus != nil {
		if err := validation.ValidateStatus("статус заказа", *in.OrderStatus); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
		}
	}

	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	desired := models.PartialOrder{OrderStatus: in.OrderStatus}
	for _, item := range in.Items {
		if err := validation.ValidateStatus(fmt.Sprintf("статус позиции %d", item.SubOrderID), item.ItemStatus); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
		}
		status := item.ItemStatus
		desired.Items = append(desired.Items, models.PartialSubOrder{
			SubOrderID: item.SubOrderID,
			ItemStatus: &status,
		})
	}

	source := models.SourceOperatorPrefix + username
	result, err := s.sync.Sync(ctx, orderID, desired, source, SyncOptions{})
	if err != nil {
		return nil, err
	}

	logger.WithOrder(orderID, source).
		WithField("action", result.Action).
		Info("Статус заказа изменён оператором")
	return result, nil
}
