package repository

import (
	"context"
	"fmt"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/repository/common"
)

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound      = fmt.Errorf("order: %w", common.ErrNotFound)
	ErrOrderAlreadyExists = fmt.Errorf("order: %w", common.ErrAlreadyExists)
)

// ReplaceResult - итог условной замены документа.
// Matched=false означает, что документ изменили после чтения (ревизия не совпала).
type ReplaceResult struct {
	Matched bool
}

// OrderFilter задаёт выборку для операторского списка.
type OrderFilter struct {
	Status string
	Limit  int
	Offset int
}

// OrderStore - хранилище документов заказов (order_id → документ).
type OrderStore interface {
	// FindOne возвращает ErrOrderNotFound, если заказа нет.
	FindOne(ctx context.Context, orderID int64) (*models.Order, error)
	// InsertOne возвращает ErrOrderAlreadyExists при гонке создания.
	InsertOne(ctx context.Context, order *models.Order) (int64, error)
	// ReplaceOne заменяет документ целиком при совпадении StorageID и Revision.
	ReplaceOne(ctx context.Context, order *models.Order) (ReplaceResult, error)
	List(ctx context.Context, filter OrderFilter) ([]models.Order, int, error)
	Ping(ctx context.Context) error
}
