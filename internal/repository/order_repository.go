package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/repository/common"
)

const ordersTable = "orders"

// orderRow - строка таблицы orders: документ заказа в JSONB плюс служебные колонки.
type orderRow struct {
	ID        int64     `db:"id"`
	OrderID   int64     `db:"order_id"`
	Document  []byte    `db:"document"`
	Revision  int64     `db:"revision"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r orderRow) toModel() (*models.Order, error) {
	order := &models.Order{StorageID: r.ID, Revision: r.Revision}
	if err := json.Unmarshal(r.Document, order); err != nil {
		return nil, fmt.Errorf("order repository: decode document %d: %w", r.OrderID, err)
	}
	order.StorageID = r.ID
	order.Revision = r.Revision
	return order, nil
}

// PostgresOrderStore хранит документы заказов в PostgreSQL.
type PostgresOrderStore struct {
	db *sqlx.DB
}

// NewPostgresOrderStore создаёт новый экземпляр.
func NewPostgresOrderStore(db *sqlx.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

// FindOne возвращает заказ по идентификатору платформы.
func (r *PostgresOrderStore) FindOne(ctx context.Context, orderID int64) (*models.Order, error) {
	row, err := common.GetByField[orderRow](ctx, r.db, ordersTable, "order_id", orderID, ErrOrderNotFound)
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// InsertOne сохраняет новый документ и возвращает его идентификатор в хранилище.
func (r *PostgresOrderStore) InsertOne(ctx context.Context, order *models.Order) (int64, error) {
	doc, err := json.Marshal(order)
	if err != nil {
		return 0, fmt.Errorf("order repository: encode document %w", err)
	}

	query := `
		INSERT INTO orders (order_id, document, revision)
		VALUES ($1, $2, 1)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowxContext(ctx, query, order.OrderID, string(doc)).Scan(&id); err != nil {
		if common.IsUniqueViolation(err) {
			return 0, ErrOrderAlreadyExists
		}
		return 0, fmt.Errorf("order repository: insert %w", err)
	}

	order.StorageID = id
	order.Revision = 1
	return id, nil
}

// ReplaceOne заменяет документ, только если ревизия не изменилась с момента чтения.
func (r *PostgresOrderStore) ReplaceOne(ctx context.Context, order *models.Order) (ReplaceResult, error) {
	doc, err := json.Marshal(order)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("order repository: encode document %w", err)
	}

	query := `
		UPDATE orders
		SET document = $1, revision = revision + 1, updated_at = NOW()
		WHERE id = $2 AND revision = $3
	`
	res, err := r.db.ExecContext(ctx, query, string(doc), order.StorageID, order.Revision)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("order repository: replace %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("order repository: replace rows affected %w", err)
	}
	if affected == 0 {
		return ReplaceResult{Matched: false}, nil
	}

	order.Revision++
	return ReplaceResult{Matched: true}, nil
}

// List возвращает страницу заказов и общее количество.
func (r *PostgresOrderStore) List(ctx context.Context, filter OrderFilter) ([]models.Order, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM orders WHERE ($1 = '' OR document->>'order_status' = $1)`
	if err := r.db.GetContext(ctx, &total, countQuery, filter.Status); err != nil {
		return nil, 0, fmt.Errorf("order repository: count %w", err)
	}

	var rows []orderRow
	query := `
		SELECT id, order_id, document, revision, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR document->>'order_status' = $1)
		ORDER BY order_id DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &rows, query, filter.Status, filter.Limit, filter.Offset); err != nil {
		return nil, 0, fmt.Errorf("order repository: list %w", err)
	}

	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *order)
	}
	return orders, total, nil
}

// Ping проверяет соединение с базой.
func (r *PostgresOrderStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
