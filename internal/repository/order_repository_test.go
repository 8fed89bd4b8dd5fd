package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
)

func newMockOrderStore(t *testing.T) (*PostgresOrderStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return NewPostgresOrderStore(sqlx.NewDb(mockDB, "postgres")), mock
}

func testOrder(orderID int64, status string) *models.Order {
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return &models.Order{
		OrderID:       orderID,
		OrderStatus:   status,
		StatusHistory: []models.StatusChange{models.InitialStatusChange(status, "created-by-test", at)},
		CreatedAt:     at,
		LastUpdated:   at,
		Extra:         map[string]any{"customer": "Anna"},
	}
}

func orderColumns() []string {
	return []string{"id", "order_id", "document", "revision", "created_at", "updated_at"}
}

func TestPostgresOrderStore_FindOne(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		doc, err := json.Marshal(testOrder(555, "Created"))
		require.NoError(t, err)

		rows := sqlmock.NewRows(orderColumns()).AddRow(int64(3), int64(555), doc, int64(7), time.Now(), time.Now())
		mock.ExpectQuery(`SELECT \* FROM orders WHERE order_id = \$1`).
			WithArgs(int64(555)).
			WillReturnRows(rows)

		order, err := store.FindOne(context.Background(), 555)
		require.NoError(t, err)
		assert.Equal(t, int64(555), order.OrderID)
		assert.Equal(t, int64(3), order.StorageID)
		assert.Equal(t, int64(7), order.Revision)
		assert.Equal(t, "Anna", order.Extra["customer"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		mock.ExpectQuery(`SELECT \* FROM orders WHERE order_id = \$1`).
			WithArgs(int64(1)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.FindOne(context.Background(), 1)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("connection error", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		mock.ExpectQuery(`SELECT \* FROM orders`).WillReturnError(sql.ErrConnDone)

		_, err := store.FindOne(context.Background(), 1)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrOrderNotFound))
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestPostgresOrderStore_InsertOne(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		mock.ExpectQuery(`INSERT INTO orders \(order_id, document, revision\)`).
			WithArgs(int64(10), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

		order := testOrder(10, "Created")
		id, err := store.InsertOne(context.Background(), order)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
		assert.Equal(t, int64(42), order.StorageID)
		assert.Equal(t, int64(1), order.Revision)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		mock.ExpectQuery(`INSERT INTO orders`).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := store.InsertOne(context.Background(), testOrder(10, "Created"))
		assert.ErrorIs(t, err, ErrOrderAlreadyExists)
	})
}

func TestPostgresOrderStore_ReplaceOne(t *testing.T) {
	t.Run("matched", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(sqlmock.AnyArg(), int64(3), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		order := testOrder(555, "Confirmed")
		order.StorageID = 3
		order.Revision = 5

		res, err := store.ReplaceOne(context.Background(), order)
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, int64(6), order.Revision)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale revision", func(t *testing.T) {
		store, mock := newMockOrderStore(t)
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(sqlmock.AnyArg(), int64(3), int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		order := testOrder(555, "Confirmed")
		order.StorageID = 3
		order.Revision = 4

		res, err := store.ReplaceOne(context.Background(), order)
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.Equal(t, int64(4), order.Revision)
	})
}

func TestPostgresOrderStore_List(t *testing.T) {
	store, mock := newMockOrderStore(t)
	docA, _ := json.Marshal(testOrder(2, "Shipped"))
	docB, _ := json.Marshal(testOrder(1, "Shipped"))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders`).
		WithArgs("Shipped").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`SELECT id, order_id, document, revision, created_at, updated_at`).
		WithArgs("Shipped", 2, 0).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(int64(2), int64(2), docA, int64(1), time.Now(), time.Now()).
			AddRow(int64(1), int64(1), docB, int64(3), time.Now(), time.Now()))

	orders, total, err := store.List(context.Background(), OrderFilter{Status: "Shipped", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(2), orders[0].OrderID)
	assert.Equal(t, int64(3), orders[1].Revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}
