package db

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_index.sql"), []byte("CREATE INDEX x ON orders (order_id);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_orders.sql"), []byte("CREATE TABLE orders (id BIGSERIAL);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o644))

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	conn := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	countQuery := regexp.QuoteMeta("SELECT COUNT(*) FROM schema_migrations WHERE name = $1")
	mock.ExpectQuery(countQuery).WithArgs("001_orders.sql").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(countQuery).WithArgs("002_index.sql").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX x ON orders (order_id);")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (name) VALUES ($1)")).
		WithArgs("002_index.sql").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), conn, dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_MissingDir(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = RunMigrations(context.Background(), sqlx.NewDb(mockDB, "postgres"), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
