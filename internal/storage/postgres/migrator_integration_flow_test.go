package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireMigrationStatus(t *testing.T, store *Store, wantVersion int64, wantCount int) {
	t.Helper()
	version, count, err := store.MigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wantVersion, version, "version")
	assert.Equal(t, wantCount, count, "applied")
}

func tableExists(t *testing.T, store *Store, table string) bool {
	t.Helper()
	var exists bool
	err := store.DB().QueryRowContext(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
		table,
	).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestMigrator_PostgresSchemaLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	requireMigrationStatus(t, store, 0, 0)
	assert.False(t, tableExists(t, store, "products"))
	assert.False(t, tableExists(t, store, "orders"))

	require.NoError(t, store.MigrateUp(ctx, 1))
	requireMigrationStatus(t, store, 1, 1)
	assert.True(t, tableExists(t, store, "orders"))
	assert.True(t, tableExists(t, store, "outbox_messages"))
	assert.False(t, tableExists(t, store, "products"))

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationStatus(t, store, 2, 2)
	assert.True(t, tableExists(t, store, "products"))
	assert.True(t, tableExists(t, store, migrationsTable))

	require.NoError(t, store.MigrateDown(ctx, 0))
	requireMigrationStatus(t, store, 1, 1)
	assert.False(t, tableExists(t, store, "products"))
	assert.True(t, tableExists(t, store, "orders"))

	require.NoError(t, store.MigrateDown(ctx, 5))
	requireMigrationStatus(t, store, 0, 0)
	require.NoError(t, store.MigrateDown(ctx, 1), "rollback on an empty journal is a no-op")

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationStatus(t, store, 2, 2)
}

func TestMigrator_ProductsRejectNegativeStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO products (id, slug, name, sku, price, stock_quantity, updated_at)
		VALUES ('p-brake', 'pastillas-freno', 'Pastillas de freno', 'BRK-1', 25000, 2, NOW())
	`)
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `UPDATE products SET stock_quantity = stock_quantity - 3 WHERE id = 'p-brake'`)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr), "got %v", err)
	assert.Equal(t, "23514", pgErr.Code)
	assert.Equal(t, "products", pgErr.TableName)

	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO products (id, slug, name, price, stock_quantity, updated_at)
		VALUES ('p-brake-2', 'PASTILLAS-FRENO', 'Copia', 1000, 1, NOW())
	`)
	assert.True(t, isUniqueViolation(err), "slug index must be case-insensitive, got %v", err)
}

func TestMigrator_RejectsModifiedMigration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx, `UPDATE `+migrationsTable+` SET checksum = 'stale' WHERE version = 2`)
	require.NoError(t, err)
	t.Cleanup(func() {
		plan, err := loadMigrations(embeddedMigrations)
		require.NoError(t, err)
		_, err = store.DB().ExecContext(context.Background(), `UPDATE `+migrationsTable+` SET checksum = $1 WHERE version = 2`, plan[1].Checksum)
		require.NoError(t, err)
	})

	err = store.MigrateUp(ctx, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_products was modified")
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx := context.Background()

	assert.ErrorIs(t, store.MigrateUp(ctx, 0), errNoStore)
	assert.ErrorIs(t, store.MigrateDown(ctx, 1), errNoStore)
	_, _, err := store.MigrationStatus(ctx)
	assert.ErrorIs(t, err, errNoStore)
}
