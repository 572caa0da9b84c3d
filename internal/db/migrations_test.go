package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateRecordsVersions(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	version, err := SchemaVersion(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), version)

	var rows int
	require.NoError(t, database.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&rows))
	assert.Equal(t, len(migrations), rows)
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, database))
	require.NoError(t, Migrate(ctx, database))

	var rows int
	require.NoError(t, database.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&rows))
	assert.Equal(t, len(migrations), rows)
}

func TestActivityLogIsAppendOnly(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	_, err := database.ExecContext(ctx,
		`INSERT INTO activity_log (id, item_id, action, created_at) VALUES ('a1', 'i1', 'added', ?)`,
		time.Now().UTC(),
	)
	require.NoError(t, err)

	_, err = database.ExecContext(ctx, `UPDATE activity_log SET note = 'x' WHERE id = 'a1'`)
	assert.Error(t, err)

	_, err = database.ExecContext(ctx, `DELETE FROM activity_log WHERE id = 'a1'`)
	assert.Error(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, database, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ('k', 'v')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, database.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings WHERE key = 'k'`).Scan(&count))
	assert.Zero(t, count)
}
