package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_AppliesSchemasTwice(t *testing.T) {
	for _, name := range []string{"portfolios", "history"} {
		t.Run(name, func(t *testing.T) {
			db := newDB(t, name, ProfileStandard)
			require.NoError(t, db.Migrate())
			require.NoError(t, db.Migrate())
		})
	}
}

func TestMigrate_UnknownSchema(t *testing.T) {
	db := newDB(t, "nope", ProfileStandard)
	assert.Error(t, db.Migrate())
}

func TestWithTransaction(t *testing.T) {
	db := newDB(t, "portfolios", ProfileLedger)
	_, err := db.Conn().Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`)
		return err
	})
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv VALUES ('b', '2')`); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec(`INSERT INTO kv VALUES ('c', '3')`)
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSnapshotAndStats(t *testing.T) {
	db := newDB(t, "history", ProfileLedger)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, db.WALCheckpoint(""))

	target := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, db.SnapshotTo(context.Background(), target))
	assert.Error(t, db.SnapshotTo(context.Background(), target))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, "history", stats.Name)
	assert.Greater(t, stats.PageCount, int64(0))
}
