// Package dbtest provisions migrated SQLite databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retailhub/lottery-sync/internal/db"
)

// New returns a migrated database file in a per-test temp directory.
func New(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lottery.db")
	require.NoError(t, db.Migrate(path))

	conn, err := db.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// SeedStore inserts a store row. Every store-scoped table references it.
func SeedStore(t *testing.T, conn *sql.DB, storeID string) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO stores (store_id, name, created_at) VALUES (?, ?, ?)`,
		storeID, "Store "+storeID, time.Now().UTC())
	require.NoError(t, err)
}

// SeedGame inserts a game priced at price with the given pack size.
func SeedGame(t *testing.T, conn *sql.DB, storeID, gameID, price string, ticketsPerPack int) {
	t.Helper()
	_, err := conn.Exec(`
		INSERT INTO games (game_id, store_id, game_code, name, price, tickets_per_pack, status, sync_sequence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'ACTIVE', 1, ?)`,
		gameID, storeID, gameID, "Game "+gameID, price, ticketsPerPack, time.Now().UTC())
	require.NoError(t, err)
}

// SeedBin inserts an active bin.
func SeedBin(t *testing.T, conn *sql.DB, storeID, binID string) {
	t.Helper()
	_, err := conn.Exec(`
		INSERT INTO bins (bin_id, store_id, name, display_order, is_active, sync_sequence, updated_at)
		VALUES (?, ?, ?, 0, 1, 1, ?)`,
		binID, storeID, "Bin "+binID, time.Now().UTC())
	require.NoError(t, err)
}

// SeedActivePack inserts an ACTIVE pack in binID opened at openingSerial.
func SeedActivePack(t *testing.T, conn *sql.DB, storeID, packID, gameID, binID string, openingSerial int) {
	t.Helper()
	now := time.Now().UTC()
	_, err := conn.Exec(`
		INSERT INTO packs (pack_id, store_id, game_id, pack_number, status, bin_id, opening_serial,
		                   received_at, activated_at, sync_sequence, updated_at)
		VALUES (?, ?, ?, ?, 'ACTIVE', ?, ?, ?, ?, 0, ?)`,
		packID, storeID, gameID, packID, binID, openingSerial, now.Add(-time.Hour), now, now)
	require.NoError(t, err)
}

// SeedOpenDay inserts an OPEN business day.
func SeedOpenDay(t *testing.T, conn *sql.DB, storeID, dayID, businessDate string) {
	t.Helper()
	_, err := conn.Exec(`
		INSERT INTO business_days (day_id, store_id, business_date, status, opened_at, opened_by, total_sales)
		VALUES (?, ?, ?, 'OPEN', ?, 'system', '0')`,
		dayID, storeID, businessDate, time.Now().UTC())
	require.NoError(t, err)
}
