package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailhub/lottery-sync/internal/db/dbtest"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

func TestUpsertGame_LastWriteWinsBySequence(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	repo := repository.NewSQLiteInventoryRepository(conn)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	g := &domain.Game{ID: "g1", StoreID: storeA, GameCode: "101", Name: "Lucky 7s",
		Price: decimal.RequireFromString("5.00"), TicketsPerPack: 300, Status: "ACTIVE", SyncSequence: 10, UpdatedAt: at}
	ok, err := repo.UpsertGame(ctx, g)
	require.NoError(t, err)
	assert.True(t, ok)

	// Replaying the same record is a no-op.
	ok, err = repo.UpsertGame(ctx, g)
	require.NoError(t, err)
	assert.False(t, ok)

	stale := *g
	stale.Name = "stale"
	stale.SyncSequence = 9
	ok, err = repo.UpsertGame(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, ok)

	newer := *g
	newer.Price = decimal.RequireFromString("10")
	newer.SyncSequence = 11
	ok, err = repo.UpsertGame(ctx, &newer)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Lucky 7s", got.Name)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(11), got.SyncSequence)
}

func TestUpsertPack_NeverCrossesStores(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	dbtest.SeedStore(t, conn, "store-b")
	dbtest.SeedGame(t, conn, storeA, "g1", "5.00", 300)
	dbtest.SeedBin(t, conn, storeA, "bin-1")
	dbtest.SeedActivePack(t, conn, storeA, "p1", "g1", "bin-1", 0)
	repo := repository.NewSQLiteInventoryRepository(conn)
	ctx := context.Background()

	foreign := &domain.Pack{ID: "p1", StoreID: "store-b", GameID: "g1", PackNumber: "x",
		Status: domain.PackReturned, ReceivedAt: time.Now().UTC(), SyncSequence: 99, UpdatedAt: time.Now().UTC()}
	ok, err := repo.UpsertPack(ctx, foreign)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetPack(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, storeA, got.StoreID)
	assert.Equal(t, domain.PackActive, got.Status)
}

func TestUpsertPack_AppliesNewerState(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	dbtest.SeedGame(t, conn, storeA, "g1", "5.00", 300)
	dbtest.SeedBin(t, conn, storeA, "bin-1")
	dbtest.SeedActivePack(t, conn, storeA, "p1", "g1", "bin-1", 0)
	repo := repository.NewSQLiteInventoryRepository(conn)
	ctx := context.Background()

	p, err := repo.GetPack(ctx, "p1")
	require.NoError(t, err)
	returned := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	p.Status = domain.PackReturned
	p.ReturnedAt = &returned
	p.SyncSequence = 5

	ok, err := repo.UpsertPack(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetPack(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PackReturned, got.Status)
	require.NotNil(t, got.ReturnedAt)
	assert.True(t, got.ReturnedAt.Equal(returned))
	require.NotNil(t, got.BinID)
	assert.Equal(t, "bin-1", *got.BinID)
}

func TestCursor_OnlyMovesForward(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	repo := repository.NewSQLiteInventoryRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	seq, err := repo.GetCursor(ctx, storeA, domain.PullGames)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, repo.AdvanceCursor(ctx, storeA, domain.PullGames, 40, now))
	require.NoError(t, repo.AdvanceCursor(ctx, storeA, domain.PullGames, 12, now))

	seq, err = repo.GetCursor(ctx, storeA, domain.PullGames)
	require.NoError(t, err)
	assert.Equal(t, int64(40), seq)

	_, err = repo.GetCursor(ctx, storeA, "pull_games OR 1=1")
	assert.ErrorIs(t, err, domain.ErrUnknownPullAction)
}

func TestPack_InsertUpdateList(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	dbtest.SeedGame(t, conn, storeA, "g1", "5.00", 300)
	dbtest.SeedBin(t, conn, storeA, "bin-1")
	repo := repository.NewSQLiteInventoryRepository(conn)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	p := &domain.Pack{ID: "p1", StoreID: storeA, GameID: "g1", PackNumber: "0001",
		Status: domain.PackReceived, ReceivedAt: now, UpdatedAt: now}
	require.NoError(t, repo.InsertPack(ctx, p))

	bin, serial := "bin-1", 0
	p.Status = domain.PackActive
	p.BinID = &bin
	p.OpeningSerial = &serial
	p.ActivatedAt = &now
	require.NoError(t, repo.UpdatePack(ctx, p))

	active, err := repo.ListPacksByStatus(ctx, storeA, domain.PackActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 0, active[0].EffectiveOpeningSerial())

	other := *p
	other.StoreID = "store-b"
	assert.ErrorIs(t, repo.UpdatePack(ctx, &other), domain.ErrNotFound)

	_, err = repo.GetPack(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBusinessDay_TransitionsAndPreview(t *testing.T) {
	conn := dbtest.New(t)
	dbtest.SeedStore(t, conn, storeA)
	dbtest.SeedOpenDay(t, conn, storeA, "d1", "2026-03-14")
	repo := repository.NewSQLiteBusinessDayRepository(conn)
	ctx := context.Background()

	day, err := repo.GetActiveDay(ctx, storeA)
	require.NoError(t, err)
	assert.Equal(t, "d1", day.ID)
	assert.True(t, day.TotalSales.IsZero())

	assert.ErrorIs(t, repo.TransitionDay(ctx, "d1", domain.DayOpen, domain.DayClosed), domain.ErrInvalidDayTransition)
	require.NoError(t, repo.TransitionDay(ctx, "d1", domain.DayOpen, domain.DayPendingClose))
	assert.ErrorIs(t, repo.TransitionDay(ctx, "d1", domain.DayOpen, domain.DayPendingClose), domain.ErrInvalidDayTransition)

	expires := time.Date(2026, 3, 14, 22, 15, 0, 0, time.UTC)
	preview := &repository.StoredPreview{
		DayID: "d1", StoreID: storeA, ValidationToken: "tok-1", ExpiresAt: expires,
		Closings:  []domain.PackClosing{{PackID: "p1", ClosingSerial: 50}},
		CreatedAt: expires.Add(-15 * time.Minute),
	}
	require.NoError(t, repo.SavePreview(ctx, preview))
	preview.ValidationToken = "tok-2"
	require.NoError(t, repo.SavePreview(ctx, preview))

	got, err := repo.GetPreview(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.ValidationToken)
	assert.True(t, got.ExpiresAt.Equal(expires))
	assert.Equal(t, preview.Closings, got.Closings)

	require.NoError(t, repo.DeletePreview(ctx, "d1"))
	_, err = repo.GetPreview(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	closedAt := expires
	by := "u1"
	day.ClosedAt = &closedAt
	day.ClosedBy = &by
	day.TotalSales = decimal.RequireFromString("400")
	require.NoError(t, repo.CloseDay(ctx, day))
	assert.ErrorIs(t, repo.CloseDay(ctx, day), domain.ErrInvalidDayTransition)

	closed, err := repo.GetDayByDate(ctx, storeA, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, domain.DayClosed, closed.Status)
	assert.True(t, closed.TotalSales.Equal(decimal.NewFromInt(400)))

	_, err = repo.GetActiveDay(ctx, storeA)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
