package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/retailhub/lottery-sync/internal/domain"
)

// InventoryRepository persists stores, games, bins, packs and pull cursors.
// Lookups are by primary key and are not store-scoped: callers compare the
// returned StoreID so a foreign record surfaces as a tenant-isolation error
// rather than "not found".
type InventoryRepository interface {
	WithTx(tx *sql.Tx) InventoryRepository

	EnsureStore(ctx context.Context, storeID, name string) error

	GetGame(ctx context.Context, gameID string) (*domain.Game, error)
	GetBin(ctx context.Context, binID string) (*domain.Bin, error)
	GetPack(ctx context.Context, packID string) (*domain.Pack, error)
	ListPacksByStatus(ctx context.Context, storeID string, status domain.PackStatus) ([]*domain.Pack, error)
	InsertPack(ctx context.Context, p *domain.Pack) error
	UpdatePack(ctx context.Context, p *domain.Pack) error

	// Upserts apply a server record only when its sync_sequence is newer than
	// the stored one. They report whether a row changed.
	UpsertGame(ctx context.Context, g *domain.Game) (bool, error)
	UpsertBin(ctx context.Context, b *domain.Bin) (bool, error)
	UpsertPack(ctx context.Context, p *domain.Pack) (bool, error)

	GetCursor(ctx context.Context, storeID string, action domain.PullAction) (int64, error)
	AdvanceCursor(ctx context.Context, storeID string, action domain.PullAction, sequence int64, at time.Time) error
}

// BusinessDayRepository persists business days, their closing audit rows and
// prepared closes.
type BusinessDayRepository interface {
	WithTx(tx *sql.Tx) BusinessDayRepository

	GetDay(ctx context.Context, dayID string) (*domain.BusinessDay, error)
	GetActiveDay(ctx context.Context, storeID string) (*domain.BusinessDay, error)
	GetDayByDate(ctx context.Context, storeID, businessDate string) (*domain.BusinessDay, error)
	InsertDay(ctx context.Context, d *domain.BusinessDay) error
	TransitionDay(ctx context.Context, dayID string, from, to domain.DayStatus) error
	CloseDay(ctx context.Context, d *domain.BusinessDay) error

	InsertDayPack(ctx context.Context, dp *domain.DayPack) error
	ListDayPacks(ctx context.Context, dayID string) ([]*domain.DayPack, error)

	SavePreview(ctx context.Context, p *StoredPreview) error
	GetPreview(ctx context.Context, dayID string) (*StoredPreview, error)
	DeletePreview(ctx context.Context, dayID string) error
}

// StoredPreview is the persisted half of a prepared close: enough to re-run
// the computation at commit time and to check the token.
type StoredPreview struct {
	DayID           string
	StoreID         string
	ValidationToken string
	ExpiresAt       time.Time
	Closings        []domain.PackClosing
	CreatedAt       time.Time
}
