package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/retailhub/lottery-sync/internal/domain"
)

type sqliteInventoryRepository struct {
	q DBTX
}

// NewSQLiteInventoryRepository returns an InventoryRepository backed by SQLite.
func NewSQLiteInventoryRepository(q DBTX) InventoryRepository {
	return &sqliteInventoryRepository{q: q}
}

func (r *sqliteInventoryRepository) WithTx(tx *sql.Tx) InventoryRepository {
	return &sqliteInventoryRepository{q: tx}
}

func (r *sqliteInventoryRepository) EnsureStore(ctx context.Context, storeID, name string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO stores (store_id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (store_id) DO NOTHING`, storeID, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure store: %w", err)
	}
	return nil
}

const gameColumns = `game_id, store_id, game_code, name, price, tickets_per_pack, status, sync_sequence, updated_at`

func (r *sqliteInventoryRepository) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	var g domain.Game
	err := r.q.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE game_id = ?`, gameID).Scan(
		&g.ID, &g.StoreID, &g.GameCode, &g.Name, &g.Price, &g.TicketsPerPack, &g.Status, &g.SyncSequence, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}
	return &g, nil
}

func (r *sqliteInventoryRepository) GetBin(ctx context.Context, binID string) (*domain.Bin, error) {
	var b domain.Bin
	err := r.q.QueryRowContext(ctx, `
		SELECT bin_id, store_id, name, display_order, is_active, sync_sequence, updated_at
		FROM bins WHERE bin_id = ?`, binID).Scan(
		&b.ID, &b.StoreID, &b.Name, &b.DisplayOrder, &b.IsActive, &b.SyncSequence, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bin: %w", err)
	}
	return &b, nil
}

const packColumns = `
	pack_id, store_id, game_id, pack_number, status, bin_id, opening_serial, closing_serial,
	received_at, activated_at, depleted_at, returned_at, sync_sequence, updated_at`

func scanPack(row rowScanner) (*domain.Pack, error) {
	var p domain.Pack
	err := row.Scan(
		&p.ID, &p.StoreID, &p.GameID, &p.PackNumber, &p.Status, &p.BinID, &p.OpeningSerial, &p.ClosingSerial,
		&p.ReceivedAt, &p.ActivatedAt, &p.DepletedAt, &p.ReturnedAt, &p.SyncSequence, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *sqliteInventoryRepository) GetPack(ctx context.Context, packID string) (*domain.Pack, error) {
	p, err := scanPack(r.q.QueryRowContext(ctx, `SELECT `+packColumns+` FROM packs WHERE pack_id = ?`, packID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pack: %w", err)
	}
	return p, nil
}

func (r *sqliteInventoryRepository) ListPacksByStatus(ctx context.Context, storeID string, status domain.PackStatus) ([]*domain.Pack, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+packColumns+`
		FROM packs
		WHERE store_id = ? AND status = ?
		ORDER BY pack_id`, storeID, status)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()

	var packs []*domain.Pack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

func (r *sqliteInventoryRepository) InsertPack(ctx context.Context, p *domain.Pack) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO packs (`+packColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StoreID, p.GameID, p.PackNumber, p.Status, p.BinID, p.OpeningSerial, p.ClosingSerial,
		p.ReceivedAt.UTC(), utcPtr(p.ActivatedAt), utcPtr(p.DepletedAt), utcPtr(p.ReturnedAt), p.SyncSequence, p.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("pack %s: %w", p.ID, domain.ErrPackExists)
	}
	if err != nil {
		return fmt.Errorf("insert pack: %w", err)
	}
	return nil
}

func (r *sqliteInventoryRepository) UpdatePack(ctx context.Context, p *domain.Pack) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE packs
		SET status = ?, bin_id = ?, opening_serial = ?, closing_serial = ?,
		    activated_at = ?, depleted_at = ?, returned_at = ?, updated_at = ?
		WHERE pack_id = ? AND store_id = ?`,
		p.Status, p.BinID, p.OpeningSerial, p.ClosingSerial,
		utcPtr(p.ActivatedAt), utcPtr(p.DepletedAt), utcPtr(p.ReturnedAt), p.UpdatedAt.UTC(),
		p.ID, p.StoreID,
	)
	if err != nil {
		return fmt.Errorf("update pack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteInventoryRepository) UpsertGame(ctx context.Context, g *domain.Game) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO games (`+gameColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			game_code        = excluded.game_code,
			name             = excluded.name,
			price            = excluded.price,
			tickets_per_pack = excluded.tickets_per_pack,
			status           = excluded.status,
			sync_sequence    = excluded.sync_sequence,
			updated_at       = excluded.updated_at
		WHERE excluded.sync_sequence > games.sync_sequence
		  AND games.store_id = excluded.store_id`,
		g.ID, g.StoreID, g.GameCode, g.Name, g.Price, g.TicketsPerPack, g.Status, g.SyncSequence, g.UpdatedAt.UTC(),
	)
	return applied(res, err, "upsert game")
}

func (r *sqliteInventoryRepository) UpsertBin(ctx context.Context, b *domain.Bin) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO bins (bin_id, store_id, name, display_order, is_active, sync_sequence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bin_id) DO UPDATE SET
			name          = excluded.name,
			display_order = excluded.display_order,
			is_active     = excluded.is_active,
			sync_sequence = excluded.sync_sequence,
			updated_at    = excluded.updated_at
		WHERE excluded.sync_sequence > bins.sync_sequence
		  AND bins.store_id = excluded.store_id`,
		b.ID, b.StoreID, b.Name, b.DisplayOrder, b.IsActive, b.SyncSequence, b.UpdatedAt.UTC(),
	)
	return applied(res, err, "upsert bin")
}

func (r *sqliteInventoryRepository) UpsertPack(ctx context.Context, p *domain.Pack) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO packs (`+packColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pack_id) DO UPDATE SET
			game_id        = excluded.game_id,
			pack_number    = excluded.pack_number,
			status         = excluded.status,
			bin_id         = excluded.bin_id,
			opening_serial = excluded.opening_serial,
			closing_serial = excluded.closing_serial,
			received_at    = excluded.received_at,
			activated_at   = excluded.activated_at,
			depleted_at    = excluded.depleted_at,
			returned_at    = excluded.returned_at,
			sync_sequence  = excluded.sync_sequence,
			updated_at     = excluded.updated_at
		WHERE excluded.sync_sequence > packs.sync_sequence
		  AND packs.store_id = excluded.store_id`,
		p.ID, p.StoreID, p.GameID, p.PackNumber, p.Status, p.BinID, p.OpeningSerial, p.ClosingSerial,
		p.ReceivedAt.UTC(), utcPtr(p.ActivatedAt), utcPtr(p.DepletedAt), utcPtr(p.ReturnedAt), p.SyncSequence, p.UpdatedAt.UTC(),
	)
	return applied(res, err, "upsert pack")
}

func (r *sqliteInventoryRepository) GetCursor(ctx context.Context, storeID string, action domain.PullAction) (int64, error) {
	if !action.IsValid() {
		return 0, domain.ErrUnknownPullAction
	}
	var seq int64
	err := r.q.QueryRowContext(ctx,
		`SELECT last_sequence FROM sync_cursors WHERE store_id = ? AND action = ?`,
		storeID, string(action)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get pull cursor: %w", err)
	}
	return seq, nil
}

// AdvanceCursor never moves a cursor backwards.
func (r *sqliteInventoryRepository) AdvanceCursor(ctx context.Context, storeID string, action domain.PullAction, sequence int64, at time.Time) error {
	if !action.IsValid() {
		return domain.ErrUnknownPullAction
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sync_cursors (store_id, action, last_sequence, last_pulled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (store_id, action) DO UPDATE SET
			last_sequence  = MAX(sync_cursors.last_sequence, excluded.last_sequence),
			last_pulled_at = excluded.last_pulled_at`,
		storeID, string(action), sequence, at.UTC())
	if err != nil {
		return fmt.Errorf("advance pull cursor: %w", err)
	}
	return nil
}

func applied(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
