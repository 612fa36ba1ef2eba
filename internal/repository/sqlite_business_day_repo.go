package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/retailhub/lottery-sync/internal/domain"
)

type sqliteBusinessDayRepository struct {
	q DBTX
}

// NewSQLiteBusinessDayRepository returns a BusinessDayRepository backed by SQLite.
func NewSQLiteBusinessDayRepository(q DBTX) BusinessDayRepository {
	return &sqliteBusinessDayRepository{q: q}
}

func (r *sqliteBusinessDayRepository) WithTx(tx *sql.Tx) BusinessDayRepository {
	return &sqliteBusinessDayRepository{q: tx}
}

const dayColumns = `day_id, store_id, business_date, status, opened_at, opened_by, closed_at, closed_by, total_sales`

func scanDay(row rowScanner) (*domain.BusinessDay, error) {
	var d domain.BusinessDay
	err := row.Scan(&d.ID, &d.StoreID, &d.BusinessDate, &d.Status, &d.OpenedAt, &d.OpenedBy,
		&d.ClosedAt, &d.ClosedBy, &d.TotalSales)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *sqliteBusinessDayRepository) getOne(ctx context.Context, where string, args ...any) (*domain.BusinessDay, error) {
	d, err := scanDay(r.q.QueryRowContext(ctx, `SELECT `+dayColumns+` FROM business_days WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get business day: %w", err)
	}
	return d, nil
}

func (r *sqliteBusinessDayRepository) GetDay(ctx context.Context, dayID string) (*domain.BusinessDay, error) {
	return r.getOne(ctx, `day_id = ?`, dayID)
}

// GetActiveDay returns the store's OPEN or PENDING_CLOSE day.
func (r *sqliteBusinessDayRepository) GetActiveDay(ctx context.Context, storeID string) (*domain.BusinessDay, error) {
	return r.getOne(ctx, `store_id = ? AND status IN ('OPEN', 'PENDING_CLOSE')`, storeID)
}

func (r *sqliteBusinessDayRepository) GetDayByDate(ctx context.Context, storeID, businessDate string) (*domain.BusinessDay, error) {
	return r.getOne(ctx, `store_id = ? AND business_date = ?`, storeID, businessDate)
}

func (r *sqliteBusinessDayRepository) InsertDay(ctx context.Context, d *domain.BusinessDay) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO business_days (`+dayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.StoreID, d.BusinessDate, d.Status, d.OpenedAt.UTC(), d.OpenedBy,
		utcPtr(d.ClosedAt), d.ClosedBy, d.TotalSales,
	)
	if err != nil {
		return fmt.Errorf("insert business day: %w", err)
	}
	return nil
}

// TransitionDay moves a day from one status to another. It fails with
// ErrInvalidDayTransition when the move is not allowed or the day is no
// longer in the from status.
func (r *sqliteBusinessDayRepository) TransitionDay(ctx context.Context, dayID string, from, to domain.DayStatus) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidDayTransition
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE business_days SET status = ? WHERE day_id = ? AND status = ?`, to, dayID, from)
	if err != nil {
		return fmt.Errorf("transition business day: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidDayTransition
	}
	return nil
}

// CloseDay finalises a PENDING_CLOSE day with the closing fields of d.
func (r *sqliteBusinessDayRepository) CloseDay(ctx context.Context, d *domain.BusinessDay) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE business_days
		SET status = 'CLOSED', closed_at = ?, closed_by = ?, total_sales = ?
		WHERE day_id = ? AND status = 'PENDING_CLOSE'`,
		utcPtr(d.ClosedAt), d.ClosedBy, d.TotalSales, d.ID)
	if err != nil {
		return fmt.Errorf("close business day: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidDayTransition
	}
	return nil
}

func (r *sqliteBusinessDayRepository) InsertDayPack(ctx context.Context, dp *domain.DayPack) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO day_packs
			(day_id, pack_id, store_id, starting_serial, ending_serial, tickets_sold, sales_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dp.DayID, dp.PackID, dp.StoreID, dp.StartingSerial, dp.EndingSerial, dp.TicketsSold, dp.SalesAmount, dp.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert day pack: %w", err)
	}
	return nil
}

func (r *sqliteBusinessDayRepository) ListDayPacks(ctx context.Context, dayID string) ([]*domain.DayPack, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT day_id, pack_id, store_id, starting_serial, ending_serial, tickets_sold, sales_amount, created_at
		FROM day_packs
		WHERE day_id = ?
		ORDER BY pack_id`, dayID)
	if err != nil {
		return nil, fmt.Errorf("list day packs: %w", err)
	}
	defer rows.Close()

	var out []*domain.DayPack
	for rows.Next() {
		var dp domain.DayPack
		if err := rows.Scan(&dp.DayID, &dp.PackID, &dp.StoreID, &dp.StartingSerial, &dp.EndingSerial,
			&dp.TicketsSold, &dp.SalesAmount, &dp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan day pack: %w", err)
		}
		out = append(out, &dp)
	}
	return out, rows.Err()
}

// SavePreview stores the prepared close of a day, replacing any earlier one.
func (r *sqliteBusinessDayRepository) SavePreview(ctx context.Context, p *StoredPreview) error {
	closings, err := json.Marshal(p.Closings)
	if err != nil {
		return fmt.Errorf("encode closings: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO day_close_previews (day_id, store_id, validation_token, expires_at, closings, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (day_id) DO UPDATE SET
			validation_token = excluded.validation_token,
			expires_at       = excluded.expires_at,
			closings         = excluded.closings,
			created_at       = excluded.created_at`,
		p.DayID, p.StoreID, p.ValidationToken, p.ExpiresAt.UTC(), string(closings), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save close preview: %w", err)
	}
	return nil
}

func (r *sqliteBusinessDayRepository) GetPreview(ctx context.Context, dayID string) (*StoredPreview, error) {
	var p StoredPreview
	var closings string
	err := r.q.QueryRowContext(ctx, `
		SELECT day_id, store_id, validation_token, expires_at, closings, created_at
		FROM day_close_previews WHERE day_id = ?`, dayID).Scan(
		&p.DayID, &p.StoreID, &p.ValidationToken, &p.ExpiresAt, &closings, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get close preview: %w", err)
	}
	if err := json.Unmarshal([]byte(closings), &p.Closings); err != nil {
		return nil, fmt.Errorf("decode closings: %w", err)
	}
	return &p, nil
}

func (r *sqliteBusinessDayRepository) DeletePreview(ctx context.Context, dayID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM day_close_previews WHERE day_id = ?`, dayID); err != nil {
		return fmt.Errorf("delete close preview: %w", err)
	}
	return nil
}
