package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// DayCloseService runs the two-phase close of a business day.
//
// PrepareClose validates the submitted closings, computes sales, stores the
// preview behind an expiring token and moves the day to PENDING_CLOSE.
// CommitClose re-validates and, in one transaction, writes the DayPack audit
// rows, updates packs, closes the day, opens the next one and enqueues the
// matching outbox events. CancelClose returns the day to OPEN.
type DayCloseService struct {
	conn      *sql.DB
	days      repository.BusinessDayRepository
	inventory repository.InventoryRepository
	queue     repository.SyncQueueRepository
	tokenTTL  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewDayCloseService(
	conn *sql.DB,
	days repository.BusinessDayRepository,
	inventory repository.InventoryRepository,
	queue repository.SyncQueueRepository,
	tokenTTL time.Duration,
	now func() time.Time,
	logger *zap.Logger,
) *DayCloseService {
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DayCloseService{
		conn:      conn,
		days:      days,
		inventory: inventory,
		queue:     queue,
		tokenTTL:  tokenTTL,
		now:       now,
		logger:    logger.With(zap.String("component", "day_close")),
	}
}

// PrepareClose computes the close of dayID from closings. Preparing a day
// that is already PENDING_CLOSE replaces its preview and token.
func (s *DayCloseService) PrepareClose(ctx context.Context, storeID, dayID string, closings []domain.PackClosing) (*domain.ClosePreview, error) {
	if err := checkClosings(closings); err != nil {
		return nil, err
	}

	var preview *domain.ClosePreview
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		days := s.days.WithTx(tx)
		inv := s.inventory.WithTx(tx)

		day, err := s.storeDay(ctx, days, storeID, dayID)
		if err != nil {
			return err
		}
		if day.Status != domain.DayOpen && day.Status != domain.DayPendingClose {
			return domain.ErrInvalidDayTransition
		}

		lines, err := computeLines(ctx, inv, storeID, closings)
		if err != nil {
			return err
		}
		discrepancies, err := missingActivePacks(ctx, inv, storeID, closings)
		if err != nil {
			return err
		}

		now := s.now()
		preview = &domain.ClosePreview{
			DayID:           day.ID,
			StoreID:         storeID,
			ValidationToken: uuid.NewString(),
			ExpiresAt:       now.Add(s.tokenTTL),
			Lines:           lines,
			TotalSales:      totalSales(lines),
			Warnings:        zeroSaleWarnings(lines),
			Discrepancies:   discrepancies,
		}

		if day.Status == domain.DayOpen {
			if err := days.TransitionDay(ctx, day.ID, domain.DayOpen, domain.DayPendingClose); err != nil {
				return err
			}
		}
		return days.SavePreview(ctx, &repository.StoredPreview{
			DayID:           day.ID,
			StoreID:         storeID,
			ValidationToken: preview.ValidationToken,
			ExpiresAt:       preview.ExpiresAt,
			Closings:        closings,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("day close prepared",
		zap.String("store_id", storeID),
		zap.String("day_id", dayID),
		zap.Int("packs", len(preview.Lines)),
		zap.String("total_sales", preview.TotalSales.StringFixed(2)),
	)
	return preview, nil
}

// CommitClose finalises a prepared close. token is optional; when given it
// must match the prepared preview.
func (s *DayCloseService) CommitClose(ctx context.Context, storeID, dayID, userID, token string) (*domain.DaySummary, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}

	var summary *domain.DaySummary
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		days := s.days.WithTx(tx)
		inv := s.inventory.WithTx(tx)

		day, err := s.storeDay(ctx, days, storeID, dayID)
		if err != nil {
			return err
		}
		if day.Status != domain.DayPendingClose {
			return domain.ErrNoPendingClose
		}

		prepared, err := days.GetPreview(ctx, day.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoPendingClose
		}
		if err != nil {
			return err
		}
		if token != "" && token != prepared.ValidationToken {
			return domain.ErrValidationTokenInvalid
		}
		now := s.now()
		if !now.Before(prepared.ExpiresAt) {
			return domain.ErrValidationTokenExpired
		}

		lines, err := computeLines(ctx, inv, storeID, prepared.Closings)
		if err != nil {
			return err
		}

		summary, err = s.commit(ctx, tx, inv, days, day, lines, userID, now)
		if err != nil {
			return err
		}
		return days.DeletePreview(ctx, day.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("day closed",
		zap.String("store_id", storeID),
		zap.String("day_id", dayID),
		zap.String("next_day_id", summary.NextDay.ID),
		zap.String("total_sales", summary.ClosedDay.TotalSales.StringFixed(2)),
		zap.Int("sync_items_queued", summary.SyncQueued),
	)
	return summary, nil
}

// CancelClose abandons a prepared close. Nothing but the day status and the
// stored preview changed at prepare time, so this is a status flip.
func (s *DayCloseService) CancelClose(ctx context.Context, storeID, dayID string) error {
	return db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		days := s.days.WithTx(tx)
		day, err := s.storeDay(ctx, days, storeID, dayID)
		if err != nil {
			return err
		}
		if day.Status != domain.DayPendingClose {
			return domain.ErrNoPendingClose
		}
		if err := days.TransitionDay(ctx, day.ID, domain.DayPendingClose, domain.DayOpen); err != nil {
			return err
		}
		return days.DeletePreview(ctx, day.ID)
	})
}

func (s *DayCloseService) commit(
	ctx context.Context,
	tx *sql.Tx,
	inv repository.InventoryRepository,
	days repository.BusinessDayRepository,
	day *domain.BusinessDay,
	lines []domain.ClosingLine,
	userID string,
	now time.Time,
) (*domain.DaySummary, error) {
	summary := &domain.DaySummary{}
	closePayload := domain.DayClosePayload{
		DayID:        day.ID,
		BusinessDate: day.BusinessDate,
		ClosedAt:     now,
		ClosedBy:     userID,
		TotalSales:   totalSales(lines),
	}

	for _, l := range lines {
		dp := &domain.DayPack{
			DayID:          day.ID,
			PackID:         l.PackID,
			StoreID:        day.StoreID,
			StartingSerial: l.StartingSerial,
			EndingSerial:   l.ClosingSerial,
			TicketsSold:    l.TicketsSold,
			SalesAmount:    l.SalesAmount,
			CreatedAt:      now,
		}
		if err := days.InsertDayPack(ctx, dp); err != nil {
			return nil, err
		}
		summary.DayPacks = append(summary.DayPacks, *dp)

		pack, err := inv.GetPack(ctx, l.PackID)
		if err != nil {
			return nil, err
		}
		closing := l.ClosingSerial
		pack.ClosingSerial = &closing
		pack.UpdatedAt = now
		if l.SoldOut {
			pack.Status = domain.PackDepleted
			pack.DepletedAt = &now
			summary.PacksSold++
		}
		if err := inv.UpdatePack(ctx, pack); err != nil {
			return nil, err
		}

		if err := s.enqueue(ctx, tx, summary, repository.EnqueueRequest{
			StoreID:    day.StoreID,
			EntityType: domain.EntityPack,
			EntityID:   pack.ID,
			Operation:  domain.OperationUpdate,
			Payload: domain.PackUpdatedPayload{
				PackID:        pack.ID,
				Status:        pack.Status,
				ClosingSerial: pack.ClosingSerial,
				DepletedAt:    pack.DepletedAt,
				DayID:         day.ID,
			},
			Priority:      domain.PriorityNormal,
			Discriminator: day.ID,
		}); err != nil {
			return nil, err
		}

		closePayload.Packs = append(closePayload.Packs, domain.DayClosePackPayload{
			PackID:         l.PackID,
			StartingSerial: l.StartingSerial,
			EndingSerial:   l.ClosingSerial,
			TicketsSold:    l.TicketsSold,
			SalesAmount:    l.SalesAmount,
			SoldOut:        l.SoldOut,
		})
	}

	day.Status = domain.DayClosed
	day.ClosedAt = &now
	day.ClosedBy = &userID
	day.TotalSales = closePayload.TotalSales
	if err := days.CloseDay(ctx, day); err != nil {
		return nil, err
	}
	summary.ClosedDay = *day

	if err := s.enqueue(ctx, tx, summary, repository.EnqueueRequest{
		StoreID:    day.StoreID,
		EntityType: domain.EntityDayClose,
		EntityID:   day.ID,
		Operation:  domain.OperationCreate,
		Payload:    closePayload,
		Priority:   domain.PriorityNormal,
	}); err != nil {
		return nil, err
	}

	next, created, err := s.nextDay(ctx, days, day, userID, now)
	if err != nil {
		return nil, err
	}
	summary.NextDay = *next

	if created {
		if err := s.enqueue(ctx, tx, summary, repository.EnqueueRequest{
			StoreID:    day.StoreID,
			EntityType: domain.EntityDayOpen,
			EntityID:   next.ID,
			Operation:  domain.OperationCreate,
			Payload: domain.DayOpenPayload{
				DayID:        next.ID,
				BusinessDate: next.BusinessDate,
				OpenedAt:     next.OpenedAt,
				OpenedBy:     next.OpenedBy,
			},
			Priority: domain.PriorityNormal,
		}); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// nextDay returns the business day following closed, creating it OPEN when
// it does not exist yet.
func (s *DayCloseService) nextDay(ctx context.Context, days repository.BusinessDayRepository, closed *domain.BusinessDay, userID string, now time.Time) (*domain.BusinessDay, bool, error) {
	date, err := domain.NextBusinessDate(closed.BusinessDate)
	if err != nil {
		return nil, false, fmt.Errorf("next business date: %w", err)
	}

	existing, err := days.GetDayByDate(ctx, closed.StoreID, date)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	next := &domain.BusinessDay{
		ID:           uuid.NewString(),
		StoreID:      closed.StoreID,
		BusinessDate: date,
		Status:       domain.DayOpen,
		OpenedAt:     now,
		OpenedBy:     userID,
		TotalSales:   decimal.Zero,
	}
	if err := days.InsertDay(ctx, next); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

func (s *DayCloseService) enqueue(ctx context.Context, tx *sql.Tx, summary *domain.DaySummary, req repository.EnqueueRequest) error {
	req.Direction = domain.DirectionPush
	if _, err := s.queue.Enqueue(ctx, tx, req); err != nil {
		return fmt.Errorf("enqueue %s event: %w", req.EntityType, err)
	}
	summary.SyncQueued++
	return nil
}

// storeDay loads dayID and hides days of other stores behind ErrNotFound.
func (s *DayCloseService) storeDay(ctx context.Context, days repository.BusinessDayRepository, storeID, dayID string) (*domain.BusinessDay, error) {
	day, err := days.GetDay(ctx, dayID)
	if err != nil {
		return nil, err
	}
	if day.StoreID != storeID {
		return nil, domain.ErrNotFound
	}
	return day, nil
}

func checkClosings(closings []domain.PackClosing) error {
	if len(closings) == 0 {
		return domain.ErrNoClosings
	}
	seen := make(map[string]struct{}, len(closings))
	for _, c := range closings {
		if _, dup := seen[c.PackID]; dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateClosing, c.PackID)
		}
		seen[c.PackID] = struct{}{}
		if c.ClosingSerial < 0 {
			return domain.ErrInvalidSerial
		}
	}
	return nil
}

// computeLines validates each closing against its pack and prices it:
// tickets_sold = closing serial - effective opening serial, and
// sales = tickets_sold * game price. A sold-out closing with no serial
// closes at the end of the pack.
func computeLines(ctx context.Context, inv repository.InventoryRepository, storeID string, closings []domain.PackClosing) ([]domain.ClosingLine, error) {
	lines := make([]domain.ClosingLine, 0, len(closings))
	for _, c := range closings {
		pack, err := inv.GetPack(ctx, c.PackID)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", c.PackID, err)
		}
		if pack.StoreID != storeID {
			return nil, fmt.Errorf("pack %s: %w", c.PackID, domain.ErrTenantIsolation)
		}
		if pack.Status != domain.PackActive {
			return nil, fmt.Errorf("pack %s: %w", c.PackID, domain.ErrPackNotActive)
		}
		game, err := inv.GetGame(ctx, pack.GameID)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", pack.GameID, err)
		}

		opening := pack.EffectiveOpeningSerial()
		closing := c.ClosingSerial
		if c.SoldOut && closing == 0 {
			closing = game.TicketsPerPack
		}
		if closing < opening || (game.TicketsPerPack > 0 && closing > game.TicketsPerPack) {
			return nil, fmt.Errorf("pack %s: %w", c.PackID, domain.ErrInvalidClosingSerial)
		}

		sold := closing - opening
		lines = append(lines, domain.ClosingLine{
			PackID:         pack.ID,
			GameID:         game.ID,
			StartingSerial: opening,
			ClosingSerial:  closing,
			TicketsSold:    sold,
			GamePrice:      game.Price,
			SalesAmount:    game.Price.Mul(decimal.NewFromInt(int64(sold))),
			SoldOut:        c.SoldOut,
		})
	}
	return lines, nil
}

// missingActivePacks lists ACTIVE packs of the store left out of closings.
func missingActivePacks(ctx context.Context, inv repository.InventoryRepository, storeID string, closings []domain.PackClosing) ([]string, error) {
	active, err := inv.ListPacksByStatus(ctx, storeID, domain.PackActive)
	if err != nil {
		return nil, err
	}
	submitted := make(map[string]struct{}, len(closings))
	for _, c := range closings {
		submitted[c.PackID] = struct{}{}
	}
	out := []string{}
	for _, p := range active {
		if _, ok := submitted[p.ID]; !ok {
			out = append(out, fmt.Sprintf("active pack %s has no closing", p.ID))
		}
	}
	return out, nil
}

func zeroSaleWarnings(lines []domain.ClosingLine) []string {
	out := []string{}
	for _, l := range lines {
		if l.TicketsSold == 0 {
			out = append(out, fmt.Sprintf("pack %s sold no tickets", l.PackID))
		}
	}
	return out
}

func totalSales(lines []domain.ClosingLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.SalesAmount)
	}
	return total
}
