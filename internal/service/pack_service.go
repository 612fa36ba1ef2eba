package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// PackService records pack lifecycle changes. Every write and its outbox
// event commit together or not at all.
type PackService struct {
	conn      *sql.DB
	inventory repository.InventoryRepository
	days      repository.BusinessDayRepository
	queue     repository.SyncQueueRepository
	now       func() time.Time
	logger    *zap.Logger
}

func NewPackService(
	conn *sql.DB,
	inventory repository.InventoryRepository,
	days repository.BusinessDayRepository,
	queue repository.SyncQueueRepository,
	now func() time.Time,
	logger *zap.Logger,
) *PackService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PackService{
		conn:      conn,
		inventory: inventory,
		days:      days,
		queue:     queue,
		now:       now,
		logger:    logger.With(zap.String("component", "packs")),
	}
}

// GetPack returns a pack of storeID. Packs of other stores read as not found.
func (s *PackService) GetPack(ctx context.Context, storeID, packID string) (*domain.Pack, error) {
	p, err := s.inventory.GetPack(ctx, packID)
	if err != nil {
		return nil, err
	}
	if p.StoreID != storeID {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// ReceivePack registers a new pack in RECEIVED status.
func (s *PackService) ReceivePack(ctx context.Context, storeID string, req domain.ReceivePackRequest) (*domain.Pack, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	pack := &domain.Pack{
		ID:         req.PackID,
		StoreID:    storeID,
		GameID:     req.GameID,
		PackNumber: req.PackNumber,
		Status:     domain.PackReceived,
		ReceivedAt: now,
		UpdatedAt:  now,
	}

	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		inv := s.inventory.WithTx(tx)

		game, err := inv.GetGame(ctx, req.GameID)
		if err != nil {
			return fmt.Errorf("game %s: %w", req.GameID, err)
		}
		if game.StoreID != storeID {
			return fmt.Errorf("game %s: %w", req.GameID, domain.ErrTenantIsolation)
		}
		if err := inv.InsertPack(ctx, pack); err != nil {
			return err
		}

		_, err = s.queue.Enqueue(ctx, tx, repository.EnqueueRequest{
			StoreID:    storeID,
			EntityType: domain.EntityPack,
			EntityID:   pack.ID,
			Operation:  domain.OperationCreate,
			Payload: domain.PackReceivedPayload{
				PackID:     pack.ID,
				GameID:     pack.GameID,
				PackNumber: pack.PackNumber,
				ReceivedAt: pack.ReceivedAt,
			},
			Priority:  domain.PriorityNormal,
			Direction: domain.DirectionPush,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pack received", zap.String("store_id", storeID), zap.String("pack_id", pack.ID))
	return pack, nil
}

// ActivatePack puts a RECEIVED pack on sale in a bin. The store must have an
// OPEN business day.
func (s *PackService) ActivatePack(ctx context.Context, storeID, packID string, req domain.ActivatePackRequest) (*domain.Pack, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var pack *domain.Pack
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		inv := s.inventory.WithTx(tx)

		var err error
		pack, err = ownPack(ctx, inv, storeID, packID)
		if err != nil {
			return err
		}
		if pack.Status != domain.PackReceived {
			return domain.ErrPackNotReceived
		}

		bin, err := inv.GetBin(ctx, req.BinID)
		if err != nil {
			return fmt.Errorf("bin %s: %w", req.BinID, err)
		}
		if bin.StoreID != storeID {
			return fmt.Errorf("bin %s: %w", req.BinID, domain.ErrTenantIsolation)
		}

		day, err := s.days.WithTx(tx).GetActiveDay(ctx, storeID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoOpenDay
		}
		if err != nil {
			return err
		}
		if day.Status != domain.DayOpen {
			return domain.ErrNoOpenDay
		}

		now := s.now()
		opening := req.OpeningSerial
		pack.Status = domain.PackActive
		pack.BinID = &bin.ID
		pack.OpeningSerial = &opening
		pack.ClosingSerial = nil
		pack.ActivatedAt = &now
		pack.UpdatedAt = now
		if err := inv.UpdatePack(ctx, pack); err != nil {
			return err
		}

		_, err = s.queue.Enqueue(ctx, tx, repository.EnqueueRequest{
			StoreID:    storeID,
			EntityType: domain.EntityPack,
			EntityID:   pack.ID,
			Operation:  domain.OperationActivate,
			Payload: domain.PackActivatedPayload{
				PackID:        pack.ID,
				GameID:        pack.GameID,
				PackNumber:    pack.PackNumber,
				BinID:         bin.ID,
				OpeningSerial: opening,
				ActivatedAt:   now,
				ReceivedAt:    pack.ReceivedAt,
				DayID:         day.ID,
			},
			Priority:  domain.PriorityNormal,
			Direction: domain.DirectionPush,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pack activated",
		zap.String("store_id", storeID),
		zap.String("pack_id", pack.ID),
		zap.String("bin_id", req.BinID),
	)
	return pack, nil
}

// ReturnPack sends a RECEIVED or ACTIVE pack back to the distributor.
func (s *PackService) ReturnPack(ctx context.Context, storeID, packID string) (*domain.Pack, error) {
	var pack *domain.Pack
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		inv := s.inventory.WithTx(tx)

		var err error
		pack, err = ownPack(ctx, inv, storeID, packID)
		if err != nil {
			return err
		}
		if pack.Status != domain.PackReceived && pack.Status != domain.PackActive {
			return domain.ErrPackNotReturnable
		}

		now := s.now()
		pack.Status = domain.PackReturned
		pack.ReturnedAt = &now
		pack.UpdatedAt = now
		if err := inv.UpdatePack(ctx, pack); err != nil {
			return err
		}

		_, err = s.queue.Enqueue(ctx, tx, repository.EnqueueRequest{
			StoreID:    storeID,
			EntityType: domain.EntityPack,
			EntityID:   pack.ID,
			Operation:  domain.OperationUpdate,
			Payload: domain.PackUpdatedPayload{
				PackID:        pack.ID,
				Status:        pack.Status,
				ClosingSerial: pack.ClosingSerial,
				ReturnedAt:    pack.ReturnedAt,
			},
			Priority:      domain.PriorityNormal,
			Direction:     domain.DirectionPush,
			Discriminator: string(domain.PackReturned),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pack returned", zap.String("store_id", storeID), zap.String("pack_id", pack.ID))
	return pack, nil
}

// ownPack loads packID and rejects packs of other stores.
func ownPack(ctx context.Context, inv repository.InventoryRepository, storeID, packID string) (*domain.Pack, error) {
	pack, err := inv.GetPack(ctx, packID)
	if err != nil {
		return nil, err
	}
	if pack.StoreID != storeID {
		return nil, domain.ErrTenantIsolation
	}
	return pack, nil
}
