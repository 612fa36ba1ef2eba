package main

import (
	"database/sql"

	"github.com/retailhub/lottery-sync/internal/backoff"
	"github.com/retailhub/lottery-sync/internal/classifier"
	"github.com/retailhub/lottery-sync/internal/cloud"
	"github.com/retailhub/lottery-sync/internal/ratelimiter"
	"github.com/retailhub/lottery-sync/internal/repository"
	"github.com/retailhub/lottery-sync/internal/service"
)

// components is the assembled sync engine for one store.
type components struct {
	queue     repository.SyncQueueRepository
	inventory repository.InventoryRepository
	days      repository.BusinessDayRepository
	client    *cloud.HTTPClient
	push      *service.PushService
	pull      *service.PullService
	dayClose  *service.DayCloseService
	packs     *service.PackService
	admin     *service.SyncAdminService
}

func (a *app) build(conn *sql.DB, hooks service.SyncHooks) *components {
	cfg := a.cfg

	queue := repository.NewSQLiteSyncQueueRepository(conn, repository.QueueConfig{
		PushMaxAttempts: cfg.PushMaxAttempts,
		PullMaxAttempts: cfg.PullMaxAttempts,
	})
	inventory := repository.NewSQLiteInventoryRepository(conn)
	days := repository.NewSQLiteBusinessDayRepository(conn)

	client := cloud.NewHTTPClient(cloud.Config{
		BaseURL:             cfg.CloudBaseURL,
		APIKey:              cfg.CloudAPIKey,
		StoreID:             cfg.StoreID,
		Timeout:             cfg.CloudTimeout,
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
	}, ratelimiter.New(cfg.CloudRateLimit), a.logger.Named("cloud"))

	cls := classifier.New()
	policy := backoff.Policy{Base: cfg.RetryBackoffBase, Max: cfg.RetryBackoffMax}

	return &components{
		queue:     queue,
		inventory: inventory,
		days:      days,
		client:    client,
		push: service.NewPushService(queue, client, cls, service.PushConfig{
			StoreID:   cfg.StoreID,
			BatchSize: cfg.PushBatchSize,
			Backoff:   policy,
		}, hooks, a.logger),
		pull: service.NewPullService(conn, queue, inventory, client, cls, service.PullConfig{
			StoreID:          cfg.StoreID,
			PageSize:         cfg.PullPageSize,
			MarkerStaleAfter: cfg.PullMarkerStaleAfter,
			Backoff:          policy,
		}, hooks, a.logger),
		dayClose: service.NewDayCloseService(conn, days, inventory, queue, cfg.DayCloseTokenTTL, nil, a.logger),
		packs:    service.NewPackService(conn, inventory, days, queue, nil, a.logger),
		admin:    service.NewSyncAdminService(queue, client.BreakerState, a.logger),
	}
}
