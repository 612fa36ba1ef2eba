package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/service"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.Migrate(a.cfg.DatabasePath); err != nil {
				return err
			}
			a.logger.Info("database migrations applied", zap.String("path", a.cfg.DatabasePath))
			return nil
		},
	}
}

// newSyncCommand runs a single cycle in the foreground, for support staff
// checking connectivity from a terminal.
func newSyncCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and print the result",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Push pending outbox items to the cloud once",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := a.build(conn, service.SyncHooks{}).push.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pull",
		Short: "Pull reference data from the cloud once",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := a.build(conn, service.SyncHooks{}).pull.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})

	return cmd
}

func newDLQCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and recover dead-lettered sync items",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show dead-letter counts by reason and entity type",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			stats, err := a.build(conn, service.SyncHooks{}).admin.DeadLetterStats(cmd.Context(), a.cfg.StoreID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	})

	var page, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			items, total, err := a.build(conn, service.SyncHooks{}).admin.DeadLetterItems(cmd.Context(), a.cfg.StoreID, domain.Page{Page: page, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"data": items, "total": total, "page": page, "limit": limit})
		},
	}
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&limit, "limit", 20, "items per page")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <item-id>",
		Short: "Return a dead-lettered item to the retry cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			item, err := a.build(conn, service.SyncHooks{}).admin.Restore(cmd.Context(), a.cfg.StoreID, args[0])
			if err != nil {
				return fmt.Errorf("restore %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	})

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
