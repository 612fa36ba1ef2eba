package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/config"
	"github.com/retailhub/lottery-sync/internal/db"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// app carries what every subcommand needs once flags and environment have
// been read.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "lottery-sync",
		Short: "Offline-first lottery inventory sync for a store terminal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newMigrateCommand(a))
	cmd.AddCommand(newSyncCommand(a))
	cmd.AddCommand(newDLQCommand(a))
	return cmd
}

// newLogger builds a JSON production logger, or a console logger when
// format is "console".
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

// openDB applies pending migrations, opens the database and makes sure the
// configured store row exists.
func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	if err := db.Migrate(a.cfg.DatabasePath); err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, a.cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := repository.NewSQLiteInventoryRepository(conn).EnsureStore(ctx, a.cfg.StoreID, a.cfg.StoreID); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
