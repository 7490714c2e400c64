package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bugdw/internal/config"
	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
	"github.com/roach88/bugdw/internal/pgstore"
	"github.com/roach88/bugdw/internal/store"
)

// Warehouse is what the commands need from a storage backend.
type Warehouse interface {
	engine.Gateway
	engine.Journal
	DimensionCounts(ctx context.Context) ([]model.DimensionCount, error)
	FactCounts(ctx context.Context) (model.FactCounts, error)
	BugHistory(ctx context.Context, bugID int64) ([]model.BugVersion, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
	Close() error
}

var (
	_ Warehouse = (*store.Store)(nil)
	_ Warehouse = (*pgstore.Store)(nil)
)

// WarehouseFlags are the connection flags shared by commands that open the
// warehouse. Empty flags keep the configured values.
type WarehouseFlags struct {
	Database string
	Driver   string
}

func (f *WarehouseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Database, "db", "", "SQLite file or PostgreSQL connection string (default from BUGDW_DATABASE)")
	cmd.Flags().StringVar(&f.Driver, "driver", "", "warehouse driver: sqlite or postgres (default from BUGDW_DRIVER)")
}

func (f *WarehouseFlags) apply(cfg *config.Config) {
	if f.Database != "" {
		cfg.Database = f.Database
	}
	if f.Driver != "" {
		cfg.Driver = f.Driver
	}
}

// loadConfig reads the environment and .env file, then applies overrides.
func loadConfig(opts *RootOptions, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: err.Error(), Err: err}
	}
	return cfg, nil
}

// openWarehouse is replaced in tests.
var openWarehouse = func(ctx context.Context, cfg *config.Config) (Warehouse, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.Database)
	case config.DriverSQLite:
		return store.Open(cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func open(ctx context.Context, cfg *config.Config) (Warehouse, error) {
	wh, err := openWarehouse(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open warehouse", err)
	}
	return wh, nil
}
