package app

import (
	"context"
	"fmt"

	"github.com/iudanet/authgate/internal/config"
	"github.com/iudanet/authgate/internal/server/storage"
	"github.com/iudanet/authgate/internal/server/storage/boltdb"
	"github.com/iudanet/authgate/internal/server/storage/postgres"
	"github.com/iudanet/authgate/internal/server/storage/sqlite"
)

var (
	_ storage.Storage = (*sqlite.Storage)(nil)
	_ storage.Storage = (*postgres.Storage)(nil)
	_ storage.Storage = (*boltdb.Storage)(nil)
)

// OpenStorage открывает хранилище, выбранное в конфигурации
func OpenStorage(ctx context.Context, driver, dsn string) (storage.Storage, error) {
	switch driver {
	case config.DriverSQLite:
		s, err := sqlite.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBolt:
		s, err := boltdb.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
