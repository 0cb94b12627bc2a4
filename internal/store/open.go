package store

import (
	"context"
	"fmt"

	"github.com/digkill/flashgen/internal/config"
	"github.com/digkill/flashgen/internal/database"
)

// Open builds the backend selected by cfg.StoreDriver, namespaced by cfg.StoreNamespace.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		s = NewMemory()
	case config.StoreSQLite:
		s, err = OpenSQL(ctx, database.DialectSQLite, cfg.StoreDSN)
	case config.StoreMySQL:
		s, err = OpenSQL(ctx, database.DialectMySQL, cfg.StoreDSN)
	case config.StoreRedis:
		s, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.StoreS3:
		s, err = NewS3(S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	return WithNamespace(cfg.StoreNamespace, s), nil
}
