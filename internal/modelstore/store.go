// Package modelstore persists serialized artifacts by name.
package modelstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"equipguard/internal/config"
)

type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	// SaveAll writes a set of artifacts that must be read back together.
	SaveAll(ctx context.Context, artifacts map[string][]byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	Close() error
}

func New(ctx context.Context, cfg config.ModelStoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFile(cfg.Dir)
	case "sqlite":
		return NewSQLite(ctx, cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DSN)
	case "s3":
		return NewS3(cfg.Bucket, cfg.Prefix, cfg.Region)
	default:
		return nil, fmt.Errorf("unsupported model store backend %q", cfg.Backend)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
