package objstore

import (
	"context"
	"fmt"
)

// Store kinds accepted by Open.
const (
	KindS3     = "s3"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Options selects and configures a Store backend.
type Options struct {
	Kind       string
	SQLitePath string
	S3Region   string
	S3Endpoint string
}

// Open builds the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case KindS3, "":
		return NewS3StoreFromEnv(ctx, opts.S3Region, opts.S3Endpoint)
	case KindSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires a database path")
		}
		return NewSQLiteStore(opts.SQLitePath)
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}
}
