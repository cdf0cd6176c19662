package preferences

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

func NewStore(ctx context.Context, storeType, connectionString string) (store Store, err error) {
	switch storeType {
	case "", TypeMemory:
		store = NewMemoryStore()
	case TypeSQLite:
		if connectionString == "" {
			connectionString = ":memory:"
		}
		store, err = NewSQLiteStore(ctx, connectionString)
	case TypePostgres:
		store, err = NewPostgresStore(ctx, connectionString)
	case TypeRedis:
		store, err = NewRedisStore(ctx, connectionString)
	default:
		return nil, fmt.Errorf("unsupported preferences store: %s", storeType)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("preferences store initialized", "type", storeType)
	return store, nil
}
