package appconfig

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/agroyield/pkg/storage"
)

// OpenStore creates the artifact store selected by c. The returned close
// function is never nil.
func OpenStore(c Common, logger *slog.Logger) (storage.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Storage {
	case StorageMemory:
		logger.Warn("using in-memory artifact storage; trained models are lost on exit")
		return storage.NewMemoryStore(), noop, nil

	case StorageFile:
		s, err := storage.NewFileStore(c.ArtifactDir)
		if err != nil {
			return nil, noop, fmt.Errorf("open artifact directory: %w", err)
		}
		logger.Info("using file artifact storage", "dir", s.Dir())
		return s, noop, nil

	case StorageRedis:
		s, err := storage.NewRedisStore(c.RedisAddr, c.RedisPassword, c.RedisDB, c.RedisTTL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("using redis artifact storage", "addr", c.RedisAddr, "db", c.RedisDB, "ttl", c.RedisTTL)
		return s, s.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", c.Storage)
	}
}
