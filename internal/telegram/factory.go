package telegram

import (
	"fmt"

	"github.com/jrsteele09/go-tg-session-gateway/connection"
	"github.com/jrsteele09/go-tg-session-gateway/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewFactory returns a connection.Factory that builds gotd clients whose
// sessions live in the storage chosen by storage.
func NewFactory(storage StorageProvider) connection.Factory {
	return func(creds connection.Credentials) (connection.Connection, error) {
		st, err := storage(creds.Phone)
		if err != nil {
			return nil, err
		}
		return NewClient(creds, st)
	}
}

// NewStorageProvider selects the session storage named by the configuration.
// The returned close function releases any backing client.
func NewStorageProvider(cfg config.TelegramConfig, dataFolder string) (StorageProvider, func() error, error) {
	noop := func() error { return nil }

	switch cfg.GetSessionStorage() {
	case config.StorageMemory:
		return MemoryStorage(), noop, nil
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		return RedisStorage(client, cfg.GetRedisKeyPrefix()), client.Close, nil
	case config.StorageFile, "":
		return FileStorage(dataFolder), noop, nil
	}
	return nil, nil, fmt.Errorf("[telegram NewStorageProvider] unknown session storage %q", cfg.GetSessionStorage())
}
