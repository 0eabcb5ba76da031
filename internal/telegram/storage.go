package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/redis/go-redis/v9"
)

// StorageProvider returns the session storage for a phone number. The same
// phone must map to the same stored session so a recreated connection
// resumes its login.
type StorageProvider func(phone string) (session.Storage, error)

// FileStorage keeps one session file per phone under dir.
func FileStorage(dir string) StorageProvider {
	return func(phone string) (session.Storage, error) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("[telegram FileStorage] creating %s: %w", dir, err)
		}
		return &session.FileStorage{Path: filepath.Join(dir, sessionName(phone)+".json")}, nil
	}
}

// MemoryStorage keeps sessions in process memory; they are lost on restart.
func MemoryStorage() StorageProvider {
	var mu sync.Mutex
	byPhone := make(map[string]*session.StorageMemory)
	return func(phone string) (session.Storage, error) {
		mu.Lock()
		defer mu.Unlock()
		s, ok := byPhone[phone]
		if !ok {
			s = new(session.StorageMemory)
			byPhone[phone] = s
		}
		return s, nil
	}
}

// RedisStorage keeps each phone's session blob in Redis.
func RedisStorage(client redis.UniversalClient, prefix string) StorageProvider {
	return func(phone string) (session.Storage, error) {
		return NewRedisSession(client, prefix, phone), nil
	}
}

// RedisSession implements session.Storage on a single Redis key.
type RedisSession struct {
	client redis.UniversalClient
	key    string
}

var _ session.Storage = (*RedisSession)(nil)

// NewRedisSession stores the session for phone under "<prefix>:session:<phone>".
func NewRedisSession(client redis.UniversalClient, prefix, phone string) *RedisSession {
	return &RedisSession{
		client: client,
		key:    fmt.Sprintf("%s:session:%s", strings.TrimSuffix(prefix, ":"), sessionName(phone)),
	}
}

// Key returns the Redis key holding the session.
func (r *RedisSession) Key() string {
	return r.key
}

func (r *RedisSession) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisSession LoadSession] %w", err)
	}
	return data, nil
}

func (r *RedisSession) StoreSession(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("[RedisSession StoreSession] %w", err)
	}
	return nil
}

// sessionName turns a canonical phone into a file and key safe name.
func sessionName(phone string) string {
	return strings.TrimPrefix(phone, "+")
}
