// internal/session/store.go
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// ErrNotFound is returned by a Store when no state exists for the key
var ErrNotFound = stderrors.New("session state not found")

// Store persists at most one SessionState per (site, owner)
type Store interface {
	Load(ctx context.Context, site, owner string) (*types.SessionState, error)
	Save(ctx context.Context, state *types.SessionState) error
	Delete(ctx context.Context, site, owner string) error
}

// FileStore keeps one JSON file per (site, owner) under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the store directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(site, owner string) string {
	return filepath.Join(s.dir, utils.CleanFileName(site), utils.HashKey(owner)[:32]+".json")
}

// Load reads the state for (site, owner)
func (s *FileStore) Load(ctx context.Context, site, owner string) (*types.SessionState, error) {
	data, err := os.ReadFile(s.path(site, owner))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &state, nil
}

// Save writes the state atomically via a temp file and rename
func (s *FileStore) Save(ctx context.Context, state *types.SessionState) error {
	path := s.path(state.Site, state.Owner)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace session state: %w", err)
	}
	return nil
}

// Delete removes the state; deleting a missing state is not an error
func (s *FileStore) Delete(ctx context.Context, site, owner string) error {
	if err := os.Remove(s.path(site, owner)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}

// RedisConfig holds Redis connection settings for the session store
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// connectionTimeout bounds the initial ping
const connectionTimeout = 5 * time.Second

// NewRedisClient connects and pings Redis
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps states in Redis with a TTL equal to their MaxAge
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "harvester:session"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(site, owner string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, site, utils.HashKey(owner)[:32])
}

// Load reads the state for (site, owner)
func (s *RedisStore) Load(ctx context.Context, site, owner string) (*types.SessionState, error) {
	data, err := s.client.Get(ctx, s.key(site, owner)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &state, nil
}

// Save stores the state; a zero MaxAge stores it without expiry
func (s *RedisStore) Save(ctx context.Context, state *types.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.Site, state.Owner), data, state.MaxAge).Err(); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// Delete removes the state
func (s *RedisStore) Delete(ctx context.Context, site, owner string) error {
	if err := s.client.Del(ctx, s.key(site, owner)).Err(); err != nil {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)
