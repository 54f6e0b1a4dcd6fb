package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"llmcouncil/internal/core"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// Settings selects and configures the storage backend.
type Settings struct {
	DataDir   string
	StatsFile string
	RedisURL  string
}

// Storage bundles the stores used by the server.
type Storage struct {
	Stats         core.StatsStorage
	Conversations core.ConversationStore
	Backend       string

	redisClient *redis.Client
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// InitStorage uses Redis when settings.RedisURL is set and reachable and
// falls back to files otherwise.
func InitStorage(settings Settings, logger core.Logger) (*Storage, error) {
	if settings.RedisURL != "" {
		client, err := NewRedisClient(settings.RedisURL)
		if err == nil {
			logger.Info("Using Redis storage")
			return &Storage{
				Stats:         NewRedisStatsStorage(client, core.RedisStatsKey),
				Conversations: NewRedisConversationStore(client),
				Backend:       "redis",
				redisClient:   client,
			}, nil
		}
		logger.Warn("Failed to initialize Redis storage: %v, falling back to file storage", err)
	}

	conversations, err := NewFileConversationStore(settings.DataDir)
	if err != nil {
		return nil, err
	}

	statsFile := settings.StatsFile
	if statsFile == "" {
		statsFile = filepath.Join(filepath.Dir(conversationsDir(settings.DataDir)), core.StatsFilePath)
	}

	logger.Info("Using file storage in %s", conversationsDir(settings.DataDir))
	return &Storage{
		Stats:         NewFileStatsStorage(statsFile),
		Conversations: conversations,
		Backend:       "file",
	}, nil
}

func conversationsDir(dir string) string {
	if dir == "" {
		return core.DefaultDataDir
	}
	return dir
}

// Close releases every store and the shared Redis client.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	var closeErr error
	if s.Conversations != nil {
		if err := s.Conversations.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close conversation store: %w", err))
		}
	}
	if s.Stats != nil {
		if err := s.Stats.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close stats storage: %w", err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis client: %w", err))
		}
	}
	return closeErr
}
