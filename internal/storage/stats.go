package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"

	"github.com/redis/go-redis/v9"
)

// FileStatsStorage persists metrics snapshots in a JSON file.
type FileStatsStorage struct {
	filePath string
}

// NewFileStatsStorage creates a file-backed stats store.
func NewFileStatsStorage(filePath string) *FileStatsStorage {
	if filePath == "" {
		filePath = core.StatsFilePath
	}
	return &FileStatsStorage{filePath: filePath}
}

func (fs *FileStatsStorage) SaveStats(stats *core.RequestStats) error {
	data, err := util.MarshalJSONIndent(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if dir := filepath.Dir(fs.filePath); dir != "." {
		if err := os.MkdirAll(dir, core.DirPermission); err != nil {
			return fmt.Errorf("create stats dir: %w", err)
		}
	}
	return writeFileAtomic(fs.filePath, data)
}

func (fs *FileStatsStorage) LoadStats() (*core.RequestStats, error) {
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyStats(), nil
		}
		return nil, fmt.Errorf("read stats: %w", err)
	}
	return decodeStats(data)
}

func (fs *FileStatsStorage) Close() error {
	return nil
}

// RedisStatsStorage persists metrics snapshots under a single Redis key.
type RedisStatsStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStatsStorage uses client, which stays owned by the caller.
func NewRedisStatsStorage(client *redis.Client, key string) *RedisStatsStorage {
	if key == "" {
		key = core.RedisStatsKey
	}
	return &RedisStatsStorage{client: client, key: key}
}

func (rs *RedisStatsStorage) SaveStats(stats *core.RequestStats) error {
	data, err := util.MarshalJSON(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return rs.client.Set(context.Background(), rs.key, data, 0).Err()
}

func (rs *RedisStatsStorage) LoadStats() (*core.RequestStats, error) {
	val, err := rs.client.Get(context.Background(), rs.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyStats(), nil
		}
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return decodeStats(val)
}

// Close is a no-op; the shared client is closed by Storage.Close.
func (rs *RedisStatsStorage) Close() error {
	return nil
}

func emptyStats() *core.RequestStats {
	return &core.RequestStats{RequestHistory: []core.RequestRecord{}}
}

func decodeStats(data []byte) (*core.RequestStats, error) {
	var stats core.RequestStats
	if err := util.UnmarshalJSON(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if stats.RequestHistory == nil {
		stats.RequestHistory = []core.RequestRecord{}
	}
	return &stats, nil
}
