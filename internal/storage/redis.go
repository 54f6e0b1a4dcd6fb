package storage

import (
	"context"
	"errors"
	"fmt"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"

	"github.com/redis/go-redis/v9"
)

// RedisConversationStore keeps each conversation as a JSON string and an
// index sorted set scored by creation time.
type RedisConversationStore struct {
	client *redis.Client
	prefix string
	index  string
}

// NewRedisConversationStore uses client, which stays owned by the caller.
func NewRedisConversationStore(client *redis.Client) *RedisConversationStore {
	return &RedisConversationStore{
		client: client,
		prefix: core.RedisConversationPrefix,
		index:  core.RedisConversationIndex,
	}
}

func (rs *RedisConversationStore) key(id string) string {
	return rs.prefix + id
}

func (rs *RedisConversationStore) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	if err := validateID(conv.ID); err != nil {
		return err
	}
	data, err := util.MarshalJSON(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}

	created, err := rs.client.SetNX(ctx, rs.key(conv.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", conv.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", core.ErrConversationExists, conv.ID)
	}

	score := float64(conv.CreatedAt.UnixNano())
	if err := rs.client.ZAdd(ctx, rs.index, redis.Z{Score: score, Member: conv.ID}).Err(); err != nil {
		return fmt.Errorf("index conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (rs *RedisConversationStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := rs.client.Get(ctx, rs.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", core.ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	var conv core.Conversation
	if err := util.UnmarshalJSON(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (rs *RedisConversationStore) ListConversations(ctx context.Context) ([]core.ConversationMetadata, error) {
	ids, err := rs.client.ZRevRange(ctx, rs.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(ids) == 0 {
		return []core.ConversationMetadata{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rs.key(id)
	}
	values, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	result := make([]core.ConversationMetadata, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var conv core.Conversation
		if err := util.UnmarshalJSON([]byte(raw), &conv); err != nil {
			continue
		}
		result = append(result, conv.Metadata())
	}
	sortNewestFirst(result)
	return result, nil
}

func (rs *RedisConversationStore) SaveConversation(ctx context.Context, conv *core.Conversation) error {
	if err := validateID(conv.ID); err != nil {
		return err
	}
	data, err := util.MarshalJSON(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rs.key(conv.ID), data, 0)
		pipe.ZAdd(ctx, rs.index, redis.Z{Score: float64(conv.CreatedAt.UnixNano()), Member: conv.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (rs *RedisConversationStore) DeleteConversation(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	var deleted *redis.IntCmd
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, rs.key(id))
		pipe.ZRem(ctx, rs.index, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if deleted.Val() == 0 {
		return fmt.Errorf("%w: %s", core.ErrConversationNotFound, id)
	}
	return nil
}

// Close is a no-op; the shared client is closed by Storage.Close.
func (rs *RedisConversationStore) Close() error {
	return nil
}
