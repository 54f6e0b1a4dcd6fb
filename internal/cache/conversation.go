package cache

import (
	"context"
	"fmt"
	"sync"

	"llmcouncil/internal/core"
)

const listCacheKey = "conversations:" + core.CacheKeyVersion

func conversationCacheKey(id string) string {
	return fmt.Sprintf("conversation:%s:%s", core.CacheKeyVersion, id)
}

// CachedConversationStore is a read-through cache in front of a
// ConversationStore. Every write invalidates the affected entries, so reads
// never return a conversation older than the last write made through it.
type CachedConversationStore struct {
	store   core.ConversationStore
	cache   core.Cache
	metrics core.MetricsCollector

	// generation is bumped on every invalidation. A read only fills the
	// cache when no invalidation happened while it was at the backend.
	mu         sync.Mutex
	generation uint64
}

// NewCachedConversationStore wraps store. A nil metrics collector is allowed.
func NewCachedConversationStore(store core.ConversationStore, cache core.Cache, metrics core.MetricsCollector) *CachedConversationStore {
	if metrics == nil {
		metrics = &core.NopMetrics{}
	}
	return &CachedConversationStore{store: store, cache: cache, metrics: metrics}
}

func (cs *CachedConversationStore) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	if err := cs.store.CreateConversation(ctx, conv); err != nil {
		return err
	}
	cs.invalidateList()
	return nil
}

func (cs *CachedConversationStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	key := conversationCacheKey(id)
	if cached, found := cs.cache.Get(key); found {
		if conv, ok := cached.(*core.Conversation); ok {
			cs.metrics.RecordCacheHit()
			return conv.Clone(), nil
		}
	}
	cs.metrics.RecordCacheMiss()

	gen := cs.currentGeneration()
	conv, err := cs.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	cs.fill(gen, key, conv.Clone())
	return conv, nil
}

func (cs *CachedConversationStore) ListConversations(ctx context.Context) ([]core.ConversationMetadata, error) {
	if cached, found := cs.cache.Get(listCacheKey); found {
		if list, ok := cached.([]core.ConversationMetadata); ok {
			cs.metrics.RecordCacheHit()
			return append([]core.ConversationMetadata(nil), list...), nil
		}
	}
	cs.metrics.RecordCacheMiss()

	gen := cs.currentGeneration()
	list, err := cs.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	cs.fill(gen, listCacheKey, append([]core.ConversationMetadata(nil), list...))
	return list, nil
}

func (cs *CachedConversationStore) SaveConversation(ctx context.Context, conv *core.Conversation) error {
	cs.invalidate(conv.ID)
	if err := cs.store.SaveConversation(ctx, conv); err != nil {
		return err
	}
	cs.invalidate(conv.ID)
	return nil
}

func (cs *CachedConversationStore) DeleteConversation(ctx context.Context, id string) error {
	cs.invalidate(id)
	return cs.store.DeleteConversation(ctx, id)
}

// Close stops the cache and closes the wrapped store.
func (cs *CachedConversationStore) Close() error {
	cs.cache.Stop()
	return cs.store.Close()
}

func (cs *CachedConversationStore) currentGeneration() uint64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.generation
}

// fill caches value unless an invalidation ran since gen was read.
func (cs *CachedConversationStore) fill(gen uint64, key string, value any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.generation != gen {
		return
	}
	cs.cache.Set(key, value, core.ConversationCacheTTL)
}

func (cs *CachedConversationStore) invalidate(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.generation++
	cs.cache.Delete(conversationCacheKey(id))
	cs.cache.Delete(listCacheKey)
}

func (cs *CachedConversationStore) invalidateList() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.generation++
	cs.cache.Delete(listCacheKey)
}
