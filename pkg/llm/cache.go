package llm

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ragchat/pkg/domain"
)

// Cache stores completed responses keyed by CacheKey.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// CacheKey hashes the provider, model and the whitespace-normalized prompt.
// Vision turns are not cacheable and yield an empty key.
func CacheKey(provider domain.ModelType, model string, messages []Message) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	for _, m := range messages {
		if m.vision != nil {
			return ""
		}
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(strings.Join(strings.Fields(m.Content), " ")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a bounded LRU.
type MemoryCache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

type memoryEntry struct {
	key   string
	value string
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{max: maxEntries, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry).value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*memoryEntry).value = value
		c.order.MoveToFront(el)
		return nil
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, value: value})
	for c.order.Len() > c.max {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*memoryEntry).key)
	}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCache keeps responses in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "llmcache:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	return c.client.Set(ctx, c.prefix+key, value, c.ttl).Err()
}

// cachedModel answers repeated prompts from the cache. Cache errors fall
// through to the provider.
type cachedModel struct {
	Model
	cache Cache
}

// WithCache decorates m so Invoke and Stream consult cache first.
func WithCache(m Model, cache Cache) Model {
	if cache == nil {
		return m
	}
	if _, ok := m.(*cachedModel); ok {
		return m
	}
	return &cachedModel{Model: m, cache: cache}
}

func (m *cachedModel) lookup(ctx context.Context, messages []Message) (string, string, bool) {
	key := CacheKey(m.Provider(), m.Name(), messages)
	if key == "" {
		return "", "", false
	}
	val, ok, err := m.cache.Get(ctx, key)
	if err != nil || !ok {
		return key, "", false
	}
	return key, val, true
}

func (m *cachedModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	key, val, hit := m.lookup(ctx, messages)
	if hit {
		return val, nil
	}
	out, err := m.Model.Invoke(ctx, messages)
	if err != nil {
		return "", err
	}
	if key != "" {
		_ = m.cache.Set(ctx, key, out)
	}
	return out, nil
}

func (m *cachedModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	key, val, hit := m.lookup(ctx, messages)
	if hit {
		return StreamOf(val), nil
	}
	inner, err := m.Model.Stream(ctx, messages)
	if err != nil || key == "" {
		return inner, err
	}
	var buf strings.Builder
	return NewStream(func() (string, error) {
		chunk, err := inner.Recv()
		if errors.Is(err, io.EOF) {
			if buf.Len() > 0 {
				_ = m.cache.Set(context.WithoutCancel(ctx), key, buf.String())
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		buf.WriteString(chunk)
		return chunk, nil
	}, inner.Close), nil
}
