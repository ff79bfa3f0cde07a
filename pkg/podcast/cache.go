package podcast

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"

	"podpdf/pkg/domain"
)

// CacheKey addresses one synthesized chapter rendition.
type CacheKey struct {
	DocumentID string
	Chapter    int
	Voice      domain.Voice
	Emotion    domain.Emotion
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", k.DocumentID, k.Chapter, k.Voice, k.Emotion)
}

// AudioCache stores playable audio resource identifiers by key.
type AudioCache interface {
	Get(ctx context.Context, key CacheKey) (string, bool, error)
	Set(ctx context.Context, key CacheKey, src string) error
	// DropDocument removes every entry that belongs to a document.
	DropDocument(ctx context.Context, documentID string) error
}

// MemoryCache is an in-process AudioCache with optional LRU eviction.
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	items      map[CacheKey]*list.Element
	order      *list.List
}

type memoryEntry struct {
	key CacheKey
	src string
}

// NewMemoryCache creates a cache holding at most maxEntries items.
// maxEntries <= 0 disables eviction.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		maxEntries: maxEntries,
		items:      make(map[CacheKey]*list.Element),
		order:      list.New(),
	}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).src, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key CacheKey, src string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*memoryEntry).src = src
		c.order.MoveToFront(elem)
		return nil
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, src: src})
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

func (c *MemoryCache) DropDocument(_ context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.items {
		if key.DocumentID == documentID {
			c.order.Remove(elem)
			delete(c.items, key)
		}
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
