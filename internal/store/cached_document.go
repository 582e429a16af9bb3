package store

import (
	"context"
	"sync"

	"phonesim-core/internal/models"

	"go.uber.org/zap"
)

type cachedDocument struct {
	doc     models.Document
	version int64
}

// CachedDocumentStore 在 DocumentStore 之上缓存已读取的文档
// 切换角色时必须调用 InvalidateAll，避免把上一个角色的文档带入新角色。
type CachedDocumentStore struct {
	next   DocumentStore
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedDocument
}

// NewCachedDocumentStore wraps next with a per-name document cache
func NewCachedDocumentStore(next DocumentStore, logger *zap.Logger) *CachedDocumentStore {
	return &CachedDocumentStore{
		next:   next,
		logger: logger,
		cache:  make(map[string]cachedDocument),
	}
}

// Get 返回文档副本；缓存未命中时从下层读取
func (c *CachedDocumentStore) Get(ctx context.Context, name string) (models.Document, int64, error) {
	c.mu.Lock()
	entry, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		c.logger.Debug("Document cache hit", zap.String("document", name))
		doc, err := entry.doc.Clone()
		if err != nil {
			return nil, 0, err
		}
		return doc, entry.version, nil
	}

	doc, version, err := c.next.Get(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	c.store(name, doc, version)
	return doc, version, nil
}

// Put 写入下层；成功后刷新缓存，版本冲突时丢弃缓存
func (c *CachedDocumentStore) Put(ctx context.Context, name string, doc models.Document, expectedVersion int64) (int64, error) {
	version, err := c.next.Put(ctx, name, doc, expectedVersion)
	if err != nil {
		c.Invalidate(name)
		return 0, err
	}
	c.store(name, doc, version)
	return version, nil
}

func (c *CachedDocumentStore) store(name string, doc models.Document, version int64) {
	clone, err := doc.Clone()
	if err != nil {
		c.logger.Warn("Failed to cache document", zap.String("document", name), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.cache[name] = cachedDocument{doc: clone, version: version}
	c.mu.Unlock()
}

// Invalidate 丢弃单个文档缓存
func (c *CachedDocumentStore) Invalidate(name string) {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
}

// InvalidateAll 丢弃全部缓存
func (c *CachedDocumentStore) InvalidateAll() {
	c.mu.Lock()
	n := len(c.cache)
	c.cache = make(map[string]cachedDocument)
	c.mu.Unlock()
	c.logger.Debug("Document cache cleared", zap.Int("entries", n))
}

// Len 当前缓存的文档数
func (c *CachedDocumentStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
