package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"repopulse/pkg/timerange"
)

// MemoryStore 线程安全的内存存储实现。
// 在持久层探测失败时作为回退后端使用；进程退出后数据即丢失。
// 注意：读到过期条目不会删除，过期的语义判断属于上层（加载器可以使用过期命中）。
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	hitCount  int64
	missCount int64
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get 按键获取条目，命中时刷新最后访问时间。
func (ms *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.entries[key]
	if !exists {
		atomic.AddInt64(&ms.missCount, 1)
		return Entry{}, NewCacheError(ErrEntryMiss, "cache miss").WithContext("key", key)
	}

	touched := entry.Touch()
	ms.entries[key] = touched
	atomic.AddInt64(&ms.hitCount, 1)
	return touched, nil
}

// GetByDateRange 按三元组精确匹配获取条目。
func (ms *MemoryStore) GetByDateRange(ctx context.Context, repositoryID string, dataType DataType, dateRange timerange.Range) (Entry, error) {
	return ms.Get(ctx, BuildKey(repositoryID, dataType, dateRange))
}

// Set 插入或覆盖条目。
func (ms *MemoryStore) Set(ctx context.Context, entry Entry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.entries[entry.Key] = entry
	return nil
}

// SetMany 批量插入或覆盖条目。持锁一次完成，其他读取者要么看到全部写入前、要么全部写入后的状态。
func (ms *MemoryStore) SetMany(ctx context.Context, entries []Entry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, entry := range entries {
		ms.entries[entry.Key] = entry
	}
	return nil
}

// GetAll 返回所有条目的快照。
func (ms *MemoryStore) GetAll(ctx context.Context) ([]Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	all := make([]Entry, 0, len(ms.entries))
	for _, entry := range ms.entries {
		all = append(all, entry)
	}
	return all, nil
}

// GetByRepository 返回指定仓库的所有条目。
func (ms *MemoryStore) GetByRepository(ctx context.Context, repositoryID string) ([]Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	matched := make([]Entry, 0)
	for _, entry := range ms.entries {
		if entry.RepositoryID == repositoryID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// GetStats 返回聚合统计信息。
func (ms *MemoryStore) GetStats(ctx context.Context) (StoreStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := StoreStats{
		TotalEntries: int64(len(ms.entries)),
		HitCount:     atomic.LoadInt64(&ms.hitCount),
		MissCount:    atomic.LoadInt64(&ms.missCount),
	}
	for _, entry := range ms.entries {
		stats.TotalSizeBytes += entry.SizeBytes
		if stats.OldestEntry.IsZero() || entry.CachedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CachedAt
		}
		if stats.NewestEntry.IsZero() || entry.CachedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CachedAt
		}
	}
	return stats, nil
}

// Evict 批量删除指定键的条目。
func (ms *MemoryStore) Evict(ctx context.Context, keys []string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, key := range keys {
		delete(ms.entries, key)
	}
	return nil
}

// Delete 删除单个条目。
func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.entries, key)
	return nil
}

// ClearRepository 删除指定仓库的全部条目。
func (ms *MemoryStore) ClearRepository(ctx context.Context, repositoryID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, entry := range ms.entries {
		if entry.RepositoryID == repositoryID {
			delete(ms.entries, key)
		}
	}
	return nil
}

// ClearAll 清空存储。
func (ms *MemoryStore) ClearAll(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.entries = make(map[string]Entry)
	atomic.StoreInt64(&ms.hitCount, 0)
	atomic.StoreInt64(&ms.missCount, 0)
	return nil
}

// Close 关闭存储。内存实现无资源需要释放。
func (ms *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
