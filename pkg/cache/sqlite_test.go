package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(SQLiteStoreConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

// TestSQLiteStoreSetGet 测试基本读写与访问时间刷新
func TestSQLiteStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	entry := storeEntry(t, "acme/widgets", DataTypeCommits, 0)
	require.NoError(t, store.Set(ctx, entry))

	time.Sleep(time.Millisecond)
	got, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	assert.Equal(t, entry.Key, got.Key)
	assert.Equal(t, entry.Data, got.Data)
	assert.True(t, got.LastAccessedAt.After(entry.LastAccessedAt), "Get 应刷新最后访问时间")

	_, err = store.Get(ctx, "acme/widgets|commits|2030-01-01T00:00:00Z|2030-02-01T00:00:00Z")
	assert.True(t, IsMiss(err))
}

// TestSQLiteStorePersistence 测试数据跨进程重启存活
func TestSQLiteStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := NewSQLiteStore(SQLiteStoreConfig{Path: path})
	require.NoError(t, err)

	entry := storeEntry(t, "acme/widgets", DataTypeDeployments, 0)
	require.NoError(t, store.Set(ctx, entry))
	require.NoError(t, store.Close())

	// 重新打开同一文件，条目仍然可读
	reopened, err := NewSQLiteStore(SQLiteStoreConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, entry.Key)
	require.NoError(t, err)
	assert.Equal(t, entry.Data, got.Data)
	assert.True(t, entry.ExpiresAt.Equal(got.ExpiresAt))
}

// TestSQLiteStoreSetManyAtomic 测试批量写入的事务性
func TestSQLiteStoreSetManyAtomic(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	entries := []Entry{
		storeEntry(t, "acme/widgets", DataTypeCommits, 0),
		storeEntry(t, "acme/widgets", DataTypeCommits, 1),
		storeEntry(t, "acme/widgets", DataTypeCommits, 2),
	}
	require.NoError(t, store.SetMany(ctx, entries))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestSQLiteStoreCorruptRecord 测试损坏记录按未命中处理并被清除
func TestSQLiteStoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	entry := storeEntry(t, "acme/widgets", DataTypeCommits, 0)
	require.NoError(t, store.Set(ctx, entry))

	// 直接破坏record列，模拟磁盘数据损坏
	_, err := store.db.ExecContext(ctx, "UPDATE cache_entries SET record = ? WHERE key = ?", []byte("{{{"), entry.Key)
	require.NoError(t, err)

	_, err = store.Get(ctx, entry.Key)
	require.Error(t, err)
	assert.True(t, IsMiss(err), "损坏记录应按未命中处理")

	// 损坏行已被清除
	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE key = ?", entry.Key).Scan(&count))
	assert.Equal(t, 0, count)
}

// TestSQLiteStoreGetByRepository 测试按仓库过滤
func TestSQLiteStoreGetByRepository(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	require.NoError(t, store.Set(ctx, storeEntry(t, "acme/widgets", DataTypeCommits, 0)))
	require.NoError(t, store.Set(ctx, storeEntry(t, "acme/gadgets", DataTypeCommits, 0)))

	matched, err := store.GetByRepository(ctx, "acme/widgets")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "acme/widgets", matched[0].RepositoryID)
}

// TestSQLiteStoreStats 测试SQL聚合统计
func TestSQLiteStoreStats(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	// 空库统计
	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalEntries)
	assert.True(t, stats.OldestEntry.IsZero())

	e1 := storeEntry(t, "acme/widgets", DataTypeCommits, 0)
	e2 := storeEntry(t, "acme/widgets", DataTypeCommits, 1)
	require.NoError(t, store.SetMany(ctx, []Entry{e1, e2}))

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntries)
	assert.Equal(t, e1.SizeBytes+e2.SizeBytes, stats.TotalSizeBytes)
	assert.False(t, stats.OldestEntry.IsZero())
	assert.False(t, stats.NewestEntry.Before(stats.OldestEntry))
}

// TestSQLiteStoreEvictAndClear 测试删除与清空
func TestSQLiteStoreEvictAndClear(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)

	e1 := storeEntry(t, "acme/widgets", DataTypeCommits, 0)
	e2 := storeEntry(t, "acme/widgets", DataTypeCommits, 1)
	e3 := storeEntry(t, "acme/gadgets", DataTypeCommits, 0)
	require.NoError(t, store.SetMany(ctx, []Entry{e1, e2, e3}))

	require.NoError(t, store.Evict(ctx, []string{e1.Key}))
	_, err := store.Get(ctx, e1.Key)
	assert.True(t, IsMiss(err))

	require.NoError(t, store.ClearRepository(ctx, "acme/widgets"))
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "acme/gadgets", all[0].RepositoryID)

	require.NoError(t, store.ClearAll(ctx))
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// TestOpenStoreFallback 测试持久后端不可用时降级到内存存储
func TestOpenStoreFallback(t *testing.T) {
	// 数据库路径指向一个已存在的普通文件的"子目录"，MkdirAll必然失败
	badDir := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(badDir, []byte("x"), 0o644))

	store, err := OpenStore(StoreConfig{
		Backend: BackendSQLite,
		SQLite:  SQLiteStoreConfig{Path: filepath.Join(badDir, "sub", "cache.db")},
	})
	require.NoError(t, err, "持久后端不可用时应降级而不是报错")
	defer store.Close()

	_, ok := store.(*MemoryStore)
	assert.True(t, ok, "降级后应得到内存存储")
}

// TestOpenStoreMemory 测试显式选择内存后端
func TestOpenStoreMemory(t *testing.T) {
	store, err := OpenStore(StoreConfig{Backend: BackendMemory})
	require.NoError(t, err)
	_, ok := store.(*MemoryStore)
	assert.True(t, ok)
}

// TestOpenStoreUnknownBackend 测试未知后端返回校验错误
func TestOpenStoreUnknownBackend(t *testing.T) {
	_, err := OpenStore(StoreConfig{Backend: StoreBackend("tape")})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}
