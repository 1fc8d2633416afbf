package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"repopulse/pkg/logger"
	"repopulse/pkg/timerange"
)

// SQLiteStoreConfig SQLite持久存储配置
type SQLiteStoreConfig struct {
	Path string `json:"path" mapstructure:"path"` // 数据库文件路径
}

// SQLiteStore 基于SQLite的持久化存储实现，是正常情况下的主后端。
// 条目以持久化JSON形式存入record列，时间戳列冗余为unix纳秒整数以便索引和聚合。
// 单个损坏的行在读取时按未命中处理并被清除，不会让读操作失败。
type SQLiteStore struct {
	db        *sql.DB
	log       *logger.Entry
	hitCount  int64
	missCount int64
}

// NewSQLiteStore 打开（必要时创建）数据库文件并准备表结构。
// 打开或建表失败返回 ErrStorageUnavailable 类错误，供工厂回退到内存后端。
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, WrapError(ErrStorageUnavailable, "create cache directory", err)
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, WrapError(ErrStorageUnavailable, "open sqlite database", err)
	}

	st := &SQLiteStore{
		db:  db,
		log: logger.WithComponent("cache.sqlite"),
	}

	if err := st.configurePragmas(); err != nil {
		db.Close()
		return nil, WrapError(ErrStorageUnavailable, "configure sqlite pragmas", err)
	}
	if err := st.createTables(); err != nil {
		db.Close()
		return nil, WrapError(ErrStorageUnavailable, "create cache tables", err)
	}

	return st, nil
}

func (st *SQLiteStore) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := st.db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

func (st *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key           TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		data_type     TEXT NOT NULL,
		range_start   INTEGER NOT NULL,
		range_end     INTEGER NOT NULL,
		record        BLOB NOT NULL,
		size_bytes    INTEGER NOT NULL,
		cached_at     INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_repository ON cache_entries (repository_id);
	CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries (last_accessed);
	`
	_, err := st.db.Exec(query)
	return err
}

// Get 按键获取条目，命中时刷新最后访问时间。
func (st *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	var raw []byte
	err := st.db.QueryRowContext(ctx, "SELECT record FROM cache_entries WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		atomic.AddInt64(&st.missCount, 1)
		return Entry{}, NewCacheError(ErrEntryMiss, "cache miss").WithContext("key", key)
	}
	if err != nil {
		// 存储层读失败按未命中处理，缓存不是正确性依赖
		st.log.WithError(err).Warnf("读取缓存记录失败，按未命中处理: key=%s", key)
		atomic.AddInt64(&st.missCount, 1)
		return Entry{}, WrapError(ErrEntryMiss, "cache read failed", err)
	}

	entry, err := Deserialize(raw)
	if err != nil {
		// 损坏的行直接清除，避免反复读到
		st.log.WithError(err).Warnf("缓存记录已损坏，删除并按未命中处理: key=%s", key)
		if _, derr := st.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); derr != nil {
			st.log.WithError(derr).Warnf("删除损坏记录失败: key=%s", key)
		}
		atomic.AddInt64(&st.missCount, 1)
		return Entry{}, WrapError(ErrCorrupted, "corrupt cache record", err)
	}

	touched := entry.Touch()
	if err := st.writeEntry(ctx, st.db, touched); err != nil {
		// 访问时间刷新失败不影响命中结果
		st.log.WithError(err).Debugf("刷新访问时间失败: key=%s", key)
	}

	atomic.AddInt64(&st.hitCount, 1)
	return touched, nil
}

// GetByDateRange 按三元组精确匹配获取条目。
func (st *SQLiteStore) GetByDateRange(ctx context.Context, repositoryID string, dataType DataType, dateRange timerange.Range) (Entry, error) {
	return st.Get(ctx, BuildKey(repositoryID, dataType, dateRange))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (st *SQLiteStore) writeEntry(ctx context.Context, ex execer, entry Entry) error {
	raw, err := entry.Serialize()
	if err != nil {
		return err
	}

	query := `
	INSERT OR REPLACE INTO cache_entries
		(key, repository_id, data_type, range_start, range_end, record, size_bytes, cached_at, last_accessed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = ex.ExecContext(ctx, query,
		entry.Key,
		entry.RepositoryID,
		string(entry.DataType),
		entry.DateRange.Start.UnixNano(),
		entry.DateRange.End.UnixNano(),
		raw,
		entry.SizeBytes,
		entry.CachedAt.UnixNano(),
		entry.LastAccessedAt.UnixNano(),
	)
	if err != nil {
		return WrapError(ErrStorageIO, "write cache entry", err)
	}
	return nil
}

// Set 插入或覆盖条目。写失败向调用方返回错误。
func (st *SQLiteStore) Set(ctx context.Context, entry Entry) error {
	return st.writeEntry(ctx, st.db, entry)
}

// SetMany 在单个事务内批量插入或覆盖条目，对调用方表现为一次原子写。
func (st *SQLiteStore) SetMany(ctx context.Context, entries []Entry) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(ErrStorageIO, "begin batch write", err)
	}

	for _, entry := range entries {
		if err := st.writeEntry(ctx, tx, entry); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return WrapError(ErrStorageIO, "commit batch write", err)
	}
	return nil
}

// queryEntries 执行查询并反序列化所有行，损坏行跳过。
func (st *SQLiteStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapError(ErrStorageIO, "query cache entries", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, WrapError(ErrStorageIO, "scan cache record", err)
		}
		entry, derr := Deserialize(raw)
		if derr != nil {
			st.log.WithError(derr).Warn("跳过损坏的缓存记录")
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrStorageIO, "iterate cache records", err)
	}
	return entries, nil
}

// GetAll 返回所有条目。
func (st *SQLiteStore) GetAll(ctx context.Context) ([]Entry, error) {
	return st.queryEntries(ctx, "SELECT record FROM cache_entries")
}

// GetByRepository 返回指定仓库的所有条目。
func (st *SQLiteStore) GetByRepository(ctx context.Context, repositoryID string) ([]Entry, error) {
	return st.queryEntries(ctx, "SELECT record FROM cache_entries WHERE repository_id = ?", repositoryID)
}

// GetStats 返回聚合统计信息。
func (st *SQLiteStore) GetStats(ctx context.Context) (StoreStats, error) {
	var (
		count  int64
		size   sql.NullInt64
		oldest sql.NullInt64
		newest sql.NullInt64
	)
	query := "SELECT COUNT(*), SUM(size_bytes), MIN(cached_at), MAX(cached_at) FROM cache_entries"
	if err := st.db.QueryRowContext(ctx, query).Scan(&count, &size, &oldest, &newest); err != nil {
		return StoreStats{}, WrapError(ErrStorageIO, "aggregate cache stats", err)
	}

	stats := StoreStats{
		TotalEntries:   count,
		TotalSizeBytes: size.Int64,
		HitCount:       atomic.LoadInt64(&st.hitCount),
		MissCount:      atomic.LoadInt64(&st.missCount),
	}
	if oldest.Valid {
		stats.OldestEntry = time.Unix(0, oldest.Int64).UTC()
	}
	if newest.Valid {
		stats.NewestEntry = time.Unix(0, newest.Int64).UTC()
	}
	return stats, nil
}

// Evict 批量删除指定键的条目。
func (st *SQLiteStore) Evict(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(ErrStorageIO, "begin eviction", err)
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			tx.Rollback()
			return WrapError(ErrStorageIO, "evict cache entry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return WrapError(ErrStorageIO, "commit eviction", err)
	}
	return nil
}

// Delete 删除单个条目。
func (st *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := st.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return WrapError(ErrStorageIO, "delete cache entry", err)
	}
	return nil
}

// ClearRepository 删除指定仓库的全部条目。
func (st *SQLiteStore) ClearRepository(ctx context.Context, repositoryID string) error {
	if _, err := st.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE repository_id = ?", repositoryID); err != nil {
		return WrapError(ErrStorageIO, "clear repository entries", err)
	}
	return nil
}

// ClearAll 清空存储。
func (st *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := st.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return WrapError(ErrStorageIO, "clear cache", err)
	}
	atomic.StoreInt64(&st.hitCount, 0)
	atomic.StoreInt64(&st.missCount, 0)
	return nil
}

// Close 关闭数据库连接。
func (st *SQLiteStore) Close() error {
	return st.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
