package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"repopulse/pkg/logger"
	"repopulse/pkg/timerange"
)

// RedisStoreConfig 远程存储配置
type RedisStoreConfig struct {
	Addr      string        `json:"addr" mapstructure:"addr"`           // Redis 服务器地址
	Password  string        `json:"password" mapstructure:"password"`   // Redis 密码
	DB        int           `json:"db" mapstructure:"db"`               // 数据库编号
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix"` // 键前缀
	Retention time.Duration `json:"retention" mapstructure:"retention"` // 硬保留时长（见下）
}

// DefaultRedisStoreConfig 返回默认远程存储配置。
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "repopulse:cache",
		Retention: 14 * 24 * time.Hour,
	}
}

// RedisStore 基于Redis的远程存储实现，供多个进程共享同一份缓存时使用。
// 注意条目的业务过期（ExpiresAt）不映射为Redis TTL：过期条目对加载器仍然可用，
// 只有 Retention 作为硬保留时长兜底，超过后由Redis自行回收。
type RedisStore struct {
	client    *redis.Client
	config    RedisStoreConfig
	log       *logger.Entry
	hitCount  int64
	missCount int64
}

// NewRedisStore 创建远程存储并验证连通性。
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "repopulse:cache"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, WrapError(ErrStorageUnavailable, "ping redis", err)
	}

	return &RedisStore{
		client: client,
		config: config,
		log:    logger.WithComponent("cache.redis"),
	}, nil
}

func (rs *RedisStore) entryKey(key string) string {
	return rs.config.KeyPrefix + ":entry:" + key
}

func (rs *RedisStore) indexKey() string {
	return rs.config.KeyPrefix + ":index"
}

func (rs *RedisStore) repoIndexKey(repositoryID string) string {
	return rs.config.KeyPrefix + ":repo:" + repositoryID
}

// Get 按键获取条目，命中时刷新最后访问时间。
func (rs *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := rs.client.Get(ctx, rs.entryKey(key)).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&rs.missCount, 1)
		return Entry{}, NewCacheError(ErrEntryMiss, "cache miss").WithContext("key", key)
	}
	if err != nil {
		rs.log.WithError(err).Warnf("读取远程缓存失败，按未命中处理: key=%s", key)
		atomic.AddInt64(&rs.missCount, 1)
		return Entry{}, WrapError(ErrEntryMiss, "cache read failed", err)
	}

	entry, derr := Deserialize(raw)
	if derr != nil {
		rs.log.WithError(derr).Warnf("远程缓存记录已损坏，删除并按未命中处理: key=%s", key)
		rs.removeKey(ctx, key, "")
		atomic.AddInt64(&rs.missCount, 1)
		return Entry{}, WrapError(ErrCorrupted, "corrupt cache record", derr)
	}

	touched := entry.Touch()
	if err := rs.writeEntry(ctx, touched); err != nil {
		rs.log.WithError(err).Debugf("刷新访问时间失败: key=%s", key)
	}

	atomic.AddInt64(&rs.hitCount, 1)
	return touched, nil
}

// GetByDateRange 按三元组精确匹配获取条目。
func (rs *RedisStore) GetByDateRange(ctx context.Context, repositoryID string, dataType DataType, dateRange timerange.Range) (Entry, error) {
	return rs.Get(ctx, BuildKey(repositoryID, dataType, dateRange))
}

func (rs *RedisStore) writeEntry(ctx context.Context, entry Entry) error {
	raw, err := entry.Serialize()
	if err != nil {
		return err
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.entryKey(entry.Key), raw, rs.config.Retention)
	pipe.SAdd(ctx, rs.indexKey(), entry.Key)
	pipe.SAdd(ctx, rs.repoIndexKey(entry.RepositoryID), entry.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return WrapError(ErrStorageIO, "write cache entry", err)
	}
	return nil
}

// Set 插入或覆盖条目。
func (rs *RedisStore) Set(ctx context.Context, entry Entry) error {
	return rs.writeEntry(ctx, entry)
}

// SetMany 通过事务管道批量写入条目。
func (rs *RedisStore) SetMany(ctx context.Context, entries []Entry) error {
	pipe := rs.client.TxPipeline()
	for _, entry := range entries {
		raw, err := entry.Serialize()
		if err != nil {
			return err
		}
		pipe.Set(ctx, rs.entryKey(entry.Key), raw, rs.config.Retention)
		pipe.SAdd(ctx, rs.indexKey(), entry.Key)
		pipe.SAdd(ctx, rs.repoIndexKey(entry.RepositoryID), entry.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return WrapError(ErrStorageIO, "batch write cache entries", err)
	}
	return nil
}

// fetchByKeys 按键集合取回条目，已被Redis回收或损坏的键顺带从索引清理。
func (rs *RedisStore) fetchByKeys(ctx context.Context, keys []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := rs.client.Get(ctx, rs.entryKey(key)).Bytes()
		if err == redis.Nil {
			rs.removeKey(ctx, key, "")
			continue
		}
		if err != nil {
			return nil, WrapError(ErrStorageIO, "read cache entry", err)
		}
		entry, derr := Deserialize(raw)
		if derr != nil {
			rs.log.WithError(derr).Warn("跳过损坏的远程缓存记录")
			rs.removeKey(ctx, key, "")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetAll 返回所有条目。
func (rs *RedisStore) GetAll(ctx context.Context) ([]Entry, error) {
	keys, err := rs.client.SMembers(ctx, rs.indexKey()).Result()
	if err != nil {
		return nil, WrapError(ErrStorageIO, "read cache index", err)
	}
	return rs.fetchByKeys(ctx, keys)
}

// GetByRepository 返回指定仓库的所有条目。
func (rs *RedisStore) GetByRepository(ctx context.Context, repositoryID string) ([]Entry, error) {
	keys, err := rs.client.SMembers(ctx, rs.repoIndexKey(repositoryID)).Result()
	if err != nil {
		return nil, WrapError(ErrStorageIO, "read repository index", err)
	}
	return rs.fetchByKeys(ctx, keys)
}

// GetStats 返回聚合统计信息。
func (rs *RedisStore) GetStats(ctx context.Context) (StoreStats, error) {
	entries, err := rs.GetAll(ctx)
	if err != nil {
		return StoreStats{}, err
	}

	stats := StoreStats{
		TotalEntries: int64(len(entries)),
		HitCount:     atomic.LoadInt64(&rs.hitCount),
		MissCount:    atomic.LoadInt64(&rs.missCount),
	}
	for _, entry := range entries {
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

// removeKey 删除条目及其索引项。repositoryID 为空时尝试从键中解析。
func (rs *RedisStore) removeKey(ctx context.Context, key, repositoryID string) {
	if repositoryID == "" {
		if repoID, _, _, err := ParseKey(key); err == nil {
			repositoryID = repoID
		}
	}

	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.entryKey(key))
	pipe.SRem(ctx, rs.indexKey(), key)
	if repositoryID != "" {
		pipe.SRem(ctx, rs.repoIndexKey(repositoryID), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		rs.log.WithError(err).Debugf("清理远程缓存键失败: key=%s", key)
	}
}

// Evict 批量删除指定键的条目。
func (rs *RedisStore) Evict(ctx context.Context, keys []string) error {
	for _, key := range keys {
		rs.removeKey(ctx, key, "")
	}
	return nil
}

// Delete 删除单个条目。
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	rs.removeKey(ctx, key, "")
	return nil
}

// ClearRepository 删除指定仓库的全部条目。
func (rs *RedisStore) ClearRepository(ctx context.Context, repositoryID string) error {
	keys, err := rs.client.SMembers(ctx, rs.repoIndexKey(repositoryID)).Result()
	if err != nil {
		return WrapError(ErrStorageIO, "read repository index", err)
	}
	for _, key := range keys {
		rs.removeKey(ctx, key, repositoryID)
	}
	return rs.client.Del(ctx, rs.repoIndexKey(repositoryID)).Err()
}

// ClearAll 清空存储中带本前缀的所有条目。
func (rs *RedisStore) ClearAll(ctx context.Context) error {
	keys, err := rs.client.SMembers(ctx, rs.indexKey()).Result()
	if err != nil {
		return WrapError(ErrStorageIO, "read cache index", err)
	}
	for _, key := range keys {
		rs.removeKey(ctx, key, "")
	}
	atomic.StoreInt64(&rs.hitCount, 0)
	atomic.StoreInt64(&rs.missCount, 0)
	return rs.client.Del(ctx, rs.indexKey()).Err()
}

// Close 关闭Redis连接。
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

var _ Store = (*RedisStore)(nil)
