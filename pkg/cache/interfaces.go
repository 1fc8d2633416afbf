package cache

import (
	"context"
	"time"

	"repopulse/pkg/timerange"
)

// Store 定义了缓存存储后端的通用接口。
// 持久层（SQLite）、内存层和远程层（Redis）都遵循此接口；
// 上层组件只依赖接口，绝不感知具体后端类型。
//
// 失败语义约定：写路径（Set/SetMany）的配额或校验失败必须作为错误返回给调用方；
// 读路径（Get/GetByDateRange）遇到损坏记录时按未命中处理，缓存是性能优化而非正确性依赖。
type Store interface {
	// Get 按键获取条目，未命中返回 ErrEntryMiss 类错误。
	Get(ctx context.Context, key string) (Entry, error)
	// GetByDateRange 按 (仓库, 数据类型, 日期区间) 精确匹配获取条目。
	// 只做精确区间匹配，区间对齐由调用方（分块加载器）负责。
	GetByDateRange(ctx context.Context, repositoryID string, dataType DataType, dateRange timerange.Range) (Entry, error)
	// Set 按键插入或覆盖条目。
	Set(ctx context.Context, entry Entry) error
	// SetMany 批量插入或覆盖条目，对调用方表现为一次原子写。
	SetMany(ctx context.Context, entries []Entry) error
	// GetAll 返回所有条目的快照。
	GetAll(ctx context.Context) ([]Entry, error)
	// GetByRepository 返回指定仓库的所有条目。
	GetByRepository(ctx context.Context, repositoryID string) ([]Entry, error)
	// GetStats 返回存储的聚合统计信息。
	GetStats(ctx context.Context) (StoreStats, error)
	// Evict 批量删除指定键的条目（淘汰路径）。
	Evict(ctx context.Context, keys []string) error
	// Delete 删除单个条目。
	Delete(ctx context.Context, key string) error
	// ClearRepository 删除指定仓库的全部条目。
	ClearRepository(ctx context.Context, repositoryID string) error
	// ClearAll 清空存储。
	ClearAll(ctx context.Context) error
	// Close 关闭存储并释放资源。
	Close() error
}

// StoreStats 存储的聚合统计信息
type StoreStats struct {
	TotalEntries   int64     `json:"totalEntries"`   // 条目总数
	TotalSizeBytes int64     `json:"totalSizeBytes"` // 负载字节数总和
	OldestEntry    time.Time `json:"oldestEntry"`    // 最早的写入时间，空存储时为零值
	NewestEntry    time.Time `json:"newestEntry"`    // 最晚的写入时间，空存储时为零值
	HitCount       int64     `json:"hitCount"`       // 命中次数
	MissCount      int64     `json:"missCount"`      // 未命中次数
}

// HitRate 返回命中率，无访问记录时为0。
func (s StoreStats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}
