package provider

import (
	"context"
	"encoding/json"
	"time"

	"repopulse/pkg/cache"
	"repopulse/pkg/timerange"
)

// ActivityItem 单条仓库活动记录。
// Payload 保留提供商返回的原始JSON，缓存与前端按需解析。
type ActivityItem struct {
	ID         string          `json:"id"`         // 提供商侧的唯一标识
	OccurredAt time.Time       `json:"occurredAt"` // 活动发生时间
	Payload    json.RawMessage `json:"payload"`    // 原始活动数据
}

// RateLimitStatus API 配额状态快照
type RateLimitStatus struct {
	Remaining int       `json:"remaining"` // 剩余请求数
	Limit     int       `json:"limit"`     // 配额总数
	ResetAt   time.Time `json:"resetAt"`   // 配额重置时间
}

// Fraction 返回剩余配额占总配额的比例。配额总数未知时视为充足。
func (s RateLimitStatus) Fraction() float64 {
	if s.Limit <= 0 {
		return 1.0
	}
	return float64(s.Remaining) / float64(s.Limit)
}

// ActivityProvider 是仓库活动数据提供商的基础接口。
// 实现方负责与具体平台的API交互，按时间区间返回活动记录。
type ActivityProvider interface {
	// Name 返回提供商的名称，例如 "github"。
	Name() string

	// FetchActivity 获取指定仓库在时间区间内的某类活动记录。
	// repositoryID 形如 "owner/name"，返回结果按发生时间升序。
	FetchActivity(ctx context.Context, repositoryID string, dataType cache.DataType, dateRange timerange.Range) ([]ActivityItem, error)

	// RateLimit 返回当前配额状态。
	RateLimit(ctx context.Context) (RateLimitStatus, error)
}

// RepositoryInspector 可选接口，支持查询仓库元信息的提供商实现它。
// 缓存层用归档状态决定条目的有效期。
type RepositoryInspector interface {
	// IsArchived 查询仓库是否已归档。
	IsArchived(ctx context.Context, repositoryID string) (bool, error)
}

// Closable 需要清理资源的提供商应实现此接口。
type Closable interface {
	Close() error
}
