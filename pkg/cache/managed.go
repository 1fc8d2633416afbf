package cache

import (
	"context"

	"repopulse/pkg/logger"
	"repopulse/pkg/timerange"
)

// ManagedStore 在底层存储之上应用淘汰策略。
// 每次写入后检查容量压力，超过触发阈值时按评分淘汰到目标水位。
// 加载器和上层代码只面对 Store 接口，不关心底层是哪种后端。
type ManagedStore struct {
	Store

	policy *Policy
	log    *logger.Entry
}

// NewManagedStore 将存储与淘汰策略组合为受管存储。
func NewManagedStore(store Store, policy *Policy) *ManagedStore {
	return &ManagedStore{
		Store:  store,
		policy: policy,
		log:    logger.WithComponent("cache.managed"),
	}
}

// Policy 返回当前使用的淘汰策略。
func (ms *ManagedStore) Policy() *Policy {
	return ms.policy
}

// Set 写入条目后执行容量检查。
func (ms *ManagedStore) Set(ctx context.Context, entry Entry) error {
	if err := ms.Store.Set(ctx, entry); err != nil {
		return err
	}
	ms.enforcePressure(ctx)
	return nil
}

// SetMany 批量写入后执行一次容量检查。
func (ms *ManagedStore) SetMany(ctx context.Context, entries []Entry) error {
	if err := ms.Store.SetMany(ctx, entries); err != nil {
		return err
	}
	ms.enforcePressure(ctx)
	return nil
}

// GetByDateRange 转发到底层存储。
func (ms *ManagedStore) GetByDateRange(ctx context.Context, repositoryID string, dataType DataType, dateRange timerange.Range) (Entry, error) {
	return ms.Store.GetByDateRange(ctx, repositoryID, dataType, dateRange)
}

// EnforcePressure 立即执行一次容量检查，供定时清理任务调用。
func (ms *ManagedStore) EnforcePressure(ctx context.Context) {
	ms.enforcePressure(ctx)
}

// enforcePressure 检查容量压力并淘汰超出部分。
// 淘汰失败只记录日志，写入本身已经成功，不向调用方传播。
func (ms *ManagedStore) enforcePressure(ctx context.Context) {
	stats, err := ms.Store.GetStats(ctx)
	if err != nil {
		ms.log.WithError(err).Warn("读取缓存统计失败，跳过容量检查")
		return
	}

	cfg := ms.policy.Config()
	overSize := ms.policy.ShouldEvict(stats.TotalSizeBytes, cfg.MaxTotalSizeBytes)
	overCount := ms.policy.ShouldEvictByCount(stats.TotalEntries, cfg.MaxEntries)
	if !overSize && !overCount {
		return
	}

	entries, err := ms.Store.GetAll(ctx)
	if err != nil {
		ms.log.WithError(err).Warn("读取缓存条目失败，跳过淘汰")
		return
	}

	seen := make(map[string]bool)
	var victims []string
	if overSize {
		for _, e := range ms.policy.CandidatesForSizeTarget(entries, cfg.TargetSizeBytes()) {
			if !seen[e.Key] {
				seen[e.Key] = true
				victims = append(victims, e.Key)
			}
		}
	}
	if overCount {
		for _, e := range ms.policy.CandidatesForCountTarget(entries, cfg.TargetEntries()) {
			if !seen[e.Key] {
				seen[e.Key] = true
				victims = append(victims, e.Key)
			}
		}
	}
	if len(victims) == 0 {
		return
	}

	if err := ms.Store.Evict(ctx, victims); err != nil {
		ms.log.WithError(err).Warnf("淘汰 %d 个条目失败", len(victims))
		return
	}
	ms.log.Infof("容量压力淘汰: 删除 %d 个条目 (大小 %.1f%%, 条目数 %d)",
		len(victims), ms.policy.UsagePercentage(stats.TotalSizeBytes, cfg.MaxTotalSizeBytes), stats.TotalEntries)
}

var _ Store = (*ManagedStore)(nil)
