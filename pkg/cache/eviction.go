package cache

import (
	"sort"
	"time"
)

// EvictionConfig 淘汰策略配置。
// 进程级常量集合，创建后不应修改。
type EvictionConfig struct {
	ActiveRepoTTL       time.Duration `json:"active_repo_ttl" mapstructure:"active_repo_ttl"`             // 活跃仓库条目的TTL
	ArchivedRepoTTL     time.Duration `json:"archived_repo_ttl" mapstructure:"archived_repo_ttl"`         // 归档仓库条目的TTL
	OldWindowTTL        time.Duration `json:"old_window_ttl" mapstructure:"old_window_ttl"`               // 远期历史窗口的TTL
	OldWindowAge        time.Duration `json:"old_window_age" mapstructure:"old_window_age"`               // 区间终点早于此时长即视为远期窗口
	MaxTotalSizeBytes   int64         `json:"max_total_size_bytes" mapstructure:"max_total_size_bytes"`   // 缓存总字节数上限
	MaxEntries          int64         `json:"max_entries" mapstructure:"max_entries"`                     // 缓存条目数上限
	TriggerThreshold    float64       `json:"trigger_threshold" mapstructure:"trigger_threshold"`         // 触发淘汰的占比阈值
	TargetThreshold     float64       `json:"target_threshold" mapstructure:"target_threshold"`           // 淘汰后回落到的占比
	StaleBoost          float64       `json:"stale_boost" mapstructure:"stale_boost"`                     // 过期条目的优先级加成
	RevalidatingPenalty float64       `json:"revalidating_penalty" mapstructure:"revalidating_penalty"`   // 刷新在途条目的保护减分
}

// DefaultEvictionConfig 返回默认淘汰配置。
// StaleBoost 远大于正常的"天数"量级，保证过期条目优先于任何新鲜条目被淘汰；
// RevalidatingPenalty 是有限值，极端压力下在途条目仍可被淘汰。
func DefaultEvictionConfig() EvictionConfig {
	return EvictionConfig{
		ActiveRepoTTL:       1 * time.Hour,
		ArchivedRepoTTL:     24 * time.Hour,
		OldWindowTTL:        7 * 24 * time.Hour,
		OldWindowAge:        30 * 24 * time.Hour,
		MaxTotalSizeBytes:   64 * 1024 * 1024,
		MaxEntries:          2000,
		TriggerThreshold:    0.8,
		TargetThreshold:     0.6,
		StaleBoost:          1000,
		RevalidatingPenalty: 500,
	}
}

// TTLFor 根据仓库活跃度和窗口远近返回应使用的TTL。
// 远期历史窗口的数据基本不再变化，给最长TTL；归档仓库次之。
func (c EvictionConfig) TTLFor(archived bool, rangeEnd time.Time) time.Duration {
	if time.Since(rangeEnd) > c.OldWindowAge {
		return c.OldWindowTTL
	}
	if archived {
		return c.ArchivedRepoTTL
	}
	return c.ActiveRepoTTL
}

// TargetSizeBytes 返回按目标占比折算的字节数。
func (c EvictionConfig) TargetSizeBytes() int64 {
	return int64(float64(c.MaxTotalSizeBytes) * c.TargetThreshold)
}

// TargetEntries 返回按目标占比折算的条目数。
func (c EvictionConfig) TargetEntries() int {
	return int(float64(c.MaxEntries) * c.TargetThreshold)
}

// Policy 缓存淘汰策略。
// 纯打分与选择逻辑，只操作调用方传入的条目快照，不做任何网络或存储I/O，
// 无内部可变状态，可被多个加载器并发使用而无需同步。
type Policy struct {
	config EvictionConfig
}

// NewPolicy 创建淘汰策略。
func NewPolicy(config EvictionConfig) *Policy {
	return &Policy{config: config}
}

// Config 返回策略使用的配置。
func (p *Policy) Config() EvictionConfig {
	return p.config
}

// ShouldEvict 判断当前字节占用是否达到触发阈值。
func (p *Policy) ShouldEvict(currentSizeBytes, maxSizeBytes int64) bool {
	return float64(currentSizeBytes) >= float64(maxSizeBytes)*p.config.TriggerThreshold
}

// ShouldEvictByCount 判断当前条目数是否达到触发阈值。
func (p *Policy) ShouldEvictByCount(currentCount, maxEntries int64) bool {
	return float64(currentCount) >= float64(maxEntries)*p.config.TriggerThreshold
}

// Score 计算条目的淘汰优先级，分值越高越先被淘汰。
// score = 距最后访问的天数 + (过期 ? StaleBoost : 0) - (刷新在途 ? RevalidatingPenalty : 0)。
// 过期加成远大于天数量级，过期始终压过新近度；在途保护是有限减分而非无穷大。
func (p *Policy) Score(entry Entry) float64 {
	return p.scoreAt(entry, time.Now())
}

func (p *Policy) scoreAt(entry Entry, now time.Time) float64 {
	score := now.Sub(entry.LastAccessedAt).Hours() / 24
	if entry.IsStaleAt(now) {
		score += p.config.StaleBoost
	}
	if entry.IsRevalidating {
		score -= p.config.RevalidatingPenalty
	}
	return score
}

// CandidatesForSizeTarget 选出为将总字节数降至 targetBytes 而应淘汰的条目。
// 若总大小已不超过目标则返回空；否则按分值降序累加，释放字节数刚好覆盖超出量即停。
// 分值相同时保持输入顺序（稳定排序），给定相同输入结果确定。
func (p *Policy) CandidatesForSizeTarget(entries []Entry, targetBytes int64) []Entry {
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	if total <= targetBytes {
		return nil
	}

	ranked := p.rank(entries)

	toFree := total - targetBytes
	var freed int64
	candidates := make([]Entry, 0)
	for _, e := range ranked {
		if freed >= toFree {
			break
		}
		candidates = append(candidates, e)
		freed += e.SizeBytes
	}
	return candidates
}

// CandidatesForCountTarget 选出为将条目数降至 targetCount 而应淘汰的条目（按分值取前N个）。
func (p *Policy) CandidatesForCountTarget(entries []Entry, targetCount int) []Entry {
	if len(entries) <= targetCount {
		return nil
	}
	ranked := p.rank(entries)
	return ranked[:len(entries)-targetCount]
}

// rank 返回按淘汰优先级降序的条目副本，整个快照使用同一时刻取时。
func (p *Policy) rank(entries []Entry) []Entry {
	now := time.Now()
	ranked := make([]Entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return p.scoreAt(ranked[i], now) > p.scoreAt(ranked[j], now)
	})
	return ranked
}

// StaleEntries 过滤出所有已过期的条目，供与容量压力无关的机会式清扫使用。
func (p *Policy) StaleEntries(entries []Entry) []Entry {
	now := time.Now()
	stale := make([]Entry, 0)
	for _, e := range entries {
		if e.IsStaleAt(now) {
			stale = append(stale, e)
		}
	}
	return stale
}

// UsagePercentage 返回字节占用百分比，仅用于观测。
func (p *Policy) UsagePercentage(currentBytes, maxBytes int64) float64 {
	if maxBytes <= 0 {
		return 0
	}
	return 100 * float64(currentBytes) / float64(maxBytes)
}
