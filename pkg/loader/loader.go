// Package loader 分块历史数据加载器。
// 把长时间区间拆成固定天数的分块，从早到晚逐块加载，
// 优先使用缓存，周期性检查API配额，支持随时取消。
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"repopulse/pkg/cache"
	"repopulse/pkg/logger"
	"repopulse/pkg/provider"
	"repopulse/pkg/timerange"
)

var (
	// ErrAborted 加载在第一个分块开始前就被取消。
	// 已经有分块完成时取消不返回错误，而是返回 StatusAborted 的部分结果。
	ErrAborted = errors.New("historical load aborted before first chunk")

	// ErrUnknownDataType 请求了不支持的数据类型。
	ErrUnknownDataType = errors.New("unknown data type")
)

// Config 加载器配置
type Config struct {
	ChunkDays         int           `json:"chunk_days" mapstructure:"chunk_days"`                   // 单块覆盖天数
	RateCheckInterval int           `json:"rate_check_interval" mapstructure:"rate_check_interval"` // 每隔多少块检查一次配额
	MinBudgetFraction float64       `json:"min_budget_fraction" mapstructure:"min_budget_fraction"` // 剩余配额比例下限，低于即停止
	EntryTTL          time.Duration `json:"entry_ttl" mapstructure:"entry_ttl"`                     // 新缓存条目的兜底有效期
}

// DefaultConfig 返回默认加载器配置。
func DefaultConfig() Config {
	return Config{
		ChunkDays:         90,
		RateCheckInterval: 2,
		MinBudgetFraction: 0.10,
		EntryTTL:          1 * time.Hour,
	}
}

// Loader 分块历史数据加载器。
// 并发安全，多个 LoadHistorical 调用可以共用同一个实例。
type Loader struct {
	store    cache.Store
	source   provider.ActivityProvider
	config   Config
	eviction cache.EvictionConfig
}

// New 创建加载器。
func New(store cache.Store, source provider.ActivityProvider, config Config) *Loader {
	if config.ChunkDays <= 0 {
		config.ChunkDays = 90
	}
	if config.RateCheckInterval <= 0 {
		config.RateCheckInterval = 2
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = 1 * time.Hour
	}

	return &Loader{
		store:    store,
		source:   source,
		config:   config,
		eviction: cache.DefaultEvictionConfig(),
	}
}

// SetEvictionConfig 设置用于推导条目有效期的淘汰配置。
func (l *Loader) SetEvictionConfig(eviction cache.EvictionConfig) {
	l.eviction = eviction
}

// LoadHistorical 加载指定仓库在时间区间内的历史活动数据。
//
// 区间被拆成 ChunkDays 天的分块并从早到晚处理。每个分块依次经过：
// 取消检查、配额检查（每 RateCheckInterval 块一次）、缓存查找、API拉取。
// 缓存命中（无论是否过期）直接使用缓存数据，不触发拉取；
// 拉取失败的分块记为空并继续，不中断整体加载。
//
// 在第一个分块开始前取消返回 (nil, ErrAborted)；之后取消返回已加载
// 部分的 StatusAborted 结果。配额低于下限时返回 StatusPartial 结果。
func (l *Loader) LoadHistorical(ctx context.Context, repositoryID string, dataType cache.DataType, dateRange timerange.Range, onProgress ProgressFunc) (*Result, error) {
	if !dataType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
	}
	if owner, name, ok := strings.Cut(repositoryID, "/"); !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository id: %q", repositoryID)
	}

	chunks := dateRange.Split(l.config.ChunkDays)
	loadID := uuid.NewString()
	log := logger.WithRepository("loader", repositoryID).WithField("load_id", loadID)
	log.Infof("开始历史加载: type=%s range=%s chunks=%d", dataType, dateRange, len(chunks))

	// 取消先于归档探测检查，取消后的调用不再产生任何上游请求
	if ctx.Err() != nil {
		log.Warn("加载在开始前被取消")
		return nil, ErrAborted
	}

	archived := l.probeArchived(ctx, repositoryID, log)

	result := &Result{
		Status:       StatusCompleted,
		RepositoryID: repositoryID,
		DataType:     dataType,
		DateRange:    dateRange,
		ChunksTotal:  len(chunks),
	}

	for i, chunk := range chunks {
		// 取消检查在每个分块开头做一次，分块内部不再响应取消
		if ctx.Err() != nil {
			if i == 0 {
				log.Warn("加载在第一个分块前被取消")
				return nil, ErrAborted
			}
			log.Warnf("加载被取消: 已完成 %d/%d 个分块", i, len(chunks))
			result.Status = StatusAborted
			return result, nil
		}

		if i > 0 && i%l.config.RateCheckInterval == 0 {
			if !l.budgetAllows(ctx, log) {
				log.Warnf("配额不足，提前停止: 已完成 %d/%d 个分块", i, len(chunks))
				result.Status = StatusPartial
				return result, nil
			}
		}

		items, fromCache := l.loadChunk(ctx, repositoryID, dataType, chunk, archived, log, result)
		result.Items = append(result.Items, items...)
		result.ChunksLoaded++
		if fromCache {
			result.ChunksFromCache++
		}

		if onProgress != nil {
			onProgress(Progress{
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				ChunkRange:  chunk,
				ItemsLoaded: len(items),
				TotalItems:  len(result.Items),
				FromCache:   fromCache,
			})
		}
	}

	log.Infof("历史加载完成: items=%d cached_chunks=%d/%d", len(result.Items), result.ChunksFromCache, result.ChunksTotal)
	return result, nil
}

// loadChunk 加载单个分块，先查缓存，未命中再走API。
// 拉取失败的分块返回空记录并登记到 FailedRanges。
func (l *Loader) loadChunk(ctx context.Context, repositoryID string, dataType cache.DataType, chunk timerange.Range, archived bool, log *logger.Entry, result *Result) ([]provider.ActivityItem, bool) {
	entry, err := l.store.GetByDateRange(ctx, repositoryID, dataType, chunk)
	if err == nil {
		items, derr := decodeItems(entry.Data)
		if derr == nil {
			return items, true
		}
		log.WithError(derr).Warnf("缓存数据解码失败，重新拉取: chunk=%s", chunk)
	} else if !cache.IsMiss(err) {
		log.WithError(err).Warnf("缓存查询失败，按未命中处理: chunk=%s", chunk)
	}

	items, err := l.source.FetchActivity(ctx, repositoryID, dataType, chunk)
	if err != nil {
		log.WithError(err).Warnf("拉取分块失败，记为空分块: chunk=%s", chunk)
		result.FailedRanges = append(result.FailedRanges, chunk)
		return nil, false
	}
	if items == nil {
		items = []provider.ActivityItem{}
	}

	l.cacheChunk(ctx, repositoryID, dataType, chunk, items, archived, log)
	return items, false
}

// cacheChunk 把分块写入缓存，写入失败只记录日志，不影响加载结果。
func (l *Loader) cacheChunk(ctx context.Context, repositoryID string, dataType cache.DataType, chunk timerange.Range, items []provider.ActivityItem, archived bool, log *logger.Entry) {
	data, err := json.Marshal(items)
	if err != nil {
		log.WithError(err).Warnf("编码分块数据失败: chunk=%s", chunk)
		return
	}

	ttl := l.eviction.TTLFor(archived, chunk.End)
	if ttl <= 0 {
		ttl = l.config.EntryTTL
	}

	entry, err := cache.New(repositoryID, dataType, chunk, data, ttl)
	if err != nil {
		log.WithError(err).Warnf("构造缓存条目失败: chunk=%s", chunk)
		return
	}
	if err := l.store.Set(ctx, entry); err != nil {
		log.WithError(err).Warnf("写入缓存失败: chunk=%s", chunk)
	}
}

// budgetAllows 检查剩余配额是否足够继续。探测失败时按充足处理。
func (l *Loader) budgetAllows(ctx context.Context, log *logger.Entry) bool {
	status, err := l.source.RateLimit(ctx)
	if err != nil {
		log.WithError(err).Debug("配额查询失败，继续加载")
		return true
	}
	if status.Fraction() < l.config.MinBudgetFraction {
		log.Warnf("剩余配额 %d/%d 低于下限 %.0f%%", status.Remaining, status.Limit, l.config.MinBudgetFraction*100)
		return false
	}
	return true
}

// probeArchived 查询仓库归档状态，提供商不支持或查询失败时按未归档处理。
func (l *Loader) probeArchived(ctx context.Context, repositoryID string, log *logger.Entry) bool {
	inspector, ok := l.source.(provider.RepositoryInspector)
	if !ok {
		return false
	}
	archived, err := inspector.IsArchived(ctx, repositoryID)
	if err != nil {
		log.WithError(err).Debug("仓库归档状态查询失败，按未归档处理")
		return false
	}
	return archived
}

func decodeItems(data json.RawMessage) ([]provider.ActivityItem, error) {
	var items []provider.ActivityItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
