package loader

import (
	"repopulse/pkg/cache"
	"repopulse/pkg/provider"
	"repopulse/pkg/timerange"
)

// Status 一次历史加载的最终状态
type Status string

const (
	StatusCompleted Status = "completed" // 全部分块加载完成
	StatusPartial   Status = "partial"   // 配额不足，提前停止
	StatusAborted   Status = "aborted"   // 加载中途被取消
)

// Progress 分块加载进度，每完成一个分块回调一次。
type Progress struct {
	ChunkIndex  int             `json:"chunkIndex"`  // 当前分块序号，从0开始
	TotalChunks int             `json:"totalChunks"` // 分块总数
	ChunkRange  timerange.Range `json:"chunkRange"`  // 当前分块覆盖的区间
	ItemsLoaded int             `json:"itemsLoaded"` // 当前分块的记录数
	TotalItems  int             `json:"totalItems"`  // 累计记录数
	FromCache   bool            `json:"fromCache"`   // 当前分块是否来自缓存
}

// ProgressFunc 进度回调，nil 表示不需要进度通知。
type ProgressFunc func(Progress)

// Result 一次历史加载的结果。
// 部分完成时 Items 包含已加载分块的全部记录，按发生时间升序。
type Result struct {
	Status          Status                  `json:"status"`
	RepositoryID    string                  `json:"repositoryId"`
	DataType        cache.DataType          `json:"dataType"`
	DateRange       timerange.Range         `json:"dateRange"`
	Items           []provider.ActivityItem `json:"items"`
	ChunksTotal     int                     `json:"chunksTotal"`
	ChunksLoaded    int                     `json:"chunksLoaded"`    // 已处理的分块数，含缓存命中与拉取失败的空分块
	ChunksFromCache int                     `json:"chunksFromCache"` // 缓存命中的分块数
	FailedRanges    []timerange.Range       `json:"failedRanges"`    // 拉取失败、以空分块带过的区间
}

// Complete 判断加载是否全部完成。
func (r *Result) Complete() bool {
	return r.Status == StatusCompleted
}

// FromCache 判断结果是否完全由缓存命中组成，未触发任何拉取。
func (r *Result) FromCache() bool {
	return r.ChunksTotal > 0 && r.ChunksFromCache == r.ChunksTotal
}
