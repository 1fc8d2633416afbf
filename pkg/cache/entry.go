// Package cache 实现了仓库活动数据的渐进式缓存层：
// 不可变的缓存条目模型、可替换的存储后端（SQLite持久层、内存、Redis远程层）、
// 纯函数式的淘汰策略以及基于cron的后台清扫器。
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"repopulse/pkg/timerange"
)

// DataType 缓存数据类型
type DataType string

const (
	DataTypePullRequests DataType = "pull_requests" // PR活动数据
	DataTypeDeployments  DataType = "deployments"   // 部署记录
	DataTypeCommits      DataType = "commits"       // 提交记录
)

// Valid 判断数据类型是否为已知类型
func (dt DataType) Valid() bool {
	switch dt {
	case DataTypePullRequests, DataTypeDeployments, DataTypeCommits:
		return true
	}
	return false
}

// keySeparator 缓存键各段之间的分隔符。
// 仓库标识形如 "owner/name"，不会包含竖线，时间戳采用RFC3339Nano，保证键可无损解析。
const keySeparator = "|"

// BuildKey 由 (仓库, 数据类型, 日期区间) 三元组构造缓存键。
func BuildKey(repositoryID string, dataType DataType, dateRange timerange.Range) string {
	return strings.Join([]string{
		repositoryID,
		string(dataType),
		dateRange.Start.UTC().Format(time.RFC3339Nano),
		dateRange.End.UTC().Format(time.RFC3339Nano),
	}, keySeparator)
}

// ParseKey 将缓存键还原为构成它的三元组，与 BuildKey 互逆。
func ParseKey(key string) (repositoryID string, dataType DataType, dateRange timerange.Range, err error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 4 {
		err = NewCacheError(ErrValidation, fmt.Sprintf("malformed cache key: %q", key))
		return
	}

	start, perr := time.Parse(time.RFC3339Nano, parts[2])
	if perr != nil {
		err = WrapError(ErrValidation, "unparseable range start in cache key", perr)
		return
	}
	end, perr := time.Parse(time.RFC3339Nano, parts[3])
	if perr != nil {
		err = WrapError(ErrValidation, "unparseable range end in cache key", perr)
		return
	}

	dateRange, perr = timerange.New(start, end)
	if perr != nil {
		err = WrapError(ErrValidation, "invalid range in cache key", perr)
		return
	}

	repositoryID = parts[0]
	dataType = DataType(parts[1])
	if !dataType.Valid() {
		err = NewCacheError(ErrValidation, fmt.Sprintf("unknown data type in cache key: %q", parts[1]))
		return
	}
	if verr := validateRepositoryID(repositoryID); verr != nil {
		err = verr
		return
	}
	return
}

// Entry 代表一段已缓存的仓库活动数据。
// Entry 是不可变值对象：Touch、StartRevalidation、FinishRevalidation
// 都返回新值，原值对并发读取者始终有效（写时复制语义）。
type Entry struct {
	Key            string          // 缓存键，由三元组派生
	RepositoryID   string          // 仓库标识 ("owner/name")
	DataType       DataType        // 数据类型
	DateRange      timerange.Range // 覆盖的日期区间
	Data           json.RawMessage // 序列化后的负载，对缓存层不透明
	CachedAt       time.Time       // 写入时间
	ExpiresAt      time.Time       // 过期时间，严格晚于 CachedAt
	LastAccessedAt time.Time       // 最后访问时间，随 Touch 单调不减
	SizeBytes      int64           // 负载字节数，恒为正
	IsRevalidating bool            // 是否有后台刷新在途（在途期间豁免淘汰）
}

// New 创建一个新的缓存条目。
// 校验仓库标识的 owner/name 结构、TTL为正、负载非空；任何一项不满足返回校验错误。
func New(repositoryID string, dataType DataType, dateRange timerange.Range, data json.RawMessage, ttl time.Duration) (Entry, error) {
	if err := validateRepositoryID(repositoryID); err != nil {
		return Entry{}, err
	}
	if !dataType.Valid() {
		return Entry{}, NewCacheError(ErrValidation, fmt.Sprintf("unknown data type: %q", dataType))
	}
	if ttl <= 0 {
		return Entry{}, NewCacheError(ErrValidation, fmt.Sprintf("ttl must be positive, got %s", ttl))
	}
	if len(data) == 0 {
		return Entry{}, NewCacheError(ErrValidation, "serialized payload is empty")
	}

	now := time.Now().UTC()
	return Entry{
		Key:            BuildKey(repositoryID, dataType, dateRange),
		RepositoryID:   repositoryID,
		DataType:       dataType,
		DateRange:      dateRange,
		Data:           data,
		CachedAt:       now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		SizeBytes:      int64(len(data)),
	}, nil
}

// validateRepositoryID 校验仓库标识形如 "owner/name" 且两段均非空
func validateRepositoryID(repositoryID string) error {
	owner, name, found := strings.Cut(repositoryID, "/")
	if !found || owner == "" || name == "" {
		return NewCacheError(ErrValidation, fmt.Sprintf("repository id must be owner/name, got %q", repositoryID))
	}
	return nil
}

// IsStale 判断条目是否已过期。过期纯粹由挂钟时间与 ExpiresAt 比较得出，与访问次数无关。
func (e Entry) IsStale() bool {
	return e.IsStaleAt(time.Now())
}

// IsStaleAt 以给定时刻判断条目是否已过期，供淘汰策略对快照统一取时使用。
func (e Entry) IsStaleAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Touch 返回一个仅更新了最后访问时间的新条目。
// LastAccessedAt 单调不减：若当前值已晚于现在（如并发 Touch 之后），保持原值。
func (e Entry) Touch() Entry {
	now := time.Now().UTC()
	if now.After(e.LastAccessedAt) {
		e.LastAccessedAt = now
	}
	return e
}

// StartRevalidation 返回一个标记了后台刷新在途的新条目，其余字段不变。
func (e Entry) StartRevalidation() Entry {
	e.IsRevalidating = true
	return e
}

// FinishRevalidation 在后台刷新完成后，返回以新负载和新TTL重建的条目。
// CachedAt、ExpiresAt、SizeBytes 全部重新计算，IsRevalidating 复位。
func (e Entry) FinishRevalidation(newData json.RawMessage, newTTL time.Duration) (Entry, error) {
	if newTTL <= 0 {
		return Entry{}, NewCacheError(ErrValidation, fmt.Sprintf("ttl must be positive, got %s", newTTL))
	}
	if len(newData) == 0 {
		return Entry{}, NewCacheError(ErrValidation, "serialized payload is empty")
	}

	now := time.Now().UTC()
	e.Data = newData
	e.SizeBytes = int64(len(newData))
	e.CachedAt = now
	e.ExpiresAt = now.Add(newTTL)
	e.IsRevalidating = false
	return e, nil
}

// entryRecord 是条目的持久化形式。
// 所有时间戳以RFC3339Nano字符串存储，保证跨后端往返无损。
type entryRecord struct {
	Key            string          `json:"key"`
	RepositoryID   string          `json:"repositoryId"`
	DataType       string          `json:"dataType"`
	DateRange      rangeRecord     `json:"dateRange"`
	Data           json.RawMessage `json:"data"`
	CachedAt       string          `json:"cachedAt"`
	ExpiresAt      string          `json:"expiresAt"`
	LastAccessedAt string          `json:"lastAccessedAt"`
	SizeBytes      int64           `json:"sizeBytes"`
	IsRevalidating bool            `json:"isRevalidating"`
}

type rangeRecord struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Serialize 将条目编码为持久化表示。
func (e Entry) Serialize() ([]byte, error) {
	rec := entryRecord{
		Key:          e.Key,
		RepositoryID: e.RepositoryID,
		DataType:     string(e.DataType),
		DateRange: rangeRecord{
			Start: e.DateRange.Start.UTC().Format(time.RFC3339Nano),
			End:   e.DateRange.End.UTC().Format(time.RFC3339Nano),
		},
		Data:           e.Data,
		CachedAt:       e.CachedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:      e.ExpiresAt.UTC().Format(time.RFC3339Nano),
		LastAccessedAt: e.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		SizeBytes:      e.SizeBytes,
		IsRevalidating: e.IsRevalidating,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, WrapError(ErrSerializeFailed, "marshal cache entry", err)
	}
	return data, nil
}

// Deserialize 从持久化表示重建条目。
// 任何时间戳字段不可解析都返回校验错误。
func Deserialize(raw []byte) (Entry, error) {
	var rec entryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry{}, WrapError(ErrValidation, "unmarshal cache entry record", err)
	}

	cachedAt, err := time.Parse(time.RFC3339Nano, rec.CachedAt)
	if err != nil {
		return Entry{}, WrapError(ErrValidation, "unparseable cachedAt timestamp", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt)
	if err != nil {
		return Entry{}, WrapError(ErrValidation, "unparseable expiresAt timestamp", err)
	}
	lastAccessedAt, err := time.Parse(time.RFC3339Nano, rec.LastAccessedAt)
	if err != nil {
		return Entry{}, WrapError(ErrValidation, "unparseable lastAccessedAt timestamp", err)
	}
	start, err := time.Parse(time.RFC3339Nano, rec.DateRange.Start)
	if err != nil {
		return Entry{}, WrapError(ErrValidation, "unparseable range start timestamp", err)
	}
	end, err := time.Parse(time.RFC3339Nano, rec.DateRange.End)
	if err != nil {
		return Entry{}, WrapError(ErrValidation, "unparseable range end timestamp", err)
	}

	dateRange, err := timerange.New(start, end)
	if err != nil {
		return Entry{}, WrapError(ErrValidation, "invalid date range", err)
	}
	if err := validateRepositoryID(rec.RepositoryID); err != nil {
		return Entry{}, err
	}

	dataType := DataType(rec.DataType)
	if !dataType.Valid() {
		return Entry{}, NewCacheError(ErrValidation, fmt.Sprintf("unknown data type: %q", rec.DataType))
	}

	return Entry{
		Key:            rec.Key,
		RepositoryID:   rec.RepositoryID,
		DataType:       dataType,
		DateRange:      dateRange,
		Data:           rec.Data,
		CachedAt:       cachedAt,
		ExpiresAt:      expiresAt,
		LastAccessedAt: lastAccessedAt,
		SizeBytes:      rec.SizeBytes,
		IsRevalidating: rec.IsRevalidating,
	}, nil
}
