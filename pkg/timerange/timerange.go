// Package timerange 提供历史数据加载所需的日期区间模型。
// Range 是缓存键和分块加载的基础单位，区间语义为 [Start, End)。
package timerange

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRange 区间起点不早于终点错误
var ErrInvalidRange = errors.New("range start must be before end")

// Range 日期区间
type Range struct {
	Start time.Time `json:"start"` // 区间起点（含）
	End   time.Time `json:"end"`   // 区间终点（不含）
}

// New 创建日期区间，要求 start 严格早于 end
func New(start, end time.Time) (Range, error) {
	if !start.Before(end) {
		return Range{}, ErrInvalidRange
	}
	return Range{Start: start.UTC(), End: end.UTC()}, nil
}

// LastDays 创建以 now 为终点、向前回溯 days 天的区间
func LastDays(now time.Time, days int) Range {
	end := now.UTC()
	return Range{Start: end.AddDate(0, 0, -days), End: end}
}

// Days 返回区间跨度的天数（向上取整）
func (r Range) Days() int {
	return int(math.Ceil(r.End.Sub(r.Start).Hours() / 24))
}

// Duration 返回区间跨度
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains 判断时间点是否落在区间内
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Equal 判断两个区间是否相同
func (r Range) Equal(other Range) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// Split 将区间按固定天数切分为升序的子区间序列。
// 子区间首尾相接、无缝隙无重叠，最后一块可以短于 chunkDays。
// 子区间数量 = ceil(Days / chunkDays)。
func (r Range) Split(chunkDays int) []Range {
	if chunkDays <= 0 {
		return []Range{r}
	}

	step := time.Duration(chunkDays) * 24 * time.Hour
	chunks := make([]Range, 0, r.Days()/chunkDays+1)

	for cur := r.Start; cur.Before(r.End); cur = cur.Add(step) {
		next := cur.Add(step)
		if next.After(r.End) {
			next = r.End
		}
		chunks = append(chunks, Range{Start: cur, End: next})
	}

	return chunks
}

// String 返回区间的可读表示
func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
