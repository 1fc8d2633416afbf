package timerange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew 测试区间创建与校验
func TestNew(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	r, err := New(start, end)
	require.NoError(t, err)
	assert.True(t, r.Start.Equal(start))
	assert.True(t, r.End.Equal(end))

	// 起点必须严格早于终点
	_, err = New(end, start)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = New(start, start)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

// TestLastDays 测试向前回溯区间
func TestLastDays(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	r := LastDays(now, 30)

	assert.True(t, r.End.Equal(now))
	assert.True(t, r.Start.Equal(now.AddDate(0, 0, -30)))
	assert.Equal(t, 30, r.Days())
}

// TestDays 测试天数计算的向上取整
func TestDays(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	r := Range{Start: start, End: start.Add(24 * time.Hour)}
	assert.Equal(t, 1, r.Days())

	// 不足一天按一天计
	r = Range{Start: start, End: start.Add(25 * time.Hour)}
	assert.Equal(t, 2, r.Days())
}

// TestContains 测试左闭右开的区间语义
func TestContains(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	r := Range{Start: start, End: end}

	assert.True(t, r.Contains(start), "起点应包含在区间内")
	assert.False(t, r.Contains(end), "终点不应包含在区间内")
	assert.True(t, r.Contains(start.Add(time.Hour)))
	assert.False(t, r.Contains(start.Add(-time.Second)))
}

// TestSplit 测试区间的分块切分
func TestSplit(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// 200天按90天切分应得到 90/90/20 三块
	r := Range{Start: start, End: start.Add(200 * 24 * time.Hour)}
	chunks := r.Split(90)
	require.Len(t, chunks, 3)

	assert.Equal(t, 90, chunks[0].Days())
	assert.Equal(t, 90, chunks[1].Days())
	assert.Equal(t, 20, chunks[2].Days())

	// 分块按时间升序且首尾相接
	assert.True(t, chunks[0].Start.Equal(r.Start))
	assert.True(t, chunks[2].End.Equal(r.End))
	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].Start.Equal(chunks[i-1].End), "分块之间不应有缝隙")
		assert.True(t, chunks[i-1].Start.Before(chunks[i].Start), "分块应按时间升序")
	}
}

// TestSplitExactMultiple 测试恰好整除时不产生空块
func TestSplitExactMultiple(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Range{Start: start, End: start.Add(180 * 24 * time.Hour)}

	chunks := r.Split(90)
	require.Len(t, chunks, 2)
	assert.Equal(t, 90, chunks[0].Days())
	assert.Equal(t, 90, chunks[1].Days())
}

// TestSplitShorterThanChunk 测试区间短于单块时整体作为一块
func TestSplitShorterThanChunk(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Range{Start: start, End: start.Add(10 * 24 * time.Hour)}

	chunks := r.Split(90)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Equal(r))
}
