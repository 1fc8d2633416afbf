package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repopulse/pkg/timerange"
)

// evictionEntry 构造测试条目，lastAccess 相对现在向前偏移
func evictionEntry(t *testing.T, name string, lastAccessAge time.Duration, stale, revalidating bool, sizeBytes int64) Entry {
	t.Helper()
	r, err := timerange.New(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	now := time.Now()
	expiresAt := now.Add(time.Hour)
	if stale {
		expiresAt = now.Add(-time.Hour)
	}

	return Entry{
		Key:            BuildKey("acme/"+name, DataTypeCommits, r),
		RepositoryID:   "acme/" + name,
		DataType:       DataTypeCommits,
		DateRange:      r,
		Data:           []byte(`[]`),
		CachedAt:       now.Add(-lastAccessAge),
		ExpiresAt:      expiresAt,
		LastAccessedAt: now.Add(-lastAccessAge),
		SizeBytes:      sizeBytes,
		IsRevalidating: revalidating,
	}
}

// TestScoreOrdering 测试评分的相对次序
func TestScoreOrdering(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())

	recent := evictionEntry(t, "recent", time.Hour, false, false, 100)
	old := evictionEntry(t, "old", 10*24*time.Hour, false, false, 100)
	staleRecent := evictionEntry(t, "stale", time.Hour, true, false, 100)
	staleRevalidating := evictionEntry(t, "reval", time.Hour, true, true, 100)

	// 访问越久分值越高
	assert.Greater(t, p.Score(old), p.Score(recent))

	// 过期压过任何新近度差异
	assert.Greater(t, p.Score(staleRecent), p.Score(old))

	// 刷新在途享受有限保护
	assert.Greater(t, p.Score(staleRecent), p.Score(staleRevalidating))
	assert.Greater(t, p.Score(staleRevalidating), p.Score(recent), "有限减分不应让过期条目排到新鲜条目之后")
}

// TestShouldEvict 测试触发阈值判定
func TestShouldEvict(t *testing.T) {
	cfg := DefaultEvictionConfig()
	p := NewPolicy(cfg)

	assert.False(t, p.ShouldEvict(cfg.MaxTotalSizeBytes/2, cfg.MaxTotalSizeBytes))
	assert.True(t, p.ShouldEvict(cfg.MaxTotalSizeBytes, cfg.MaxTotalSizeBytes))

	// 阈值 0.8 对应 2000 条中的 1600 条
	assert.False(t, p.ShouldEvictByCount(1599, 2000))
	assert.True(t, p.ShouldEvictByCount(1600, 2000))
}

// TestCandidatesForSizeTarget 测试按大小淘汰到目标水位
func TestCandidatesForSizeTarget(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())

	entries := []Entry{
		evictionEntry(t, "a", 1*24*time.Hour, false, false, 100),
		evictionEntry(t, "b", 5*24*time.Hour, false, false, 100),
		evictionEntry(t, "c", 10*24*time.Hour, false, false, 100),
	}

	// 已在目标之下不淘汰
	assert.Empty(t, p.CandidatesForSizeTarget(entries, 300))

	// 需要释放 100 字节，应只淘汰评分最高的 c
	candidates := p.CandidatesForSizeTarget(entries, 200)
	require.Len(t, candidates, 1)
	assert.Equal(t, "acme/c", candidates[0].RepositoryID)

	// 需要释放 150 字节，按序取 c、b
	candidates = p.CandidatesForSizeTarget(entries, 150)
	require.Len(t, candidates, 2)
	assert.Equal(t, "acme/c", candidates[0].RepositoryID)
	assert.Equal(t, "acme/b", candidates[1].RepositoryID)
}

// TestCandidatesStalePriority 测试过期条目优先被选为淘汰对象
func TestCandidatesStalePriority(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())

	entries := []Entry{
		evictionEntry(t, "veryold", 100*24*time.Hour, false, false, 100),
		evictionEntry(t, "stalefresh", time.Minute, true, false, 100),
	}

	candidates := p.CandidatesForSizeTarget(entries, 100)
	require.Len(t, candidates, 1)
	assert.Equal(t, "acme/stalefresh", candidates[0].RepositoryID, "过期条目应先于访问很久的新鲜条目被淘汰")
}

// TestCandidatesStableTieBreak 测试同分条目保持输入顺序
func TestCandidatesStableTieBreak(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())

	var entries []Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, evictionEntry(t, fmt.Sprintf("tie%d", i), 5*24*time.Hour, true, false, 100))
	}

	candidates := p.CandidatesForSizeTarget(entries, 200)
	require.Len(t, candidates, 3)
	for i, c := range candidates {
		assert.Equal(t, fmt.Sprintf("acme/tie%d", i), c.RepositoryID, "同分时应保持输入顺序")
	}
}

// TestCandidatesForCountTarget 测试按条目数淘汰
func TestCandidatesForCountTarget(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())

	entries := []Entry{
		evictionEntry(t, "a", 1*24*time.Hour, false, false, 100),
		evictionEntry(t, "b", 9*24*time.Hour, false, false, 100),
		evictionEntry(t, "c", 5*24*time.Hour, false, false, 100),
	}

	assert.Empty(t, p.CandidatesForCountTarget(entries, 3))

	candidates := p.CandidatesForCountTarget(entries, 1)
	require.Len(t, candidates, 2)
	assert.Equal(t, "acme/b", candidates[0].RepositoryID)
	assert.Equal(t, "acme/c", candidates[1].RepositoryID)
}

// TestStaleEntries 测试过期条目过滤
func TestStaleEntries(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())

	entries := []Entry{
		evictionEntry(t, "fresh", time.Hour, false, false, 100),
		evictionEntry(t, "stale", time.Hour, true, false, 100),
	}

	stale := p.StaleEntries(entries)
	require.Len(t, stale, 1)
	assert.Equal(t, "acme/stale", stale[0].RepositoryID)
}

// TestTTLFor 测试按仓库活跃度与窗口远近选择TTL
func TestTTLFor(t *testing.T) {
	cfg := DefaultEvictionConfig()
	now := time.Now()

	// 近期窗口，活跃仓库
	assert.Equal(t, cfg.ActiveRepoTTL, cfg.TTLFor(false, now.Add(-24*time.Hour)))

	// 近期窗口，归档仓库
	assert.Equal(t, cfg.ArchivedRepoTTL, cfg.TTLFor(true, now.Add(-24*time.Hour)))

	// 远期窗口无论归档与否都用长TTL
	oldEnd := now.Add(-cfg.OldWindowAge - 24*time.Hour)
	assert.Equal(t, cfg.OldWindowTTL, cfg.TTLFor(false, oldEnd))
	assert.Equal(t, cfg.OldWindowTTL, cfg.TTLFor(true, oldEnd))
}

// TestUsagePercentage 测试占用率计算
func TestUsagePercentage(t *testing.T) {
	p := NewPolicy(DefaultEvictionConfig())
	assert.InDelta(t, 50.0, p.UsagePercentage(50, 100), 0.001)
	assert.Equal(t, 0.0, p.UsagePercentage(50, 0))
}
