package decorators

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repopulse/pkg/cache"
	"repopulse/pkg/loader"
	"repopulse/pkg/provider"
	"repopulse/pkg/timerange"
)

// flakyProvider 可控失败的测试提供商
type flakyProvider struct {
	err   error
	calls int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) FetchActivity(ctx context.Context, repositoryID string, dataType cache.DataType, dateRange timerange.Range) ([]provider.ActivityItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []provider.ActivityItem{}, nil
}

func (f *flakyProvider) RateLimit(ctx context.Context) (provider.RateLimitStatus, error) {
	return provider.RateLimitStatus{Remaining: 100, Limit: 100}, nil
}

// archivedProvider 报告仓库已归档的测试提供商
type archivedProvider struct {
	flakyProvider
}

func (a *archivedProvider) IsArchived(ctx context.Context, repositoryID string) (bool, error) {
	return true, nil
}

// closableProvider 记录关闭调用的测试提供商
type closableProvider struct {
	flakyProvider
	closed bool
}

func (p *closableProvider) Close() error {
	p.closed = true
	return nil
}

func testChunk(t *testing.T) timerange.Range {
	t.Helper()
	r, err := timerange.New(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return r
}

// TestCircuitBreakerPassThrough 测试正常请求透传
func TestCircuitBreakerPassThrough(t *testing.T) {
	inner := &flakyProvider{}
	cb := NewCircuitBreakerProvider(inner, nil)

	items, err := cb.FetchActivity(context.Background(), "acme/widgets", cache.DataTypeCommits, testChunk(t))
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "CircuitBreaker(flaky)", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

// TestCircuitBreakerOpensAfterFailures 测试连续失败后熔断
func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &flakyProvider{err: provider.NewError(provider.KindNetwork, "flaky", "boom")}
	config := DefaultCircuitBreakerConfig()
	config.ReadyToTrip = 3
	cb := NewCircuitBreakerProvider(inner, config)

	ctx := context.Background()
	chunk := testChunk(t)
	for i := 0; i < 3; i++ {
		_, err := cb.FetchActivity(ctx, "acme/widgets", cache.DataTypeCommits, chunk)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// 熔断打开后的请求不再触达上游，并返回可识别的分类
	callsBefore := inner.calls
	_, err := cb.FetchActivity(ctx, "acme/widgets", cache.DataTypeCommits, chunk)
	require.Error(t, err)
	assert.Equal(t, provider.KindUnavailable, provider.KindOf(err))
	assert.Equal(t, callsBefore, inner.calls)
}

// TestCircuitBreakerIgnoresRateLimitErrors 测试配额类错误不计入熔断失败
func TestCircuitBreakerIgnoresRateLimitErrors(t *testing.T) {
	inner := &flakyProvider{err: provider.NewError(provider.KindRateLimit, "flaky", "quota")}
	config := DefaultCircuitBreakerConfig()
	config.ReadyToTrip = 2
	cb := NewCircuitBreakerProvider(inner, config)

	ctx := context.Background()
	chunk := testChunk(t)
	for i := 0; i < 5; i++ {
		_, err := cb.FetchActivity(ctx, "acme/widgets", cache.DataTypeCommits, chunk)
		require.Error(t, err)
		assert.Equal(t, provider.KindRateLimit, provider.KindOf(err))
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State(), "配额错误不应触发熔断")
	assert.Equal(t, 5, inner.calls)
}

// TestCircuitBreakerDisabled 测试禁用时完全透传
func TestCircuitBreakerDisabled(t *testing.T) {
	inner := &flakyProvider{err: provider.NewError(provider.KindNetwork, "flaky", "boom")}
	config := DefaultCircuitBreakerConfig()
	config.Enabled = false
	config.ReadyToTrip = 1
	cb := NewCircuitBreakerProvider(inner, config)

	ctx := context.Background()
	chunk := testChunk(t)
	for i := 0; i < 3; i++ {
		_, err := cb.FetchActivity(ctx, "acme/widgets", cache.DataTypeCommits, chunk)
		require.Error(t, err)
		assert.Equal(t, provider.KindNetwork, provider.KindOf(err))
	}
	assert.Equal(t, 3, inner.calls)
}

// TestCircuitBreakerStats 测试统计信息
func TestCircuitBreakerStats(t *testing.T) {
	inner := &flakyProvider{}
	cb := NewCircuitBreakerProvider(inner, nil)

	ctx := context.Background()
	chunk := testChunk(t)
	_, err := cb.FetchActivity(ctx, "acme/widgets", cache.DataTypeCommits, chunk)
	require.NoError(t, err)

	inner.err = provider.NewError(provider.KindNetwork, "flaky", "boom")
	_, err = cb.FetchActivity(ctx, "acme/widgets", cache.DataTypeCommits, chunk)
	require.Error(t, err)

	stats := cb.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.False(t, stats.LastFailure.IsZero())
}

// TestCircuitBreakerForwardsArchivedLookup 测试归档查询穿透装饰器，
// 归档仓库的缓存条目经由装饰后的提供商仍能拿到归档TTL
func TestCircuitBreakerForwardsArchivedLookup(t *testing.T) {
	inner := &archivedProvider{}
	cb := NewCircuitBreakerProvider(inner, nil)

	archived, err := cb.IsArchived(context.Background(), "acme/widgets")
	require.NoError(t, err)
	assert.True(t, archived)

	store := cache.NewMemoryStore()
	defer store.Close()
	ldr := loader.New(store, cb, loader.DefaultConfig())

	recent, err := timerange.New(
		time.Now().Add(-7*24*time.Hour).Truncate(time.Hour),
		time.Now().Truncate(time.Hour),
	)
	require.NoError(t, err)
	_, err = ldr.LoadHistorical(context.Background(), "acme/widgets", cache.DataTypeCommits, recent, nil)
	require.NoError(t, err)

	entries, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	ttl := entries[0].ExpiresAt.Sub(entries[0].CachedAt)
	assert.Equal(t, cache.DefaultEvictionConfig().ArchivedRepoTTL, ttl)
}

// TestCircuitBreakerInspectionUnsupported 测试内层提供商不支持归档查询时返回错误
func TestCircuitBreakerInspectionUnsupported(t *testing.T) {
	cb := NewCircuitBreakerProvider(&flakyProvider{}, nil)

	_, err := cb.IsArchived(context.Background(), "acme/widgets")
	assert.Error(t, err)
}

// TestCircuitBreakerCloseForwarding 测试关闭调用传递到内层提供商
func TestCircuitBreakerCloseForwarding(t *testing.T) {
	inner := &closableProvider{}
	cb := NewCircuitBreakerProvider(inner, nil)

	require.NoError(t, cb.Close())
	assert.True(t, inner.closed)

	// 内层不支持关闭时静默成功
	assert.NoError(t, NewCircuitBreakerProvider(&flakyProvider{}, nil).Close())
}
