// Package decorators 提供商装饰器，为任意 ActivityProvider 叠加熔断等横切能力。
package decorators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"repopulse/pkg/cache"
	"repopulse/pkg/logger"
	"repopulse/pkg/provider"
	"repopulse/pkg/timerange"
)

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Name        string        `json:"name" mapstructure:"name"`                   // 熔断器名称
	MaxRequests uint32        `json:"max_requests" mapstructure:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `json:"interval" mapstructure:"interval"`           // 统计窗口时间
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `json:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数阈值
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`             // 是否启用熔断器
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        "ActivityProvider",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
		Enabled:     true,
	}
}

// CircuitBreakerStats 熔断器统计信息
type CircuitBreakerStats struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	LastFailure        time.Time `json:"last_failure"`
}

// CircuitBreakerProvider 熔断器装饰器。
// 连续失败达到阈值后打开熔断器，打开期间的请求直接返回
// KindUnavailable 错误，不再打到上游API。
// 配额类错误不计入失败，熔断只针对网络和服务端故障。
type CircuitBreakerProvider struct {
	inner  provider.ActivityProvider
	cb     *gobreaker.CircuitBreaker
	config *CircuitBreakerConfig
	log    *logger.Entry

	mu    sync.RWMutex
	stats CircuitBreakerStats
}

// NewCircuitBreakerProvider 创建熔断器装饰器。
func NewCircuitBreakerProvider(inner provider.ActivityProvider, config *CircuitBreakerConfig) *CircuitBreakerProvider {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	log := logger.WithComponent("provider.circuit_breaker")
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("熔断器 %s 状态从 %v 变更为 %v", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// 配额耗尽、参数错误和调用方取消不代表上游故障
			switch provider.KindOf(err) {
			case provider.KindRateLimit, provider.KindInvalidRepo, provider.KindNotFound, provider.KindAborted:
				return true
			}
			return err == nil
		},
	}

	return &CircuitBreakerProvider{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(settings),
		config: config,
		log:    log,
	}
}

// Name 返回装饰器名称。
func (c *CircuitBreakerProvider) Name() string {
	return fmt.Sprintf("CircuitBreaker(%s)", c.inner.Name())
}

// FetchActivity 经过熔断器执行拉取。
func (c *CircuitBreakerProvider) FetchActivity(ctx context.Context, repositoryID string, dataType cache.DataType, dateRange timerange.Range) ([]provider.ActivityItem, error) {
	if !c.config.Enabled {
		return c.inner.FetchActivity(ctx, repositoryID, dataType, dateRange)
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.FetchActivity(ctx, repositoryID, dataType, dateRange)
	})
	c.recordResult(err)
	if err != nil {
		return nil, c.mapBreakerError(err)
	}
	return result.([]provider.ActivityItem), nil
}

// RateLimit 查询配额状态。配额查询本身开销极小，不经过熔断器。
func (c *CircuitBreakerProvider) RateLimit(ctx context.Context) (provider.RateLimitStatus, error) {
	return c.inner.RateLimit(ctx)
}

// IsArchived 透传仓库归档查询。元数据查询不经过熔断器；
// 内层提供商不支持查询时返回错误，由调用方决定兜底行为。
func (c *CircuitBreakerProvider) IsArchived(ctx context.Context, repositoryID string) (bool, error) {
	inspector, ok := c.inner.(provider.RepositoryInspector)
	if !ok {
		return false, provider.NewError(provider.KindUnknown, c.inner.Name(), "repository inspection not supported")
	}
	return inspector.IsArchived(ctx, repositoryID)
}

// Close 释放内层提供商持有的资源。
func (c *CircuitBreakerProvider) Close() error {
	if closer, ok := c.inner.(provider.Closable); ok {
		return closer.Close()
	}
	return nil
}

// Stats 返回统计信息快照。
func (c *CircuitBreakerProvider) Stats() CircuitBreakerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// State 返回熔断器当前状态。
func (c *CircuitBreakerProvider) State() gobreaker.State {
	return c.cb.State()
}

func (c *CircuitBreakerProvider) recordResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	if err != nil {
		c.stats.FailedRequests++
		c.stats.LastFailure = time.Now()
	} else {
		c.stats.SuccessfulRequests++
	}
}

// mapBreakerError 把熔断器自身的拒绝错误转为统一分类，其余错误原样返回。
func (c *CircuitBreakerProvider) mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return provider.WrapError(provider.KindUnavailable, c.inner.Name(), "circuit breaker open", err)
	}
	return err
}

var (
	_ provider.ActivityProvider    = (*CircuitBreakerProvider)(nil)
	_ provider.RepositoryInspector = (*CircuitBreakerProvider)(nil)
	_ provider.Closable            = (*CircuitBreakerProvider)(nil)
)
