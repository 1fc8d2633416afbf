package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"repopulse/pkg/logger"
)

// SweeperConfig 定时清理配置
type SweeperConfig struct {
	Schedule   string        `json:"schedule" mapstructure:"schedule"`       // cron 表达式
	StaleGrace time.Duration `json:"stale_grace" mapstructure:"stale_grace"` // 过期后的保留宽限
}

// DefaultSweeperConfig 返回默认清理配置。
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:   "*/10 * * * *",
		StaleGrace: 7 * 24 * time.Hour,
	}
}

// Sweeper 定时清理器，周期性删除过期已久的条目并执行容量检查。
// 过期但仍在宽限期内的条目保留，后台加载器可以先用旧数据再刷新；
// 刷新在途的条目同样豁免，等待刷新结果落盘。
type Sweeper struct {
	store  *ManagedStore
	config SweeperConfig
	cron   *cron.Cron
	log    *logger.Entry
}

// NewSweeper 创建定时清理器。
func NewSweeper(store *ManagedStore, config SweeperConfig) *Sweeper {
	return &Sweeper{
		store:  store,
		config: config,
		cron:   cron.New(),
		log:    logger.WithComponent("cache.sweeper"),
	}
}

// Start 注册并启动定时任务。
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}
	s.cron.Start()
	s.log.Infof("定时清理已启动: schedule=%s grace=%s", s.config.Schedule, s.config.StaleGrace)
	return nil
}

// Stop 停止定时任务并等待正在执行的清理完成。
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("定时清理已停止")
}

// RunOnce 立即执行一轮清理。
func (s *Sweeper) RunOnce(ctx context.Context) {
	entries, err := s.store.GetAll(ctx)
	if err != nil {
		s.log.WithError(err).Warn("读取缓存条目失败，跳过本轮清理")
		return
	}

	// 只在过期条目里找超出宽限期的，刷新在途的条目不硬删
	now := time.Now()
	var expired []string
	for _, entry := range s.store.Policy().StaleEntries(entries) {
		if entry.IsRevalidating {
			continue
		}
		if now.Sub(entry.ExpiresAt) > s.config.StaleGrace {
			expired = append(expired, entry.Key)
		}
	}

	if len(expired) > 0 {
		if err := s.store.Evict(ctx, expired); err != nil {
			s.log.WithError(err).Warnf("删除 %d 个超期条目失败", len(expired))
		} else {
			s.log.Infof("清理超期条目: %d 个", len(expired))
		}
	}

	s.store.EnforcePressure(ctx)
}
