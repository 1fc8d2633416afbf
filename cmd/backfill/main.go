// backfill 命令行工具，按时间区间回填单个仓库的历史活动数据到本地缓存。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repopulse/pkg/cache"
	"repopulse/pkg/config"
	"repopulse/pkg/loader"
	"repopulse/pkg/logger"
	"repopulse/pkg/provider/decorators"
	"repopulse/pkg/provider/github"
	"repopulse/pkg/timerange"
)

var (
	configPath = flag.String("config", "", "配置文件路径")
	repoID     = flag.String("repo", "", "仓库标识，格式 owner/name")
	dataType   = flag.String("type", "pull_requests", "数据类型 (pull_requests, deployments, commits)")
	days       = flag.Int("days", 365, "回填最近多少天的数据")
	token      = flag.String("token", "", "GitHub 访问令牌（覆盖配置文件）")
	outputPath = flag.String("output", "", "把加载结果写入JSON文件，空则只打印摘要")
	logLevel   = flag.String("log-level", "info", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "text", "日志格式 (json 或 text)")
)

func main() {
	flag.Parse()

	logger.Init(logger.Config{
		Level:  *logLevel,
		Format: *logFormat,
	})
	log := logger.WithComponent("backfill")

	if *repoID == "" || *days <= 0 {
		fmt.Fprintln(os.Stderr, "用法: backfill -repo owner/name [-type pull_requests] [-days 365]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.SetProviderToken(*token)
	}

	store, err := cache.OpenManagedStore(cfg.Cache.Store, cfg.Cache.Eviction)
	if err != nil {
		log.Errorf("打开缓存存储失败: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	ghProvider, err := github.New(github.Config{
		Token:    cfg.Provider.Token,
		BaseURL:  cfg.Provider.BaseURL,
		Timeout:  cfg.Provider.Timeout,
		PageSize: cfg.Provider.PageSize,
	})
	if err != nil {
		log.Errorf("创建GitHub提供商失败: %v", err)
		os.Exit(1)
	}
	source := decorators.NewCircuitBreakerProvider(ghProvider, nil)
	defer source.Close()

	ldr := loader.New(store, source, loader.Config{
		ChunkDays:         cfg.Loader.ChunkDays,
		RateCheckInterval: cfg.Loader.RateCheckInterval,
		MinBudgetFraction: cfg.Loader.MinBudgetFraction,
		EntryTTL:          cfg.Loader.EntryTTL,
	})
	ldr.SetEvictionConfig(cfg.Cache.Eviction)

	// Ctrl+C 触发取消，加载器在下一个分块边界停下
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dateRange := timerange.LastDays(time.Now(), *days)

	started := time.Now()
	result, err := ldr.LoadHistorical(ctx, *repoID, cache.DataType(*dataType), dateRange, func(p loader.Progress) {
		origin := "api"
		if p.FromCache {
			origin = "cache"
		}
		log.Infof("分块 %d/%d (%s): %d 条记录 [%s]", p.ChunkIndex+1, p.TotalChunks, p.ChunkRange, p.ItemsLoaded, origin)
	})
	if err != nil {
		log.Errorf("历史加载失败: %v", err)
		os.Exit(1)
	}

	log.Infof("加载结束: status=%s items=%d chunks=%d/%d cached=%d failed=%d elapsed=%s",
		result.Status, len(result.Items), result.ChunksLoaded, result.ChunksTotal,
		result.ChunksFromCache, len(result.FailedRanges), time.Since(started).Round(time.Millisecond))

	if *outputPath != "" {
		if err := writeResult(*outputPath, result); err != nil {
			log.Errorf("写入结果文件失败: %v", err)
			os.Exit(1)
		}
		log.Infof("结果已写入 %s", *outputPath)
	}

	if result.Status != loader.StatusCompleted {
		os.Exit(3)
	}
}

func writeResult(path string, result *loader.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
