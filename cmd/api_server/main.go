// api_server 为分析面板提供缓存查询与历史加载的HTTP接口。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

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
	listenAddr = flag.String("listen", ":8080", "HTTP 监听地址")
	ginMode    = flag.String("mode", gin.ReleaseMode, "gin 运行模式 (debug, release, test)")
	logLevel   = flag.String("log-level", "info", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "json", "日志格式 (json 或 text)")
)

// APIServer 聚合缓存、加载器与定时清理器。
type APIServer struct {
	store   *cache.ManagedStore
	source  *decorators.CircuitBreakerProvider
	loader  *loader.Loader
	sweeper *cache.Sweeper
	server  *http.Server
	log     *logger.Entry
}

func main() {
	flag.Parse()

	logger.Init(logger.Config{
		Level:  *logLevel,
		Format: *logFormat,
	})
	log := logger.WithComponent("api_server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	srv, err := newAPIServer(cfg, *listenAddr, log)
	if err != nil {
		log.Errorf("初始化服务失败: %v", err)
		os.Exit(1)
	}

	if err := srv.sweeper.Start(); err != nil {
		log.Errorf("启动定时清理失败: %v", err)
		os.Exit(1)
	}

	go func() {
		log.Infof("HTTP 服务启动: %s", *listenAddr)
		if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP 服务异常退出: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("收到退出信号，开始优雅关闭")
	srv.sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.server.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 关闭超时: %v", err)
	}
	if err := srv.source.Close(); err != nil {
		log.Errorf("关闭数据提供商失败: %v", err)
	}
	if err := srv.store.Close(); err != nil {
		log.Errorf("关闭缓存存储失败: %v", err)
	}
	log.Info("服务已退出")
}

func newAPIServer(cfg *config.Config, addr string, log *logger.Entry) (*APIServer, error) {
	store, err := cache.OpenManagedStore(cfg.Cache.Store, cfg.Cache.Eviction)
	if err != nil {
		return nil, fmt.Errorf("打开缓存存储失败: %w", err)
	}

	ghProvider, err := github.New(github.Config{
		Token:    cfg.Provider.Token,
		BaseURL:  cfg.Provider.BaseURL,
		Timeout:  cfg.Provider.Timeout,
		PageSize: cfg.Provider.PageSize,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("创建GitHub提供商失败: %w", err)
	}
	source := decorators.NewCircuitBreakerProvider(ghProvider, nil)

	ldr := loader.New(store, source, loader.Config{
		ChunkDays:         cfg.Loader.ChunkDays,
		RateCheckInterval: cfg.Loader.RateCheckInterval,
		MinBudgetFraction: cfg.Loader.MinBudgetFraction,
		EntryTTL:          cfg.Loader.EntryTTL,
	})
	ldr.SetEvictionConfig(cfg.Cache.Eviction)

	srv := &APIServer{
		store:   store,
		source:  source,
		loader:  ldr,
		sweeper: cache.NewSweeper(store, cfg.Cache.Sweeper),
		log:     log,
	}

	gin.SetMode(*ginMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", srv.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cache/stats", srv.handleCacheStats)
		v1.GET("/cache/repositories/:owner/:name", srv.handleRepositoryEntries)
		v1.DELETE("/cache/repositories/:owner/:name", srv.handleClearRepository)
		v1.DELETE("/cache", srv.handleClearAll)
		v1.POST("/load", srv.handleLoad)
	}

	srv.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return srv, nil
}

func (s *APIServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *APIServer) handleCacheStats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		s.log.WithError(err).Error("读取缓存统计失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totalEntries":    stats.TotalEntries,
		"totalSizeBytes":  stats.TotalSizeBytes,
		"oldestEntry":     stats.OldestEntry,
		"newestEntry":     stats.NewestEntry,
		"hitCount":        stats.HitCount,
		"missCount":       stats.MissCount,
		"hitRate":         stats.HitRate(),
		"usagePercentage": s.store.Policy().UsagePercentage(stats.TotalSizeBytes, s.store.Policy().Config().MaxTotalSizeBytes),
	})
}

func (s *APIServer) handleRepositoryEntries(c *gin.Context) {
	repositoryID := c.Param("owner") + "/" + c.Param("name")
	entries, err := s.store.GetByRepository(c.Request.Context(), repositoryID)
	if err != nil {
		s.log.WithError(err).Errorf("读取仓库缓存条目失败: %s", repositoryID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache entries"})
		return
	}

	summaries := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, gin.H{
			"key":            entry.Key,
			"dataType":       entry.DataType,
			"dateRange":      entry.DateRange,
			"cachedAt":       entry.CachedAt,
			"expiresAt":      entry.ExpiresAt,
			"lastAccessedAt": entry.LastAccessedAt,
			"sizeBytes":      entry.SizeBytes,
			"isRevalidating": entry.IsRevalidating,
			"stale":          entry.IsStale(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"repositoryId": repositoryID, "entries": summaries})
}

func (s *APIServer) handleClearRepository(c *gin.Context) {
	repositoryID := c.Param("owner") + "/" + c.Param("name")
	if err := s.store.ClearRepository(c.Request.Context(), repositoryID); err != nil {
		s.log.WithError(err).Errorf("清空仓库缓存失败: %s", repositoryID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear repository cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositoryId": repositoryID, "cleared": true})
}

func (s *APIServer) handleClearAll(c *gin.Context) {
	if err := s.store.ClearAll(c.Request.Context()); err != nil {
		s.log.WithError(err).Error("清空缓存失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type loadRequest struct {
	RepositoryID string `json:"repositoryId" binding:"required"`
	DataType     string `json:"dataType" binding:"required"`
	Days         int    `json:"days" binding:"required,gt=0"`
}

func (s *APIServer) handleLoad(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dateRange := timerange.LastDays(time.Now(), req.Days)

	result, err := s.loader.LoadHistorical(c.Request.Context(), req.RepositoryID, cache.DataType(req.DataType), dateRange, nil)
	if err != nil {
		if errors.Is(err, loader.ErrUnknownDataType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, loader.ErrAborted) {
			c.JSON(http.StatusRequestTimeout, gin.H{"error": "load aborted"})
			return
		}
		s.log.WithError(err).Errorf("历史加载失败: %s", req.RepositoryID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "historical load failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          result.Status,
		"repositoryId":    result.RepositoryID,
		"dataType":        result.DataType,
		"dateRange":       result.DateRange,
		"items":           len(result.Items),
		"chunksLoaded":    result.ChunksLoaded,
		"chunksTotal":     result.ChunksTotal,
		"chunksFromCache": result.ChunksFromCache,
		"failedRanges":    result.FailedRanges,
	})
}
