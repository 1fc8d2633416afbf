package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"repopulse/pkg/cache"
)

// Config 主配置结构
type Config struct {
	// 提供商配置
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// 加载器配置
	Loader LoaderConfig `json:"loader" mapstructure:"loader"`

	// 缓存配置
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// 日志配置
	Logger LoggerConfig `json:"logger" mapstructure:"logger"`
}

// ProviderConfig 数据提供商配置
type ProviderConfig struct {
	Name       string        `json:"name" mapstructure:"name"`               // 提供商名称 ("github")
	Token      string        `json:"token" mapstructure:"token"`             // API 访问令牌
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`       // API 基础地址，空则使用官方地址
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`         // 请求超时时间
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"` // 最大重试次数
	PageSize   int           `json:"page_size" mapstructure:"page_size"`     // 分页大小
}

// LoaderConfig 历史数据加载器配置
type LoaderConfig struct {
	ChunkDays         int           `json:"chunk_days" mapstructure:"chunk_days"`                   // 单块覆盖天数
	RateCheckInterval int           `json:"rate_check_interval" mapstructure:"rate_check_interval"` // 每隔多少块检查一次配额
	MinBudgetFraction float64       `json:"min_budget_fraction" mapstructure:"min_budget_fraction"` // 剩余配额比例下限
	EntryTTL          time.Duration `json:"entry_ttl" mapstructure:"entry_ttl"`                     // 新条目的默认有效期
}

// CacheConfig 缓存子系统配置
type CacheConfig struct {
	Store    cache.StoreConfig    `json:"store" mapstructure:"store"`
	Eviction cache.EvictionConfig `json:"eviction" mapstructure:"eviction"`
	Sweeper  cache.SweeperConfig  `json:"sweeper" mapstructure:"sweeper"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `json:"format" mapstructure:"format"` // 输出格式 (text, json)
	Output string `json:"output" mapstructure:"output"` // 输出目标 (stdout, stderr, 文件路径)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:       "github",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			PageSize:   100,
		},
		Loader: LoaderConfig{
			ChunkDays:         90,
			RateCheckInterval: 2,
			MinBudgetFraction: 0.10,
			EntryTTL:          1 * time.Hour,
		},
		Cache: CacheConfig{
			Store:    cache.DefaultStoreConfig(),
			Eviction: cache.DefaultEvictionConfig(),
			Sweeper:  cache.DefaultSweeperConfig(),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Provider.Name == "" {
		return errors.New("provider name cannot be empty")
	}

	if c.Provider.Timeout <= 0 {
		return errors.New("provider timeout must be positive")
	}

	if c.Provider.MaxRetries < 0 {
		return errors.New("provider max_retries cannot be negative")
	}

	if c.Provider.PageSize <= 0 || c.Provider.PageSize > 100 {
		return errors.New("provider page_size must be in (0, 100]")
	}

	if c.Loader.ChunkDays <= 0 {
		return errors.New("loader chunk_days must be positive")
	}

	if c.Loader.RateCheckInterval <= 0 {
		return errors.New("loader rate_check_interval must be positive")
	}

	if c.Loader.MinBudgetFraction < 0 || c.Loader.MinBudgetFraction >= 1 {
		return errors.New("loader min_budget_fraction must be in [0, 1)")
	}

	if c.Loader.EntryTTL <= 0 {
		return errors.New("loader entry_ttl must be positive")
	}

	if c.Cache.Eviction.MaxTotalSizeBytes <= 0 {
		return errors.New("eviction max_total_size_bytes must be positive")
	}

	if c.Cache.Eviction.MaxEntries <= 0 {
		return errors.New("eviction max_entries must be positive")
	}

	if c.Cache.Eviction.TriggerThreshold <= c.Cache.Eviction.TargetThreshold {
		return errors.New("eviction trigger_threshold must be greater than target_threshold")
	}

	return nil
}

// SetEntryTTL 设置新条目的默认有效期
func (c *Config) SetEntryTTL(ttl time.Duration) *Config {
	c.Loader.EntryTTL = ttl
	return c
}

// SetProviderToken 设置提供商访问令牌
func (c *Config) SetProviderToken(token string) *Config {
	c.Provider.Token = token
	return c
}

// Load 从配置文件加载配置，path 为空时只使用默认值与环境变量。
// 环境变量以 REPOPULSE_ 为前缀，层级用下划线连接（如 REPOPULSE_PROVIDER_TOKEN）。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPOPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}
