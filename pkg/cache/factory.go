package cache

import (
	"errors"
	"fmt"

	"repopulse/pkg/logger"
)

// StoreBackend 存储后端类型
type StoreBackend string

const (
	BackendSQLite StoreBackend = "sqlite" // 本地持久化存储
	BackendMemory StoreBackend = "memory" // 进程内存储
	BackendRedis  StoreBackend = "redis"  // 远程共享存储
)

// StoreConfig 存储工厂配置
type StoreConfig struct {
	Backend StoreBackend      `json:"backend" mapstructure:"backend"`
	SQLite  SQLiteStoreConfig `json:"sqlite" mapstructure:"sqlite"`
	Redis   RedisStoreConfig  `json:"redis" mapstructure:"redis"`
}

// DefaultStoreConfig 返回默认存储配置。
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: BackendSQLite,
		SQLite:  SQLiteStoreConfig{Path: "data/cache.db"},
		Redis:   DefaultRedisStoreConfig(),
	}
}

// OpenStore 按配置打开持久化存储，持久后端不可用时降级到内存存储。
// 降级只在后端探测失败（文件系统不可写、Redis不可达等）时发生，
// 并记录一条警告；其余错误原样返回。
func OpenStore(config StoreConfig) (Store, error) {
	log := logger.WithComponent("cache.factory")

	switch config.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil

	case BackendSQLite, "":
		store, err := NewSQLiteStore(config.SQLite)
		if err == nil {
			return store, nil
		}
		if !isUnavailable(err) {
			return nil, err
		}
		log.WithError(err).Warnf("SQLite存储不可用，降级到内存存储: path=%s", config.SQLite.Path)
		return NewMemoryStore(), nil

	case BackendRedis:
		store, err := NewRedisStore(config.Redis)
		if err == nil {
			return store, nil
		}
		if !isUnavailable(err) {
			return nil, err
		}
		log.WithError(err).Warnf("Redis存储不可用，降级到内存存储: addr=%s", config.Redis.Addr)
		return NewMemoryStore(), nil

	default:
		return nil, NewCacheError(ErrValidation,
			fmt.Sprintf("unknown store backend: %s", config.Backend))
	}
}

// OpenManagedStore 打开存储并套上淘汰策略。
func OpenManagedStore(config StoreConfig, eviction EvictionConfig) (*ManagedStore, error) {
	store, err := OpenStore(config)
	if err != nil {
		return nil, err
	}
	return NewManagedStore(store, NewPolicy(eviction)), nil
}

func isUnavailable(err error) bool {
	var cerr *CacheError
	return errors.As(err, &cerr) && cerr.Code == ErrStorageUnavailable
}
