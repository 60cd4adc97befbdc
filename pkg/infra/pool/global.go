package pool

import (
	"sync"
	"time"

	"github.com/kart-io/logger"
)

var (
	globalManager   *Manager
	globalManagerMu sync.Mutex
)

// GlobalConfig 全局池配置，nil 字段表示不注册该池
type GlobalConfig struct {
	DefaultPool     *Config
	ExtractPool     *Config
	HealthCheckPool *Config
}

// DefaultGlobalConfig 返回默认全局配置
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		DefaultPool:     DefaultPoolConfig(),
		ExtractPool:     ExtractPoolConfig(),
		HealthCheckPool: HealthCheckPoolConfig(),
	}
}

// InitGlobal 使用默认配置初始化全局池管理器
func InitGlobal() error {
	return InitGlobalWithConfig(nil)
}

// InitGlobalWithConfig 使用自定义配置初始化全局池管理器，重复调用无副作用
func InitGlobalWithConfig(config *GlobalConfig) error {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()

	if globalManager != nil {
		return nil
	}

	if config == nil {
		config = DefaultGlobalConfig()
	}

	manager := NewManager()
	pools := map[Type]*Config{
		DefaultPool:     config.DefaultPool,
		ExtractPool:     config.ExtractPool,
		HealthCheckPool: config.HealthCheckPool,
	}
	for typ, cfg := range pools {
		if cfg == nil {
			continue
		}
		if err := manager.RegisterWithType(typ, cfg); err != nil {
			manager.ReleaseAll()
			return err
		}
	}

	globalManager = manager
	logger.Infow("全局池管理器初始化完成", "pools", manager.List())
	return nil
}

// GetGlobal 获取全局池管理器，未初始化时自动初始化
func GetGlobal() *Manager {
	globalManagerMu.Lock()
	mgr := globalManager
	globalManagerMu.Unlock()
	if mgr != nil {
		return mgr
	}

	if err := InitGlobal(); err != nil {
		logger.Errorw("自动初始化全局池管理器失败", "error", err)
		return nil
	}

	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()
	return globalManager
}

// CloseGlobalTimeout 带超时关闭全局池管理器
func CloseGlobalTimeout(timeout time.Duration) error {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()

	if globalManager == nil {
		return nil
	}

	err := globalManager.ReleaseAllTimeout(timeout)
	globalManager = nil
	logger.Infow("全局池管理器已关闭", "timeout", timeout)
	return err
}

// ResetGlobal 重置全局池管理器（仅用于测试）
func ResetGlobal() {
	globalManagerMu.Lock()
	defer globalManagerMu.Unlock()

	if globalManager != nil {
		globalManager.ReleaseAll()
		globalManager = nil
	}
}

// GetByType 获取全局管理器中指定类型的池
func GetByType(typ Type) (*Pool, error) {
	mgr := GetGlobal()
	if mgr == nil {
		return nil, ErrManagerNotInitialized
	}
	return mgr.Get(string(typ))
}

// SubmitToType 提交任务到指定类型的池
func SubmitToType(typ Type, task func()) error {
	mgr := GetGlobal()
	if mgr == nil {
		return ErrManagerNotInitialized
	}
	return mgr.Submit(string(typ), task)
}

// StatsGlobal returns statistics for all pools.
func StatsGlobal() map[string]Stats {
	globalManagerMu.Lock()
	mgr := globalManager
	globalManagerMu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Stats()
}
