// Package config 管理匹配参数的本地配置文件
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrInvalidConfig 配置值超出范围
var ErrInvalidConfig = errors.New("配置无效")

// MatchConfig 匹配配置
type MatchConfig struct {
	// Similarity 相关性匹配的最低相似度 (0.1 - 1.0)
	Similarity float64 `json:"similarity"`
	// Ratio 最近邻比率测试阈值 (0, 1)
	Ratio float64 `json:"ratio"`
	// ReprojThreshold 单应性估计的最大重投影误差 (像素)
	ReprojThreshold float64 `json:"reproj_threshold"`
	// ResponseThreshold 特征点最低响应值，越大特征越少
	ResponseThreshold float64 `json:"response_threshold"`
	// MaxFeatures 每张图最多保留的特征数，0 表示不限制
	MaxFeatures int `json:"max_features"`
	// Workers 对应查找的并发数
	Workers int `json:"workers"`
	// OutputDir 结果图输出目录
	OutputDir string `json:"output_dir"`
	// LogLevel 日志级别
	LogLevel string `json:"log_level"`
	// LogFile 日志文件路径，空表示不写文件
	LogFile string `json:"log_file"`
}

// DefaultMatchConfig 默认匹配配置
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Similarity:        0.9,
		Ratio:             0.6,
		ReprojThreshold:   5.0,
		ResponseThreshold: 0,
		MaxFeatures:       0,
		Workers:           1,
		OutputDir:         ".",
		LogLevel:          "INFO",
	}
}

// Validate 检查配置范围
func (c *MatchConfig) Validate() error {
	if c.Similarity < 0.1 || c.Similarity > 1.0 {
		return fmt.Errorf("%w: similarity 必须在 0.1 - 1.0 之间, 实际 %v", ErrInvalidConfig, c.Similarity)
	}
	if c.Ratio <= 0 || c.Ratio >= 1 {
		return fmt.Errorf("%w: ratio 必须在 (0, 1) 之间, 实际 %v", ErrInvalidConfig, c.Ratio)
	}
	if c.ReprojThreshold <= 0 {
		return fmt.Errorf("%w: reproj_threshold 必须大于 0, 实际 %v", ErrInvalidConfig, c.ReprojThreshold)
	}
	if c.ResponseThreshold < 0 {
		return fmt.Errorf("%w: response_threshold 不能为负, 实际 %v", ErrInvalidConfig, c.ResponseThreshold)
	}
	if c.MaxFeatures < 0 {
		return fmt.Errorf("%w: max_features 不能为负, 实际 %d", ErrInvalidConfig, c.MaxFeatures)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers 至少为 1, 实际 %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建使用 ~/.imagematch 的配置管理器
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewManagerWithDir(filepath.Join(homeDir, ".imagematch"))
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.json"),
	}
}

// Load 加载配置，文件不存在时返回默认配置
//
// 文件中缺失的字段保留默认值。
func (m *Manager) Load() (*MatchConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config := DefaultMatchConfig()

	data, err := os.ReadFile(m.configFile)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return DefaultMatchConfig(), fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return DefaultMatchConfig(), fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return DefaultMatchConfig(), err
	}

	return config, nil
}

// Save 校验并保存配置
func (m *Manager) Save(config *MatchConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Clear 删除配置文件
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.configFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}

var defaultManager = NewManager()

// GetDefaultManager 获取默认配置管理器
func GetDefaultManager() *Manager {
	return defaultManager
}

// Load 使用默认管理器加载配置
func Load() (*MatchConfig, error) {
	return defaultManager.Load()
}

// Save 使用默认管理器保存配置
func Save(config *MatchConfig) error {
	return defaultManager.Save(config)
}
