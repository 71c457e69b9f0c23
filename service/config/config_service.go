/*
 * @module service/config/config_service
 * @description 配置服务，提供业务层的配置管理功能，数据库配置带内存缓存并支持环境变量兜底
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/system_config_req.md
 * @stateFlow 服务调用 -> 缓存 -> 数据库/环境变量/默认值
 * @rules 确保配置操作的业务逻辑正确性；读取失败回落默认值而不是报错
 * @dependencies devmonitor-service/service/models, gorm.io/gorm
 * @refs service/cleanup/retention_service.go
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"devmonitor-service/service/models"

	"gorm.io/gorm"
)

// 配置键与默认值
const (
	ConfigKeyAuditLogRetentionDays  = "decision.audit_log_retention_days"
	ConfigKeyExecutionRetentionDays = "workflow.execution_retention_days"
	ConfigKeySSEEventRetentionDays  = "event.sse_event_retention_days"

	DefaultAuditLogRetentionDays  = 90
	DefaultExecutionRetentionDays = 30
	DefaultSSEEventRetentionDays  = 7
)

var defaultDescriptions = map[string]string{
	ConfigKeyAuditLogRetentionDays:  "决策审计日志保存天数",
	ConfigKeyExecutionRetentionDays: "工作流执行记录保存天数",
	ConfigKeySSEEventRetentionDays:  "SSE事件历史保存天数",
}

var defaultValues = map[string]int{
	ConfigKeyAuditLogRetentionDays:  DefaultAuditLogRetentionDays,
	ConfigKeyExecutionRetentionDays: DefaultExecutionRetentionDays,
	ConfigKeySSEEventRetentionDays:  DefaultSSEEventRetentionDays,
}

// ConfigService 配置服务
type ConfigService struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[string]string
}

// NewConfigService 创建配置服务实例
func NewConfigService(db *gorm.DB) *ConfigService {
	return &ConfigService{
		db:    db,
		cache: make(map[string]string),
	}
}

// GetSystemConfig 获取系统配置，查找顺序：缓存 -> 数据库 -> 环境变量
func (s *ConfigService) GetSystemConfig(key string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	var config models.SystemConfig
	err := s.db.Where("key = ? AND environment = ?", key, "default").First(&config).Error
	if err == nil {
		s.mu.Lock()
		s.cache[key] = config.Value
		s.mu.Unlock()
		return config.Value, nil
	}

	// 环境变量兜底：decision.audit_log_retention_days -> DECISION_AUDIT_LOG_RETENTION_DAYS
	envKey := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("配置不存在: %s", key)
}

// SetSystemConfig 设置系统配置并刷新缓存
func (s *ConfigService) SetSystemConfig(key, value, description string) error {
	var config models.SystemConfig
	err := s.db.Where("key = ? AND environment = ?", key, "default").First(&config).Error
	if err == gorm.ErrRecordNotFound {
		config = models.SystemConfig{
			ID:          key,
			Key:         key,
			Value:       value,
			Environment: "default",
			Description: description,
		}
		if createErr := s.db.Create(&config).Error; createErr != nil {
			return fmt.Errorf("创建配置失败: %w", createErr)
		}
	} else if err != nil {
		return fmt.Errorf("查询配置失败: %w", err)
	} else {
		updates := map[string]interface{}{"value": value}
		if description != "" {
			updates["description"] = description
		}
		if updateErr := s.db.Model(&config).Updates(updates).Error; updateErr != nil {
			return fmt.Errorf("更新配置失败: %w", updateErr)
		}
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

// GetAllSystemConfigs 获取所有系统配置，数据库中不存在的已知键展示默认值
func (s *ConfigService) GetAllSystemConfigs() ([]models.SystemConfigItem, error) {
	var configs []models.SystemConfig
	err := s.db.Where("environment = ?", "default").Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("查询配置失败: %w", err)
	}

	items := make([]models.SystemConfigItem, 0, len(configs))
	existingKeys := make(map[string]bool)
	for _, config := range configs {
		items = append(items, models.SystemConfigItem{
			Key:         config.Key,
			Value:       config.Value,
			Description: config.Description,
			ValueType:   "string",
		})
		existingKeys[config.Key] = true
	}

	for key, value := range defaultValues {
		if existingKeys[key] {
			continue
		}
		items = append(items, models.SystemConfigItem{
			Key:         key,
			Value:       strconv.Itoa(value),
			Description: defaultDescriptions[key],
			ValueType:   "int",
		})
	}
	return items, nil
}

// getRetentionDays 读取保留天数配置，读取或解析失败时回落默认值
func (s *ConfigService) getRetentionDays(key string) int {
	valueStr, err := s.GetSystemConfig(key)
	if err != nil {
		return defaultValues[key]
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValues[key]
	}
	return value
}

// GetAuditLogRetentionDays 获取决策审计日志保留天数
func (s *ConfigService) GetAuditLogRetentionDays() int {
	return s.getRetentionDays(ConfigKeyAuditLogRetentionDays)
}

// GetExecutionRetentionDays 获取工作流执行记录保留天数
func (s *ConfigService) GetExecutionRetentionDays() int {
	return s.getRetentionDays(ConfigKeyExecutionRetentionDays)
}

// GetSSEEventRetentionDays 获取SSE事件历史保留天数
func (s *ConfigService) GetSSEEventRetentionDays() int {
	return s.getRetentionDays(ConfigKeySSEEventRetentionDays)
}

// ClearCache 清除配置缓存
func (s *ConfigService) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}
