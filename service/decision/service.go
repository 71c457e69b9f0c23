/*
 * @module service/decision/service
 * @description 决策规则管理服务，提供规则CRUD、校验、试运行、重载与审计日志查询
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 规则创建/编辑 -> 校验 -> 注册表重载 -> 运行时生效
 * @rules 规则删除不级联删除审计历史；规则变更后必须重载注册表
 * @dependencies gorm.io/gorm, service/models, service/meta
 * @refs api/controllers/decision_rule_controller.go, service/decision/registry.go
 */

package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// Service 决策规则管理服务
type Service struct {
	db       *gorm.DB
	registry *RuleRegistry
	runtime  *Runtime
	cooldown *CooldownTracker
}

// NewService 创建决策规则管理服务
func NewService(db *gorm.DB, registry *RuleRegistry, runtime *Runtime, cooldown *CooldownTracker) *Service {
	return &Service{
		db:       db,
		registry: registry,
		runtime:  runtime,
		cooldown: cooldown,
	}
}

// Registry 获取规则注册表
func (s *Service) Registry() *RuleRegistry {
	return s.registry
}

// Runtime 获取决策运行时
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// CreateRule 创建决策规则，条件树与动作列表校验失败直接拒绝
func (s *Service) CreateRule(ctx context.Context, rule *models.DecisionRule) error {
	if err := ValidateConditionTree(rule.Conditions); err != nil {
		return fmt.Errorf("条件树校验失败: %w", err)
	}
	if err := ValidateActions(rule.Actions); err != nil {
		return fmt.Errorf("动作列表校验失败: %w", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.DecisionRule{}).
		Where("rule_id = ?", rule.RuleID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("规则标识已存在: %s", rule.RuleID)
	}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("创建决策规则失败: %w", err)
	}
	_, err := s.registry.Reload()
	return err
}

// GetRuleByRuleID 按rule_id获取规则
func (s *Service) GetRuleByRuleID(ctx context.Context, ruleID string) (*models.DecisionRule, error) {
	var rule models.DecisionRule
	if err := s.db.WithContext(ctx).First(&rule, "rule_id = ?", ruleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("规则不存在: %s", ruleID)
		}
		return nil, err
	}
	return &rule, nil
}

// GetRuleList 分页获取规则列表
func (s *Service) GetRuleList(ctx context.Context, page, pageSize int, categoryID, keyword string, enabled *bool) ([]models.DecisionRule, int64, error) {
	var rules []models.DecisionRule
	var total int64

	query := s.db.WithContext(ctx).Model(&models.DecisionRule{})
	if categoryID != "" {
		query = query.Where("category_id = ?", categoryID)
	}
	if keyword != "" {
		query = query.Where("name LIKE ? OR rule_id LIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}
	if enabled != nil {
		query = query.Where("enabled = ?", *enabled)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).
		Order("priority ASC, rule_id ASC").Find(&rules).Error; err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// UpdateRule 按rule_id更新规则，条件/动作字段变更时重新校验
func (s *Service) UpdateRule(ctx context.Context, ruleID string, updates map[string]interface{}) error {
	if name, ok := updates["name"].(string); ok && name == "" {
		return errors.New("规则名称不能为空")
	}
	if cooldown, ok := updates["cooldown_seconds"]; ok && cast.ToInt(cooldown) < 0 {
		return errors.New("冷却时间不能为负数")
	}
	if conditions, ok := updates["conditions"]; ok {
		conditionsJSON, valid := conditions.(models.JSONB)
		if !valid {
			return errors.New("条件树格式无效")
		}
		if err := ValidateConditionTree(conditionsJSON); err != nil {
			return fmt.Errorf("条件树校验失败: %w", err)
		}
	}
	if actions, ok := updates["actions"]; ok {
		actionsJSON, valid := actions.(models.JSONBArray)
		if !valid {
			return errors.New("动作列表格式无效")
		}
		if err := ValidateActions(actionsJSON); err != nil {
			return fmt.Errorf("动作列表校验失败: %w", err)
		}
	}

	result := s.db.WithContext(ctx).Model(&models.DecisionRule{}).
		Where("rule_id = ?", ruleID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新决策规则失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("规则不存在: %s", ruleID)
	}
	_, err := s.registry.Reload()
	return err
}

// DeleteRule 按rule_id删除规则，审计历史保留
func (s *Service) DeleteRule(ctx context.Context, ruleID string) error {
	result := s.db.WithContext(ctx).Delete(&models.DecisionRule{}, "rule_id = ?", ruleID)
	if result.Error != nil {
		return fmt.Errorf("删除决策规则失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("规则不存在: %s", ruleID)
	}
	s.cooldown.Reset(ruleID)
	_, err := s.registry.Reload()
	return err
}

// ValidateRule 校验规则定义，返回全部校验错误
func (s *Service) ValidateRule(rule *models.DecisionRule) []string {
	var validationErrors []string
	if err := rule.Validate(); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := ValidateConditionTree(rule.Conditions); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if err := ValidateActions(rule.Actions); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	return validationErrors
}

// TestRule 试运行规则，不产生副作用
func (s *Service) TestRule(ctx context.Context, ruleID string, facts map[string]interface{}) (*TestRuleResult, error) {
	rule, err := s.GetRuleByRuleID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return s.runtime.TestRule(rule, facts)
}

// TestRuleDefinition 试运行未保存的规则定义
func (s *Service) TestRuleDefinition(rule *models.DecisionRule, facts map[string]interface{}) (*TestRuleResult, error) {
	return s.runtime.TestRule(rule, facts)
}

// ReloadRules 重载规则注册表，返回加载的规则数量
func (s *Service) ReloadRules() (int, error) {
	return s.registry.Reload()
}

// GetAuditLogs 分页查询审计日志
func (s *Service) GetAuditLogs(ctx context.Context, page, pageSize int, ruleID, assetID, result string, startTime, endTime *time.Time) ([]models.DecisionAuditLog, int64, error) {
	var logs []models.DecisionAuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.DecisionAuditLog{})
	if ruleID != "" {
		query = query.Where("rule_id = ?", ruleID)
	}
	if assetID != "" {
		query = query.Where("asset_id = ?", assetID)
	}
	if result != "" {
		query = query.Where("result = ?", result)
	}
	if startTime != nil {
		query = query.Where("trigger_time >= ?", *startTime)
	}
	if endTime != nil {
		query = query.Where("trigger_time <= ?", *endTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).
		Order("trigger_time DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// AuditStatistics 审计统计信息
type AuditStatistics struct {
	TotalTriggers  int64            `json:"total_triggers"`
	SuccessCount   int64            `json:"success_count"`
	PartialCount   int64            `json:"partial_count"`
	FailedCount    int64            `json:"failed_count"`
	TriggersByRule []RuleTriggerRow `json:"triggers_by_rule"`
	RegistryStatus RegistryStatus   `json:"registry_status"`
}

// RuleTriggerRow 按规则聚合的触发统计
type RuleTriggerRow struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Count    int64  `json:"count"`
}

// GetAuditStatistics 获取审计统计
func (s *Service) GetAuditStatistics(ctx context.Context, startTime, endTime *time.Time) (*AuditStatistics, error) {
	stats := &AuditStatistics{RegistryStatus: s.registry.Status()}

	query := s.db.WithContext(ctx).Model(&models.DecisionAuditLog{})
	if startTime != nil {
		query = query.Where("trigger_time >= ?", *startTime)
	}
	if endTime != nil {
		query = query.Where("trigger_time <= ?", *endTime)
	}

	if err := query.Count(&stats.TotalTriggers).Error; err != nil {
		return nil, err
	}
	if err := query.Session(&gorm.Session{}).Where("result = ?", meta.AuditResultSuccess).Count(&stats.SuccessCount).Error; err != nil {
		return nil, err
	}
	if err := query.Session(&gorm.Session{}).Where("result = ?", meta.AuditResultPartial).Count(&stats.PartialCount).Error; err != nil {
		return nil, err
	}
	if err := query.Session(&gorm.Session{}).Where("result = ?", meta.AuditResultFailed).Count(&stats.FailedCount).Error; err != nil {
		return nil, err
	}

	if err := query.Session(&gorm.Session{}).
		Select("rule_id, rule_name, COUNT(*) as count").
		Group("rule_id, rule_name").
		Order("count DESC").
		Limit(10).
		Scan(&stats.TriggersByRule).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
