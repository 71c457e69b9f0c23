/*
 * @module service/decision/registry
 * @description 规则注册表，持有已加载的规则快照，支持热重载与启用/禁用
 * @architecture 不可变快照模式 - 重载时整体替换，读取方始终看到一致的规则集
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 启动加载 -> 原子替换快照 -> 并发读取 -> 变更触发重载
 * @rules 非法规则跳过并记录校验错误，不阻断整批加载；在途求值不会看到半更新的规则集
 * @dependencies gorm.io/gorm, sync/atomic, service/models
 * @refs service/decision/runtime.go, service/event
 */

package decision

import (
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"devmonitor-service/service/models"

	"gorm.io/gorm"
)

// CompiledRule 已通过校验的规则及其解析产物
type CompiledRule struct {
	Rule       *models.DecisionRule
	Conditions *ConditionNode
	Actions    []Action
}

// ruleSnapshot 一次加载产生的不可变规则集
type ruleSnapshot struct {
	byRuleID map[string]*CompiledRule
	enabled  []*CompiledRule // 按priority升序、rule_id字典序排列
	total    int
}

// RegistryStatus 注册表状态
type RegistryStatus struct {
	TotalRules   int `json:"total_rules"`
	EnabledRules int `json:"enabled_rules"`
}

// RuleRegistry 规则注册表
type RuleRegistry struct {
	db       *gorm.DB
	snapshot atomic.Pointer[ruleSnapshot]
}

// NewRuleRegistry 创建规则注册表
func NewRuleRegistry(db *gorm.DB) *RuleRegistry {
	registry := &RuleRegistry{db: db}
	registry.snapshot.Store(&ruleSnapshot{byRuleID: make(map[string]*CompiledRule)})
	return registry
}

// Load 从数据库加载全部规则并原子替换当前快照，返回加载成功的规则数量
func (r *RuleRegistry) Load() (int, error) {
	var rules []models.DecisionRule
	if err := r.db.Order("priority ASC, rule_id ASC").Find(&rules).Error; err != nil {
		return 0, fmt.Errorf("加载决策规则失败: %w", err)
	}

	snapshot := &ruleSnapshot{
		byRuleID: make(map[string]*CompiledRule, len(rules)),
		total:    len(rules),
	}
	for i := range rules {
		rule := &rules[i]
		compiled, err := CompileRule(rule)
		if err != nil {
			log.Printf("规则校验失败，已跳过 [%s]: %v", rule.RuleID, err)
			snapshot.total--
			continue
		}
		snapshot.byRuleID[rule.RuleID] = compiled
		if rule.Enabled {
			snapshot.enabled = append(snapshot.enabled, compiled)
		}
	}
	sortCompiledRules(snapshot.enabled)

	r.snapshot.Store(snapshot)
	log.Printf("规则注册表加载完成: 总计=%d, 启用=%d", snapshot.total, len(snapshot.enabled))
	return snapshot.total, nil
}

// Reload 重新加载规则，语义与Load相同
func (r *RuleRegistry) Reload() (int, error) {
	return r.Load()
}

// Get 按rule_id获取已加载的规则
func (r *RuleRegistry) Get(ruleID string) (*CompiledRule, bool) {
	compiled, exists := r.snapshot.Load().byRuleID[ruleID]
	return compiled, exists
}

// ListEnabled 获取当前快照中的启用规则，priority升序、同优先级按rule_id字典序
func (r *RuleRegistry) ListEnabled() []*CompiledRule {
	return r.snapshot.Load().enabled
}

// Enable 启用规则并重载快照
func (r *RuleRegistry) Enable(ruleID string) error {
	return r.setEnabled(ruleID, true)
}

// Disable 禁用规则并重载快照
func (r *RuleRegistry) Disable(ruleID string) error {
	return r.setEnabled(ruleID, false)
}

func (r *RuleRegistry) setEnabled(ruleID string, enabled bool) error {
	result := r.db.Model(&models.DecisionRule{}).
		Where("rule_id = ?", ruleID).
		Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("更新规则启用状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("规则不存在: %s", ruleID)
	}
	_, err := r.Reload()
	return err
}

// Status 获取注册表状态
func (r *RuleRegistry) Status() RegistryStatus {
	snapshot := r.snapshot.Load()
	return RegistryStatus{
		TotalRules:   snapshot.total,
		EnabledRules: len(snapshot.enabled),
	}
}

// CompileRule 校验并编译单条规则
func CompileRule(rule *models.DecisionRule) (*CompiledRule, error) {
	conditions, err := ParseConditionTree(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("条件树无效: %w", err)
	}
	actions, err := ParseActions(rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("动作列表无效: %w", err)
	}
	return &CompiledRule{
		Rule:       rule,
		Conditions: conditions,
		Actions:    actions,
	}, nil
}

// sortCompiledRules 按priority升序排序，同优先级按rule_id字典序保证确定性
func sortCompiledRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Rule.Priority != rules[j].Rule.Priority {
			return rules[i].Rule.Priority < rules[j].Rule.Priority
		}
		return rules[i].Rule.RuleID < rules[j].Rule.RuleID
	})
}
