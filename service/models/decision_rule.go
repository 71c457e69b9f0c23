/*
 * @module service/models/decision_rule
 * @description 决策规则模型，定义条件树、动作列表以及触发审计日志
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 规则创建 -> 启用/禁用 -> 运行时加载 -> 触发 -> 审计记录
 * @rules rule_id 全局唯一；conditions 必须能解析为合法条件树；cooldown_seconds >= 0
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/decision, api/controllers/decision_rule_controller.go
 */

package models

import (
	"errors"
	"time"

	"devmonitor-service/service/meta"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DecisionRule 决策规则模型
type DecisionRule struct {
	ID          string  `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	RuleID      string  `json:"rule_id" gorm:"not null;uniqueIndex;size:100" example:"rule_temp_high"`
	Name        string  `json:"name" gorm:"not null;size:200" example:"温度预测超限告警"`
	Description string  `json:"description,omitempty" gorm:"type:text"`
	CategoryID  *string `json:"category_id,omitempty" gorm:"type:varchar(36);index"`
	ModelID     *string `json:"model_id,omitempty" gorm:"type:varchar(36);index"`
	// priority/enabled不能带default标签：gorm创建时会跳过零值字段，
	// 显式的priority=0或enabled=false会被数据库默认值覆盖
	Priority        int        `json:"priority" gorm:"not null;index" example:"100"` // 数值越小优先级越高
	CooldownSeconds int        `json:"cooldown_seconds" gorm:"not null;default:0" example:"60"`
	Enabled         bool       `json:"enabled" gorm:"not null;index"`
	Conditions      JSONB      `json:"conditions" gorm:"type:jsonb;not null"` // 条件树
	Actions         JSONBArray `json:"actions" gorm:"type:jsonb;not null"`    // 有序动作列表
	CreatedAt       time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy       string     `json:"created_by" gorm:"not null;default:'system';size:100" example:"admin"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (DecisionRule) TableName() string {
	return "t_sys_decision_rule"
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (r *DecisionRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedBy == "" {
		r.CreatedBy = "system"
	}
	return r.Validate()
}

// Validate 基础字段验证
func (r *DecisionRule) Validate() error {
	if r.RuleID == "" {
		return errors.New("规则标识不能为空")
	}
	if r.Name == "" {
		return errors.New("规则名称不能为空")
	}
	if r.CooldownSeconds < 0 {
		return errors.New("冷却时间不能为负数")
	}
	if r.Conditions == nil {
		return errors.New("条件树不能为空")
	}
	return nil
}

// HasCooldown 判断规则是否配置了冷却时间
func (r *DecisionRule) HasCooldown() bool {
	return r.CooldownSeconds > 0
}

// CooldownWindow 获取冷却时间窗口
func (r *DecisionRule) CooldownWindow() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// DecisionAuditLog 决策规则触发审计日志，写入后不可变更
type DecisionAuditLog struct {
	ID                 string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID             string     `json:"rule_id" gorm:"not null;size:100;index"`
	RuleName           string     `json:"rule_name" gorm:"not null;size:200"`                     // 冗余存储，规则删除后仍可追溯
	Result             string     `json:"result" gorm:"not null;size:20;index" example:"success"` // success, partial, failed
	TriggerTime        time.Time  `json:"trigger_time" gorm:"not null;index"`
	ExecutionDuration  int64      `json:"execution_duration_ms" gorm:"not null;default:0"`
	AssetID            string     `json:"asset_id,omitempty" gorm:"size:100;index"`
	PredictionID       string     `json:"prediction_id,omitempty" gorm:"size:100;index"`
	TriggerData        JSONB      `json:"trigger_data,omitempty" gorm:"type:jsonb"`        // 触发时的事实快照
	ConditionsSnapshot JSONB      `json:"conditions_snapshot,omitempty" gorm:"type:jsonb"` // 触发时的条件树快照
	ActionsExecuted    JSONBArray `json:"actions_executed,omitempty" gorm:"type:jsonb"`    // 各动作执行结果
	ErrorMessage       *string    `json:"error_message,omitempty" gorm:"type:text"`
	ErrorStack         *string    `json:"error_stack,omitempty" gorm:"type:text"`
	CreatedAt          time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (DecisionAuditLog) TableName() string {
	return "t_sys_decision_audit_log"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (l *DecisionAuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.TriggerTime.IsZero() {
		l.TriggerTime = time.Now()
	}
	if !meta.IsValidAuditResult(l.Result) {
		return errors.New("无效的审计结果: " + l.Result)
	}
	return nil
}

// IsSuccess 判断本次触发是否全部动作成功
func (l *DecisionAuditLog) IsSuccess() bool {
	return l.Result == meta.AuditResultSuccess
}
