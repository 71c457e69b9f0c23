/*
 * @module service/models/workflow
 * @description 工作流模型，定义节点图、连接、触发配置、执行配置以及模板/版本/调度
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 草稿 -> 校验通过 -> 发布 -> 触发执行 -> 统计计数更新
 * @rules 必须恰好一个start节点且至少一个end节点；未发布的工作流不允许执行
 * @dependencies gorm.io/gorm, github.com/google/uuid, github.com/spf13/cast, service/meta
 * @refs service/workflow, api/controllers/workflow_controller.go
 */

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devmonitor-service/service/meta"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// WorkflowNode 工作流节点，按type多态，所有类型共享 id/type/name 契约
type WorkflowNode struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Name   string                 `json:"name"`
	X      float64                `json:"x"`
	Y      float64                `json:"y"`
	Config map[string]interface{} `json:"config,omitempty"` // 节点类型各自约定的配置
}

// WorkflowConnection 工作流连接，label 用作 condition 节点的分支判别值
type WorkflowConnection struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
	Label      string `json:"label,omitempty"`
}

// TriggerConfig 触发配置，按触发类型识别对应字段
type TriggerConfig struct {
	CronExpression string                 `json:"cron_expression,omitempty"` // schedule触发
	EventType      string                 `json:"event_type,omitempty"`      // event触发
	EventFilter    map[string]interface{} `json:"event_filter,omitempty"`    // event触发的匹配条件
	WebhookSecret  string                 `json:"webhook_secret,omitempty"`  // webhook触发的密钥（bcrypt哈希存储）
}

// ExecutionConfig 执行配置
type ExecutionConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	RetryCount     int `json:"retry_count"`
	RetryInterval  int `json:"retry_interval"` // 秒
}

// triggerConfigKeys 触发配置允许的键集合
var triggerConfigKeys = map[string]bool{
	"cron_expression": true,
	"event_type":      true,
	"event_filter":    true,
	"webhook_secret":  true,
}

// executionConfigKeys 执行配置允许的键集合
var executionConfigKeys = map[string]bool{
	"timeout_seconds": true,
	"retry_count":     true,
	"retry_interval":  true,
}

// ParseTriggerConfig 将JSONB触发配置解析为类型化结构，未识别的键立即报错
func ParseTriggerConfig(raw JSONB) (*TriggerConfig, error) {
	config := &TriggerConfig{}
	for key := range raw {
		if !triggerConfigKeys[key] {
			return nil, fmt.Errorf("触发配置包含未识别的键: %s", key)
		}
	}
	config.CronExpression = cast.ToString(raw["cron_expression"])
	config.EventType = cast.ToString(raw["event_type"])
	config.WebhookSecret = cast.ToString(raw["webhook_secret"])
	if filter, ok := raw["event_filter"]; ok {
		filterMap, err := cast.ToStringMapE(filter)
		if err != nil {
			return nil, fmt.Errorf("事件过滤条件格式无效: %w", err)
		}
		config.EventFilter = filterMap
	}
	return config, nil
}

// ParseExecutionConfig 将JSONB执行配置解析为类型化结构，未识别的键立即报错
func ParseExecutionConfig(raw JSONB) (*ExecutionConfig, error) {
	config := &ExecutionConfig{
		TimeoutSeconds: 60,
		RetryCount:     0,
		RetryInterval:  10,
	}
	for key := range raw {
		if !executionConfigKeys[key] {
			return nil, fmt.Errorf("执行配置包含未识别的键: %s", key)
		}
	}
	if v, ok := raw["timeout_seconds"]; ok {
		config.TimeoutSeconds = cast.ToInt(v)
	}
	if v, ok := raw["retry_count"]; ok {
		config.RetryCount = cast.ToInt(v)
	}
	if v, ok := raw["retry_interval"]; ok {
		config.RetryInterval = cast.ToInt(v)
	}
	if config.TimeoutSeconds <= 0 {
		return nil, errors.New("执行超时时间必须大于0")
	}
	if config.RetryCount < 0 {
		return nil, errors.New("重试次数不能为负数")
	}
	if config.RetryInterval < 0 {
		return nil, errors.New("重试间隔不能为负数")
	}
	return config, nil
}

// Timeout 获取节点执行超时时间
func (c *ExecutionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBackoff 获取重试间隔
func (c *ExecutionConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInterval) * time.Second
}

// Workflow 工作流模型
type Workflow struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name            string     `json:"name" gorm:"not null;size:200" example:"机床温度监控流程"`
	Code            string     `json:"code" gorm:"not null;uniqueIndex;size:100" example:"wf_device_temp"`
	Description     string     `json:"description,omitempty" gorm:"type:text"`
	Type            string     `json:"type" gorm:"not null;size:50;index" example:"device_monitor"`
	Nodes           JSONBArray `json:"nodes" gorm:"type:jsonb"`       // WorkflowNode 有序列表
	Connections     JSONBArray `json:"connections" gorm:"type:jsonb"` // WorkflowConnection 列表
	TriggerType     string     `json:"trigger_type" gorm:"not null;size:20;default:'manual'" example:"manual"`
	TriggerConfig   JSONB      `json:"trigger_config,omitempty" gorm:"type:jsonb"`
	ExecutionConfig JSONB      `json:"execution_config,omitempty" gorm:"type:jsonb"`
	// 不带default标签：gorm创建时跳过零值字段，复制/导入产生的is_active=false会被吞掉
	IsActive       bool       `json:"is_active" gorm:"not null;index"`
	IsPublished    bool       `json:"is_published" gorm:"not null;default:false;index"`
	Version        string     `json:"version" gorm:"not null;size:20;default:'1.0.0'" example:"1.0.0"`
	ExecutionCount int64      `json:"execution_count" gorm:"not null;default:0"`
	SuccessCount   int64      `json:"success_count" gorm:"not null;default:0"`
	FailureCount   int64      `json:"failure_count" gorm:"not null;default:0"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	AccentColor    string     `json:"accent_color,omitempty" gorm:"size:20" example:"#18a058"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy      string     `json:"created_by" gorm:"not null;default:'system';size:100" example:"admin"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (Workflow) TableName() string {
	return "t_sys_workflow"
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (w *Workflow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedBy == "" {
		w.CreatedBy = "system"
	}
	if w.Version == "" {
		w.Version = "1.0.0"
	}
	return w.Validate()
}

// Validate 基础字段验证
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return errors.New("工作流名称不能为空")
	}
	if w.Code == "" {
		return errors.New("工作流编码不能为空")
	}
	if !meta.IsValidWorkflowType(w.Type) {
		return errors.New("无效的工作流类型: " + w.Type)
	}
	if !meta.IsValidTriggerType(w.TriggerType) {
		return errors.New("无效的触发类型: " + w.TriggerType)
	}
	return nil
}

// CanExecute 判断工作流是否可以执行
func (w *Workflow) CanExecute() bool {
	return w.IsActive && w.IsPublished
}

// DecodeNodes 将JSONB节点列表解码为类型化节点
func (w *Workflow) DecodeNodes() ([]WorkflowNode, error) {
	data, err := json.Marshal(w.Nodes)
	if err != nil {
		return nil, fmt.Errorf("节点序列化失败: %w", err)
	}
	var nodes []WorkflowNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("节点解析失败: %w", err)
	}
	return nodes, nil
}

// DecodeConnections 将JSONB连接列表解码为类型化连接
func (w *Workflow) DecodeConnections() ([]WorkflowConnection, error) {
	data, err := json.Marshal(w.Connections)
	if err != nil {
		return nil, fmt.Errorf("连接序列化失败: %w", err)
	}
	var connections []WorkflowConnection
	if err := json.Unmarshal(data, &connections); err != nil {
		return nil, fmt.Errorf("连接解析失败: %w", err)
	}
	return connections, nil
}

// WorkflowTemplate 工作流模板模型
type WorkflowTemplate struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string     `json:"name" gorm:"not null;size:200"`
	Description string     `json:"description,omitempty" gorm:"type:text"`
	Category    string     `json:"category,omitempty" gorm:"size:50;index"`
	Type        string     `json:"type" gorm:"not null;size:50" example:"device_monitor"`
	Nodes       JSONBArray `json:"nodes" gorm:"type:jsonb"`
	Connections JSONBArray `json:"connections" gorm:"type:jsonb"`
	UseCount    int64      `json:"use_count" gorm:"not null;default:0"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy   string     `json:"created_by" gorm:"not null;default:'system';size:100"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (WorkflowTemplate) TableName() string {
	return "t_sys_workflow_template"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (t *WorkflowTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// WorkflowSchedule 工作流调度登记，调度器启动时据此注册cron任务
type WorkflowSchedule struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WorkflowID     string     `json:"workflow_id" gorm:"not null;type:varchar(36);index"`
	CronExpression string     `json:"cron_expression" gorm:"not null;size:100"`
	IsEnabled      bool       `json:"is_enabled" gorm:"not null"`
	LastFiredAt    *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt     *time.Time `json:"next_fire_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (WorkflowSchedule) TableName() string {
	return "t_sys_workflow_schedule"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (s *WorkflowSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// WorkflowVersion 工作流版本快照，发布时写入
type WorkflowVersion struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WorkflowID  string     `json:"workflow_id" gorm:"not null;type:varchar(36);index"`
	Version     string     `json:"version" gorm:"not null;size:20"`
	Nodes       JSONBArray `json:"nodes" gorm:"type:jsonb"`
	Connections JSONBArray `json:"connections" gorm:"type:jsonb"`
	Remark      string     `json:"remark,omitempty" gorm:"type:text"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy   string     `json:"created_by" gorm:"not null;default:'system';size:100"`
}

// TableName 指定表名
func (WorkflowVersion) TableName() string {
	return "t_sys_workflow_version"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (v *WorkflowVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}
