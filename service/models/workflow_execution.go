/*
 * @module service/models/workflow_execution
 * @description 工作流执行记录模型，运行级与节点级两层，由执行引擎独占写入
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow pending -> running -> succeeded/failed/cancelled（终态后不再变更）
 * @rules 节点重试与循环的每次访问都新增一行节点执行记录；运行记录原地累加retry_count
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/workflow/engine.go
 */

package models

import (
	"time"

	"devmonitor-service/service/meta"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkflowExecution 工作流执行记录
type WorkflowExecution struct {
	ID                string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WorkflowID        string     `json:"workflow_id" gorm:"not null;type:varchar(36);index"`
	ExecutionID       string     `json:"execution_id" gorm:"not null;uniqueIndex;size:64" example:"exec_20260829_0001"`
	Status            string     `json:"status" gorm:"not null;size:20;default:'pending';index" example:"pending"`
	TriggerType       string     `json:"trigger_type" gorm:"not null;size:20" example:"manual"`
	TriggerData       JSONB      `json:"trigger_data,omitempty" gorm:"type:jsonb"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	DurationMs        int64      `json:"duration_ms" gorm:"not null;default:0"`
	Result            JSONB      `json:"result,omitempty" gorm:"type:jsonb"`
	ErrorMessage      string     `json:"error_message,omitempty" gorm:"type:text"`
	NodeStates        JSONB      `json:"node_states,omitempty" gorm:"type:jsonb"` // nodeId -> 节点状态
	CurrentNodeID     string     `json:"current_node_id,omitempty" gorm:"size:100"`
	Context           JSONB      `json:"context,omitempty" gorm:"type:jsonb"` // 贯穿节点执行的变量存储
	RetryCount        int        `json:"retry_count" gorm:"not null;default:0"`
	ParentExecutionID *string    `json:"parent_execution_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt         time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (WorkflowExecution) TableName() string {
	return "t_sys_workflow_execution"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (e *WorkflowExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ExecutionID == "" {
		e.ExecutionID = "exec_" + uuid.New().String()
	}
	if e.Status == "" {
		e.Status = meta.ExecutionStatusPending
	}
	return nil
}

// IsTerminal 判断执行是否已进入终态
func (e *WorkflowExecution) IsTerminal() bool {
	return meta.IsTerminalExecutionStatus(e.Status)
}

// CanCancel 判断执行是否可以取消
func (e *WorkflowExecution) CanCancel() bool {
	return e.Status == meta.ExecutionStatusPending || e.Status == meta.ExecutionStatusRunning
}

// GetDuration 获取执行时长
func (e *WorkflowExecution) GetDuration() *time.Duration {
	if e.StartedAt != nil && e.CompletedAt != nil {
		duration := e.CompletedAt.Sub(*e.StartedAt)
		return &duration
	}
	return nil
}

// WorkflowNodeExecution 节点执行记录，循环/重试的每次访问单独一行
type WorkflowNodeExecution struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ExecutionID  string     `json:"execution_id" gorm:"not null;size:64;index"`
	NodeID       string     `json:"node_id" gorm:"not null;size:100;index"`
	NodeType     string     `json:"node_type" gorm:"not null;size:30"`
	Status       string     `json:"status" gorm:"not null;size:20;default:'pending'" example:"pending"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	InputData    JSONB      `json:"input_data,omitempty" gorm:"type:jsonb"`
	OutputData   JSONB      `json:"output_data,omitempty" gorm:"type:jsonb"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	ErrorDetails JSONB      `json:"error_details,omitempty" gorm:"type:jsonb"`
	RetryCount   int        `json:"retry_count" gorm:"not null;default:0"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (WorkflowNodeExecution) TableName() string {
	return "t_sys_workflow_node_execution"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (n *WorkflowNodeExecution) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = meta.NodeStatusPending
	}
	return nil
}

// GetDuration 获取节点执行时长
func (n *WorkflowNodeExecution) GetDuration() *time.Duration {
	if n.StartedAt != nil && n.CompletedAt != nil {
		duration := n.CompletedAt.Sub(*n.StartedAt)
		return &duration
	}
	return nil
}
