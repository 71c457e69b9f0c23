/*
 * @module service/models/event
 * @description 事件推送相关模型定义，包括SSE事件、连接记录与数据库变更处理器
 * @architecture 事件驱动架构 - 数据模型层
 * @documentReference ai_docs/event_push_req.md
 * @stateFlow 事件生产 -> 入库 -> 推送到活跃连接 -> 标记已发送/已读
 * @rules 确保事件的可靠传递和处理，连接断开后is_active置false
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/event/event_service.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SSE事件类型
const (
	SSEEventExecutionStarted  = "execution_started"
	SSEEventExecutionFinished = "execution_finished"
	SSEEventRuleTriggered     = "rule_triggered"
	SSEEventAlertCreated      = "alert_created"
	SSEEventSystemNotice      = "system_notice"
)

// SSEEvent SSE事件模型
type SSEEvent struct {
	ID        string     `gorm:"type:uuid;primary_key" json:"id"`
	EventType string     `gorm:"not null" json:"event_type"` // execution_started, rule_triggered 等
	UserName  string     `gorm:"not null;index" json:"user_name"`
	Data      JSONB      `gorm:"type:jsonb;not null" json:"data"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CreatedBy string     `gorm:"not null;default:'system'" json:"created_by"`
	Sent      bool       `gorm:"not null;default:false" json:"sent"`
	SentAt    *time.Time `json:"sent_at"`
	Read      bool       `gorm:"not null;default:false" json:"read"`
	ReadAt    *time.Time `json:"read_at"`
}

// TableName 指定表名
func (SSEEvent) TableName() string {
	return "t_sys_sse_event"
}

// BeforeCreate 创建前钩子
func (s *SSEEvent) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedBy == "" {
		s.CreatedBy = "system"
	}
	return nil
}

// DBEventProcessor 数据库变更事件处理器，按表名注册到事件服务
type DBEventProcessor interface {
	ProcessDBChangeEvent(changeData map[string]interface{}) error
	TableName() string
}

// SSEConnection SSE连接管理模型
type SSEConnection struct {
	ID           string    `gorm:"type:uuid;primary_key" json:"id"`
	UserName     string    `gorm:"not null;index" json:"user_name"`
	ConnectionID string    `gorm:"not null;unique" json:"connection_id"`
	ClientIP     string    `gorm:"not null" json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
	ConnectedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"connected_at"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CreatedBy    string    `gorm:"not null;default:'system'" json:"created_by"`
	LastPingAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"last_ping_at"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
}

// TableName 指定表名
func (SSEConnection) TableName() string {
	return "t_sys_sse_connection"
}

// BeforeCreate 创建前钩子
func (s *SSEConnection) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedBy == "" {
		s.CreatedBy = "system"
	}
	return nil
}
