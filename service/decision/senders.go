/*
 * @module service/decision/senders
 * @description 动作执行器实现：告警落库、Webhook通知、工单接口调用
 * @architecture 适配器模式 - 封装外部协作方，提供统一的ActionSender接口
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 动作派发 -> 外部协作方调用 -> 结果返回
 * @rules 执行器自身不做重试，失败如实上报由派发器记录
 * @dependencies gorm.io/gorm, net/http, service/models
 * @refs service/decision/dispatcher.go
 */

package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceAlert 规则触发产生的设备告警记录
type DeviceAlert struct {
	ID          string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID      string       `json:"rule_id" gorm:"not null;size:100;index"`
	AssetID     string       `json:"asset_id,omitempty" gorm:"size:100;index"`
	Level       string       `json:"level" gorm:"not null;size:20" example:"warning"`
	Message     string       `json:"message" gorm:"type:text"`
	Status      string       `json:"status" gorm:"not null;size:20;default:'firing'"` // firing, resolved
	TriggerData models.JSONB `json:"trigger_data,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (DeviceAlert) TableName() string {
	return "t_sys_device_alert"
}

// AlertSender 告警动作执行器，将告警写入告警表
type AlertSender struct {
	db *gorm.DB
}

// NewAlertSender 创建告警动作执行器
func NewAlertSender(db *gorm.DB) *AlertSender {
	return &AlertSender{db: db}
}

// ActionType 对应的动作类型
func (s *AlertSender) ActionType() string {
	return meta.ActionTypeAlert
}

// Send 写入告警记录
func (s *AlertSender) Send(ctx context.Context, action *Action, execCtx *ExecutionContext) error {
	level := action.Level
	if level == "" {
		level = meta.AlertLevelWarning
	}
	alert := &DeviceAlert{
		ID:          uuid.New().String(),
		RuleID:      execCtx.RuleID,
		AssetID:     execCtx.AssetID,
		Level:       level,
		Message:     action.Message,
		Status:      "firing",
		TriggerData: models.JSONB(execCtx.Facts),
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("写入告警记录失败: %w", err)
	}
	return nil
}

// NotifySender 通知动作执行器，按渠道配置调用Webhook
type NotifySender struct {
	httpClient  *http.Client
	channelURLs map[string]string // 渠道名 -> Webhook地址
}

// NewNotifySender 创建通知动作执行器
func NewNotifySender(channelURLs map[string]string) *NotifySender {
	return &NotifySender{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		channelURLs: channelURLs,
	}
}

// ActionType 对应的动作类型
func (s *NotifySender) ActionType() string {
	return meta.ActionTypeNotify
}

// Send 向动作指定的各渠道推送通知，任一渠道失败即视为动作失败
func (s *NotifySender) Send(ctx context.Context, action *Action, execCtx *ExecutionContext) error {
	if len(action.Channels) == 0 {
		return fmt.Errorf("通知动作未配置渠道")
	}

	payload := map[string]interface{}{
		"rule_id":      execCtx.RuleID,
		"rule_name":    execCtx.RuleName,
		"asset_id":     execCtx.AssetID,
		"message":      action.Message,
		"trigger_time": execCtx.TriggerTime.Format(time.RFC3339),
		"facts":        execCtx.Facts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("通知内容序列化失败: %w", err)
	}

	for _, channel := range action.Channels {
		url, exists := s.channelURLs[channel]
		if !exists {
			return fmt.Errorf("未配置的通知渠道: %s", channel)
		}
		if err := s.postJSON(ctx, url, body); err != nil {
			return fmt.Errorf("渠道 %s 通知发送失败: %w", channel, err)
		}
	}
	return nil
}

func (s *NotifySender) postJSON(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("通知服务返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// TicketSender 工单动作执行器，调用工单系统接口创建工单
type TicketSender struct {
	httpClient *http.Client
	endpoint   string
}

// NewTicketSender 创建工单动作执行器
func NewTicketSender(endpoint string) *TicketSender {
	return &TicketSender{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
	}
}

// ActionType 对应的动作类型
func (s *TicketSender) ActionType() string {
	return meta.ActionTypeCreateTicket
}

// Send 创建工单
func (s *TicketSender) Send(ctx context.Context, action *Action, execCtx *ExecutionContext) error {
	if s.endpoint == "" {
		return fmt.Errorf("工单系统地址未配置")
	}

	payload := map[string]interface{}{
		"title":     fmt.Sprintf("[规则触发] %s", execCtx.RuleName),
		"content":   action.Message,
		"rule_id":   execCtx.RuleID,
		"asset_id":  execCtx.AssetID,
		"source":    "decision_engine",
		"extra":     action.Extra,
		"fact_data": execCtx.Facts,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("工单内容序列化失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("工单接口调用失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("工单系统返回状态码 %d", resp.StatusCode)
	}
	return nil
}
