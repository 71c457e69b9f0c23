/*
 * @module service/decision/action
 * @description 规则动作定义与解析，按type标签区分告警/通知/工单三类动作
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 规则加载时解析动作列表 -> 规则命中时按序派发
 * @rules 动作列表有序；解析失败在加载阶段报错，派发阶段只做执行和记录
 * @dependencies github.com/spf13/cast, service/meta, service/models
 * @refs service/decision/dispatcher.go
 */

package decision

import (
	"fmt"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/spf13/cast"
)

// Action 规则动作，Type决定其余字段的含义
type Action struct {
	Type     string                 `json:"type"`
	Level    string                 `json:"level,omitempty"`    // alert: info/warning/critical
	Message  string                 `json:"message,omitempty"`  // 告警/通知内容模板
	Channels []string               `json:"channels,omitempty"` // notify: 通知渠道列表
	Extra    map[string]interface{} `json:"extra,omitempty"`    // 动作类型各自约定的补充字段
}

// ParseActions 将JSONB动作配置解析为有序动作列表
func ParseActions(raw models.JSONBArray) ([]Action, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("动作列表不能为空")
	}
	actions := make([]Action, 0, len(raw))
	for i, item := range raw {
		action, err := parseAction(map[string]interface{}(item))
		if err != nil {
			return nil, fmt.Errorf("第%d个动作无效: %w", i+1, err)
		}
		actions = append(actions, *action)
	}
	return actions, nil
}

func parseAction(raw map[string]interface{}) (*Action, error) {
	actionType := cast.ToString(raw["type"])
	if !meta.IsValidActionType(actionType) {
		return nil, fmt.Errorf("未知的动作类型: %q", actionType)
	}

	action := &Action{
		Type:    actionType,
		Level:   cast.ToString(raw["level"]),
		Message: cast.ToString(raw["message"]),
	}
	if channels, ok := raw["channels"]; ok {
		channelList, err := cast.ToStringSliceE(channels)
		if err != nil {
			return nil, fmt.Errorf("通知渠道列表格式无效: %w", err)
		}
		action.Channels = channelList
	}

	// 其余键原样保留，交由各动作执行器识别
	known := map[string]bool{"type": true, "level": true, "message": true, "channels": true}
	for key, value := range raw {
		if !known[key] {
			if action.Extra == nil {
				action.Extra = make(map[string]interface{})
			}
			action.Extra[key] = value
		}
	}
	return action, nil
}

// ValidateActions 校验JSONB动作配置，规则保存/加载阶段调用
func ValidateActions(raw models.JSONBArray) error {
	_, err := ParseActions(raw)
	return err
}
