/*
 * @module service/decision/dispatcher
 * @description 动作派发器，按序执行规则动作并逐项记录结果，聚合为审计用的整体结论
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 规则命中 -> 按序执行动作 -> 逐项记录 -> 聚合 success/partial/failed
 * @rules 单个动作失败不中断后续动作；派发器只负责排序与记录，传输由各执行器实现
 * @dependencies service/meta, service/models
 * @refs service/decision/runtime.go, service/decision/senders.go
 */

package decision

import (
	"context"
	"fmt"
	"log"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"
)

// ActionSender 动作执行器接口，每种动作类型对应一个外部协作方
type ActionSender interface {
	Send(ctx context.Context, action *Action, execCtx *ExecutionContext) error
	ActionType() string
}

// ExecutionContext 动作执行上下文，携带触发规则与事实数据
type ExecutionContext struct {
	RuleID       string                 `json:"rule_id"`
	RuleName     string                 `json:"rule_name"`
	AssetID      string                 `json:"asset_id,omitempty"`
	PredictionID string                 `json:"prediction_id,omitempty"`
	Facts        map[string]interface{} `json:"facts"`
	TriggerTime  time.Time              `json:"trigger_time"`
}

// ActionOutcome 单个动作的执行结果
type ActionOutcome struct {
	ActionType string `json:"action_type"`
	Succeeded  bool   `json:"succeeded"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// DispatchResult 一次派发的整体结果
type DispatchResult struct {
	Executed   []ActionOutcome `json:"executed"`
	Result     string          `json:"result"` // success, partial, failed
	FirstError error           `json:"-"`
}

// ActionsExecutedJSON 将各动作结果转为审计日志的 actions_executed 字段
func (r *DispatchResult) ActionsExecutedJSON() models.JSONBArray {
	entries := make(models.JSONBArray, 0, len(r.Executed))
	for _, outcome := range r.Executed {
		entry := models.JSONB{
			"action_type": outcome.ActionType,
			"succeeded":   outcome.Succeeded,
			"duration_ms": outcome.DurationMs,
		}
		if outcome.Error != "" {
			entry["error"] = outcome.Error
		}
		entries = append(entries, entry)
	}
	return entries
}

// ActionDispatcher 动作派发器
type ActionDispatcher struct {
	senders map[string]ActionSender
}

// NewActionDispatcher 创建动作派发器
func NewActionDispatcher(senders ...ActionSender) *ActionDispatcher {
	dispatcher := &ActionDispatcher{
		senders: make(map[string]ActionSender),
	}
	for _, sender := range senders {
		dispatcher.senders[sender.ActionType()] = sender
	}
	return dispatcher
}

// RegisterSender 注册动作执行器，同类型后注册的覆盖先注册的
func (d *ActionDispatcher) RegisterSender(sender ActionSender) {
	d.senders[sender.ActionType()] = sender
}

// Dispatch 按列表顺序执行全部动作，逐项记录结果并聚合整体结论
func (d *ActionDispatcher) Dispatch(ctx context.Context, actions []Action, execCtx *ExecutionContext) *DispatchResult {
	result := &DispatchResult{
		Executed: make([]ActionOutcome, 0, len(actions)),
	}

	succeededCount := 0
	for i := range actions {
		action := &actions[i]
		outcome := ActionOutcome{ActionType: action.Type}
		startTime := time.Now()

		err := d.sendOne(ctx, action, execCtx)
		outcome.DurationMs = time.Since(startTime).Milliseconds()
		if err != nil {
			outcome.Error = err.Error()
			if result.FirstError == nil {
				result.FirstError = err
			}
			log.Printf("动作执行失败 [%s/%s]: %v", execCtx.RuleID, action.Type, err)
		} else {
			outcome.Succeeded = true
			succeededCount++
		}
		result.Executed = append(result.Executed, outcome)
	}

	switch {
	case len(actions) == 0 || succeededCount == len(actions):
		result.Result = meta.AuditResultSuccess
	case succeededCount == 0:
		result.Result = meta.AuditResultFailed
	default:
		result.Result = meta.AuditResultPartial
	}
	return result
}

// sendOne 执行单个动作，未注册执行器的动作类型视为执行失败
func (d *ActionDispatcher) sendOne(ctx context.Context, action *Action, execCtx *ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("动作执行器异常: %v", r)
		}
	}()

	sender, exists := d.senders[action.Type]
	if !exists {
		return fmt.Errorf("动作类型 %s 没有注册执行器", action.Type)
	}
	return sender.Send(ctx, action, execCtx)
}
