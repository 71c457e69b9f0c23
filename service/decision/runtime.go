/*
 * @module service/decision/runtime
 * @description 决策运行时，按优先级对每个事件评估启用规则，处理冷却、派发与审计
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow Idle -> Evaluating -> (NoMatch -> Idle) | (Matched -> Cooldown -> Idle)
 * @rules 单条规则派发失败不影响后续规则；命中且派发的规则恰好产生一条审计日志
 * @dependencies gorm.io/gorm, service/metrics, service/models
 * @refs service/decision/registry.go, service/decision/dispatcher.go
 */

package decision

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/metrics"
	"devmonitor-service/service/models"

	"gorm.io/gorm"
)

// Event 外部送入决策运行时的遥测/预测事件
type Event struct {
	AssetID      string                 `json:"asset_id,omitempty"`
	PredictionID string                 `json:"prediction_id,omitempty"`
	Facts        map[string]interface{} `json:"facts"`
}

// RuleOutcome 单条规则在一次事件中的处理结果
type RuleOutcome struct {
	RuleID     string `json:"rule_id"`
	Matched    bool   `json:"matched"`
	Dispatched bool   `json:"dispatched"`
	InCooldown bool   `json:"in_cooldown"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EventResult 一次事件的整体处理结果
type EventResult struct {
	EvaluatedRules int           `json:"evaluated_rules"`
	Outcomes       []RuleOutcome `json:"outcomes"`
}

// TestRuleResult 规则试运行结果，仅用于诊断，不产生任何副作用
type TestRuleResult struct {
	Matched    bool                   `json:"matched"`
	Conditions models.JSONB           `json:"conditions"`
	Facts      map[string]interface{} `json:"facts"`
	Actions    []Action               `json:"actions,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// Runtime 决策运行时
type Runtime struct {
	db         *gorm.DB
	registry   *RuleRegistry
	dispatcher *ActionDispatcher
	cooldown   *CooldownTracker
	now        func() time.Time
}

// NewRuntime 创建决策运行时
func NewRuntime(db *gorm.DB, registry *RuleRegistry, dispatcher *ActionDispatcher, cooldown *CooldownTracker) *Runtime {
	return &Runtime{
		db:         db,
		registry:   registry,
		dispatcher: dispatcher,
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// OnEvent 处理一个事件：按优先级顺序评估启用规则，命中且不在冷却期的派发动作并写审计日志。
// 不同资产的事件可以并发调用；整个评估过程持有同一份规则快照。
func (rt *Runtime) OnEvent(ctx context.Context, event *Event) (*EventResult, error) {
	if event == nil || event.Facts == nil {
		return nil, fmt.Errorf("事件数据不能为空")
	}

	startTime := rt.now()
	metrics.EventsEvaluated.Inc()

	enabled := rt.registry.ListEnabled()
	result := &EventResult{EvaluatedRules: len(enabled)}

	for _, compiled := range enabled {
		outcome := rt.evaluateRule(ctx, compiled, event)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	metrics.EvaluationDuration.Observe(float64(time.Since(startTime).Milliseconds()))
	return result, nil
}

// evaluateRule 处理单条规则，派发失败被捕获记录，不向上传播
func (rt *Runtime) evaluateRule(ctx context.Context, compiled *CompiledRule, event *Event) RuleOutcome {
	rule := compiled.Rule
	outcome := RuleOutcome{RuleID: rule.RuleID}

	// 冷却期内仍然评估（便于审计观察与测试），但不派发
	outcome.Matched = Evaluate(compiled.Conditions, event.Facts)
	if !outcome.Matched {
		return outcome
	}

	triggerTime := rt.now()
	if !rt.cooldown.TryAcquire(rule.RuleID, rule.CooldownWindow(), triggerTime) {
		outcome.InCooldown = true
		metrics.RulesSuppressed.WithLabelValues(rule.RuleID).Inc()
		return outcome
	}

	execCtx := &ExecutionContext{
		RuleID:       rule.RuleID,
		RuleName:     rule.Name,
		AssetID:      event.AssetID,
		PredictionID: event.PredictionID,
		Facts:        event.Facts,
		TriggerTime:  triggerTime,
	}

	dispatchResult := rt.dispatchSafely(ctx, compiled.Actions, execCtx)
	outcome.Dispatched = true
	outcome.Result = dispatchResult.Result
	if dispatchResult.FirstError != nil {
		outcome.Error = dispatchResult.FirstError.Error()
	}
	metrics.RulesTriggered.WithLabelValues(rule.RuleID, dispatchResult.Result).Inc()

	rt.writeAuditLog(ctx, compiled, event, execCtx, dispatchResult, time.Since(triggerTime))
	return outcome
}

// dispatchSafely 派发动作，派发器异常转为整体failed结果
func (rt *Runtime) dispatchSafely(ctx context.Context, actions []Action, execCtx *ExecutionContext) (result *DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("动作派发异常 [%s]: %v", execCtx.RuleID, r)
			result = &DispatchResult{
				Result:     meta.AuditResultFailed,
				FirstError: fmt.Errorf("动作派发异常: %v", r),
			}
		}
	}()
	return rt.dispatcher.Dispatch(ctx, actions, execCtx)
}

// writeAuditLog 写入审计日志，每次命中且派发恰好一条
func (rt *Runtime) writeAuditLog(ctx context.Context, compiled *CompiledRule, event *Event,
	execCtx *ExecutionContext, dispatchResult *DispatchResult, duration time.Duration) {
	entry := &models.DecisionAuditLog{
		RuleID:             compiled.Rule.RuleID,
		RuleName:           compiled.Rule.Name,
		Result:             dispatchResult.Result,
		TriggerTime:        execCtx.TriggerTime,
		ExecutionDuration:  duration.Milliseconds(),
		AssetID:            event.AssetID,
		PredictionID:       event.PredictionID,
		TriggerData:        models.JSONB(event.Facts),
		ConditionsSnapshot: compiled.Rule.Conditions,
		ActionsExecuted:    dispatchResult.ActionsExecutedJSON(),
	}
	if dispatchResult.FirstError != nil {
		message := dispatchResult.FirstError.Error()
		stack := string(debug.Stack())
		entry.ErrorMessage = &message
		entry.ErrorStack = &stack
	}

	if err := rt.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.Printf("写入审计日志失败 [%s]: %v", compiled.Rule.RuleID, err)
	}
}

// TestRule 对给定事实试运行一条规则。绕过注册表和冷却状态，不派发动作、
// 不写审计日志，仅返回同步诊断结果。
func (rt *Runtime) TestRule(rule *models.DecisionRule, facts map[string]interface{}) (*TestRuleResult, error) {
	compiled, err := CompileRule(rule)
	if err != nil {
		return nil, err
	}

	startTime := rt.now()
	matched := Evaluate(compiled.Conditions, facts)

	result := &TestRuleResult{
		Matched:    matched,
		Conditions: rule.Conditions,
		Facts:      facts,
		DurationMs: time.Since(startTime).Milliseconds(),
	}
	if matched {
		result.Actions = compiled.Actions
	}
	return result, nil
}
