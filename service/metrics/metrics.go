/*
 * @module service/metrics
 * @description Prometheus指标定义，覆盖决策运行时和工作流执行引擎
 * @architecture 观测层 - promauto全局注册
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 指标注册 -> 运行时打点 -> /metrics暴露
 * @rules 指标名统一devmonitor_前缀
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go, service/decision/runtime.go, service/workflow/engine.go
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEvaluated 决策运行时处理的事件总数
	EventsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devmonitor_decision_events_total",
		Help: "Total number of fact-bag events processed by the decision runtime.",
	})

	// RulesTriggered 规则触发次数，按rule_id和结果分类
	RulesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmonitor_rules_triggered_total",
		Help: "Total number of rule triggers, labelled by rule ID and dispatch result.",
	}, []string{"rule_id", "result"})

	// RulesSuppressed 冷却窗口期内被抑制的规则命中次数
	RulesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmonitor_rules_suppressed_total",
		Help: "Total number of rule matches suppressed by cooldown, labelled by rule ID.",
	}, []string{"rule_id"})

	// EvaluationDuration 单次事件的规则评估耗时
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devmonitor_decision_evaluation_duration_ms",
		Help:    "Per-event rule evaluation latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	// WorkflowExecutions 工作流执行次数，按终态分类
	WorkflowExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmonitor_workflow_executions_total",
		Help: "Total number of workflow executions, labelled by terminal status.",
	}, []string{"status"})

	// WorkflowNodeExecutions 节点执行次数，按节点类型和状态分类
	WorkflowNodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmonitor_workflow_node_executions_total",
		Help: "Total number of workflow node executions, labelled by node type and status.",
	}, []string{"node_type", "status"})

	// WorkflowDuration 工作流运行耗时
	WorkflowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devmonitor_workflow_duration_ms",
		Help:    "Workflow run duration in milliseconds.",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
	})

	// RunningWorkflows 当前运行中的工作流数量
	RunningWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devmonitor_workflow_running",
		Help: "Number of workflow executions currently running.",
	})
)
