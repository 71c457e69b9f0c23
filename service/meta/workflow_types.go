/*
 * @module service/meta/workflow_types
 * @description 工作流类型常量定义和验证函数，统一管理节点类型、触发类型、执行状态
 * @architecture 常量层 - 元数据定义
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 常量定义 -> 验证函数 -> 业务逻辑使用
 * @rules 节点类型为封闭集合，新增节点类型必须同时扩展图模型和执行引擎
 * @dependencies 无外部依赖
 * @refs service/models/workflow.go, service/workflow
 */

package meta

// 工作流类型常量
const (
	WorkflowTypeDeviceMonitor  = "device_monitor"
	WorkflowTypeAlarmProcess   = "alarm_process"
	WorkflowTypeDataCollection = "data_collection"
	WorkflowTypeMaintenance    = "maintenance"
	WorkflowTypeCustom         = "custom"
)

// 工作流类型显示名称映射
var WorkflowTypeDisplayNames = map[string]string{
	WorkflowTypeDeviceMonitor:  "设备监控",
	WorkflowTypeAlarmProcess:   "告警处理",
	WorkflowTypeDataCollection: "数据采集",
	WorkflowTypeMaintenance:    "维护保养",
	WorkflowTypeCustom:         "自定义",
}

// 节点类型常量（封闭集合）
const (
	NodeTypeStart     = "start"
	NodeTypeEnd       = "end"
	NodeTypeProcess   = "process"
	NodeTypeCondition = "condition"
	NodeTypeLoop      = "loop"
	NodeTypeTimer     = "timer"
	NodeTypeParallel  = "parallel"
	NodeTypeMerge     = "merge"
	NodeTypeDelay     = "delay"
	NodeTypeAPI       = "api"
	NodeTypeDatabase  = "database"
	NodeTypeTransform = "transform"
	NodeTypeFilter    = "filter"
)

// 节点类型显示名称映射
var NodeTypeDisplayNames = map[string]string{
	NodeTypeStart:     "开始",
	NodeTypeEnd:       "结束",
	NodeTypeProcess:   "处理",
	NodeTypeCondition: "条件判断",
	NodeTypeLoop:      "循环",
	NodeTypeTimer:     "定时器",
	NodeTypeParallel:  "并行分支",
	NodeTypeMerge:     "汇聚",
	NodeTypeDelay:     "延时",
	NodeTypeAPI:       "接口调用",
	NodeTypeDatabase:  "数据库操作",
	NodeTypeTransform: "数据转换",
	NodeTypeFilter:    "数据过滤",
}

// 触发类型常量
const (
	TriggerTypeManual   = "manual"
	TriggerTypeSchedule = "schedule"
	TriggerTypeEvent    = "event"
	TriggerTypeWebhook  = "webhook"
)

// 触发类型显示名称映射
var TriggerTypeDisplayNames = map[string]string{
	TriggerTypeManual:   "手动触发",
	TriggerTypeSchedule: "定时触发",
	TriggerTypeEvent:    "事件触发",
	TriggerTypeWebhook:  "Webhook触发",
}

// 工作流执行状态常量
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusSucceeded = "succeeded"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// 节点执行状态常量
const (
	NodeStatusPending   = "pending"
	NodeStatusRunning   = "running"
	NodeStatusSucceeded = "succeeded"
	NodeStatusFailed    = "failed"
	NodeStatusSkipped   = "skipped"
)

// 汇聚节点的合流条件
const (
	MergeJoinAll = "all"
	MergeJoinAny = "any"
)

// IsValidWorkflowType 验证工作流类型是否有效
func IsValidWorkflowType(workflowType string) bool {
	_, exists := WorkflowTypeDisplayNames[workflowType]
	return exists
}

// IsValidNodeType 验证节点类型是否有效
func IsValidNodeType(nodeType string) bool {
	_, exists := NodeTypeDisplayNames[nodeType]
	return exists
}

// IsValidTriggerType 验证触发类型是否有效
func IsValidTriggerType(triggerType string) bool {
	_, exists := TriggerTypeDisplayNames[triggerType]
	return exists
}

// IsValidExecutionStatus 验证执行状态是否有效
func IsValidExecutionStatus(status string) bool {
	validStatuses := map[string]bool{
		ExecutionStatusPending:   true,
		ExecutionStatusRunning:   true,
		ExecutionStatusSucceeded: true,
		ExecutionStatusFailed:    true,
		ExecutionStatusCancelled: true,
	}
	return validStatuses[status]
}

// IsTerminalExecutionStatus 判断执行状态是否为终态
func IsTerminalExecutionStatus(status string) bool {
	terminalStatuses := map[string]bool{
		ExecutionStatusSucceeded: true,
		ExecutionStatusFailed:    true,
		ExecutionStatusCancelled: true,
	}
	return terminalStatuses[status]
}

// GetNodeTypeDisplayName 获取节点类型的显示名称
func GetNodeTypeDisplayName(nodeType string) string {
	if displayName, exists := NodeTypeDisplayNames[nodeType]; exists {
		return displayName
	}
	return "未知类型"
}

// GetWorkflowTypeDisplayName 获取工作流类型的显示名称
func GetWorkflowTypeDisplayName(workflowType string) string {
	if displayName, exists := WorkflowTypeDisplayNames[workflowType]; exists {
		return displayName
	}
	return "未知类型"
}

// GetAllNodeTypes 获取所有节点类型
func GetAllNodeTypes() []string {
	return []string{
		NodeTypeStart, NodeTypeEnd, NodeTypeProcess, NodeTypeCondition,
		NodeTypeLoop, NodeTypeTimer, NodeTypeParallel, NodeTypeMerge,
		NodeTypeDelay, NodeTypeAPI, NodeTypeDatabase, NodeTypeTransform,
		NodeTypeFilter,
	}
}
