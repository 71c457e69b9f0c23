/*
 * @module service/meta/decision_types
 * @description 决策规则常量定义和验证函数，统一管理条件操作符、动作类型、审计结果
 * @architecture 常量层 - 元数据定义
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 常量定义 -> 验证函数 -> 业务逻辑使用
 * @rules 操作符和动作类型为封闭集合，条件树在加载时校验，求值阶段不再报错
 * @dependencies 无外部依赖
 * @refs service/models/decision_rule.go, service/decision
 */

package meta

// 条件节点组合类型常量
const (
	ConditionTypeAnd = "AND"
	ConditionTypeOr  = "OR"
)

// 条件操作符常量
const (
	OperatorEq       = "eq"
	OperatorNeq      = "neq"
	OperatorGt       = "gt"
	OperatorLt       = "lt"
	OperatorGte      = "gte"
	OperatorLte      = "lte"
	OperatorIn       = "in"
	OperatorContains = "contains"
)

// 条件操作符显示名称映射
var OperatorDisplayNames = map[string]string{
	OperatorEq:       "等于",
	OperatorNeq:      "不等于",
	OperatorGt:       "大于",
	OperatorLt:       "小于",
	OperatorGte:      "大于等于",
	OperatorLte:      "小于等于",
	OperatorIn:       "属于集合",
	OperatorContains: "包含",
}

// 动作类型常量
const (
	ActionTypeAlert        = "alert"
	ActionTypeNotify       = "notify"
	ActionTypeCreateTicket = "create_ticket"
)

// 动作类型显示名称映射
var ActionTypeDisplayNames = map[string]string{
	ActionTypeAlert:        "产生告警",
	ActionTypeNotify:       "发送通知",
	ActionTypeCreateTicket: "创建工单",
}

// 审计结果常量
const (
	AuditResultSuccess = "success"
	AuditResultPartial = "partial"
	AuditResultFailed  = "failed"
)

// 告警级别常量
const (
	AlertLevelInfo     = "info"
	AlertLevelWarning  = "warning"
	AlertLevelCritical = "critical"
)

// IsValidOperator 验证条件操作符是否有效
func IsValidOperator(operator string) bool {
	_, exists := OperatorDisplayNames[operator]
	return exists
}

// IsValidActionType 验证动作类型是否有效
func IsValidActionType(actionType string) bool {
	_, exists := ActionTypeDisplayNames[actionType]
	return exists
}

// IsValidConditionType 验证条件组合类型是否有效
func IsValidConditionType(conditionType string) bool {
	return conditionType == ConditionTypeAnd || conditionType == ConditionTypeOr
}

// IsValidAuditResult 验证审计结果是否有效
func IsValidAuditResult(result string) bool {
	validResults := map[string]bool{
		AuditResultSuccess: true,
		AuditResultPartial: true,
		AuditResultFailed:  true,
	}
	return validResults[result]
}

// GetOperatorDisplayName 获取操作符的显示名称
func GetOperatorDisplayName(operator string) string {
	if displayName, exists := OperatorDisplayNames[operator]; exists {
		return displayName
	}
	return "未知操作符"
}

// GetActionTypeDisplayName 获取动作类型的显示名称
func GetActionTypeDisplayName(actionType string) string {
	if displayName, exists := ActionTypeDisplayNames[actionType]; exists {
		return displayName
	}
	return "未知动作"
}

// GetAllOperators 获取所有条件操作符
func GetAllOperators() []string {
	return []string{
		OperatorEq, OperatorNeq, OperatorGt, OperatorLt,
		OperatorGte, OperatorLte, OperatorIn, OperatorContains,
	}
}

// GetAllActionTypes 获取所有动作类型
func GetAllActionTypes() []string {
	return []string{ActionTypeAlert, ActionTypeNotify, ActionTypeCreateTicket}
}
