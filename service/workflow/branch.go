/*
 * @module service/workflow/branch
 * @description 条件节点的分支表达式求值，复用决策规则的条件树语法
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 条件树对变量表求值 -> 命中true/false分支label -> 引擎沿对应出边行走
 * @rules 表达式语法与决策规则条件树一致；求值结果映射到出边label "true"/"false"
 * @dependencies service/decision
 * @refs service/workflow/graph.go, service/workflow/engine.go
 */

package workflow

import (
	"fmt"

	"devmonitor-service/service/decision"
	"devmonitor-service/service/models"
)

// 条件节点出边的固定分支label
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// validateBranchExpression 校验条件节点的表达式是否为合法条件树
func validateBranchExpression(expression map[string]interface{}) error {
	return decision.ValidateConditionTree(models.JSONB(expression))
}

// evaluateBranchExpression 对变量表求值，返回命中的分支label
func evaluateBranchExpression(expression map[string]interface{}, variables map[string]interface{}) (string, error) {
	tree, err := decision.ParseConditionTree(models.JSONB(expression))
	if err != nil {
		return "", fmt.Errorf("条件表达式解析失败: %w", err)
	}
	if decision.Evaluate(tree, variables) {
		return BranchTrue, nil
	}
	return BranchFalse, nil
}
