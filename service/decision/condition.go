/*
 * @module service/decision/condition
 * @description 条件树求值器，对事实数据求值 AND/OR 组合与比较叶子节点
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 规则加载时校验条件树 -> 事件到达时纯函数求值
 * @rules 求值阶段不抛错：字段缺失、类型不匹配一律按不命中处理；校验在加载阶段完成
 * @dependencies github.com/spf13/cast, service/meta, service/models
 * @refs service/decision/runtime.go, service/decision/registry.go
 */

package decision

import (
	"fmt"
	"strings"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/spf13/cast"
)

// ConditionNode 条件树节点，组合节点携带type/rules，叶子节点携带field/operator/value
type ConditionNode struct {
	Type     string          `json:"type,omitempty"` // AND / OR，叶子节点为空
	Rules    []ConditionNode `json:"rules,omitempty"`
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    interface{}     `json:"value,omitempty"`
}

// IsComposite 判断是否为组合节点
func (n *ConditionNode) IsComposite() bool {
	return n.Type != ""
}

// ParseConditionTree 将JSONB条件配置解析为条件树
func ParseConditionTree(raw models.JSONB) (*ConditionNode, error) {
	node, err := parseConditionNode(map[string]interface{}(raw))
	if err != nil {
		return nil, err
	}
	return node, nil
}

func parseConditionNode(raw map[string]interface{}) (*ConditionNode, error) {
	node := &ConditionNode{}

	if typeValue, ok := raw["type"]; ok {
		node.Type = strings.ToUpper(cast.ToString(typeValue))
		if !meta.IsValidConditionType(node.Type) {
			return nil, fmt.Errorf("未知的条件组合类型: %v", typeValue)
		}
		children, ok := raw["rules"].([]interface{})
		if !ok && raw["rules"] != nil {
			return nil, fmt.Errorf("组合节点的rules必须是数组")
		}
		for i, child := range children {
			childMap, err := cast.ToStringMapE(child)
			if err != nil {
				return nil, fmt.Errorf("第%d个子条件格式无效: %w", i+1, err)
			}
			childNode, err := parseConditionNode(childMap)
			if err != nil {
				return nil, err
			}
			node.Rules = append(node.Rules, *childNode)
		}
		return node, nil
	}

	// 叶子节点
	node.Field = cast.ToString(raw["field"])
	node.Operator = cast.ToString(raw["operator"])
	node.Value = raw["value"]
	if node.Field == "" {
		return nil, fmt.Errorf("叶子条件缺少field字段")
	}
	if !meta.IsValidOperator(node.Operator) {
		return nil, fmt.Errorf("叶子条件操作符无效: %q", node.Operator)
	}
	return node, nil
}

// ValidateConditionTree 校验JSONB条件配置，规则保存/加载阶段调用
func ValidateConditionTree(raw models.JSONB) error {
	if raw == nil {
		return fmt.Errorf("条件树不能为空")
	}
	_, err := ParseConditionTree(raw)
	return err
}

// Evaluate 对事实数据求值条件树。纯函数，可并发调用。
// 空的AND组合为真（空真），空的OR组合为假；组合节点短路求值。
func Evaluate(node *ConditionNode, facts map[string]interface{}) bool {
	if node == nil {
		return false
	}

	switch node.Type {
	case meta.ConditionTypeAnd:
		for i := range node.Rules {
			if !Evaluate(&node.Rules[i], facts) {
				return false
			}
		}
		return true
	case meta.ConditionTypeOr:
		for i := range node.Rules {
			if Evaluate(&node.Rules[i], facts) {
				return true
			}
		}
		return false
	}

	return evaluateLeaf(node, facts)
}

// evaluateLeaf 求值叶子节点，字段缺失或类型不匹配一律返回false
func evaluateLeaf(node *ConditionNode, facts map[string]interface{}) bool {
	factValue, exists := facts[node.Field]
	if !exists {
		return false
	}

	switch node.Operator {
	case meta.OperatorEq:
		return valuesEqual(factValue, node.Value)
	case meta.OperatorNeq:
		return !valuesEqual(factValue, node.Value)
	case meta.OperatorGt, meta.OperatorLt, meta.OperatorGte, meta.OperatorLte:
		return numericCompare(node.Operator, factValue, node.Value)
	case meta.OperatorIn:
		return valueIn(factValue, node.Value)
	case meta.OperatorContains:
		return valueContains(factValue, node.Value)
	}
	return false
}

// valuesEqual 数值按值比较，其余按字符串表示比较
func valuesEqual(left, right interface{}) bool {
	leftNum, leftErr := cast.ToFloat64E(left)
	rightNum, rightErr := cast.ToFloat64E(right)
	if leftErr == nil && rightErr == nil {
		return leftNum == rightNum
	}
	if leftBool, err := cast.ToBoolE(left); err == nil {
		if rightBool, err := cast.ToBoolE(right); err == nil {
			return leftBool == rightBool
		}
	}
	return cast.ToString(left) == cast.ToString(right)
}

// numericCompare 数值比较，任一侧无法转为数值时按不命中处理
func numericCompare(operator string, left, right interface{}) bool {
	leftNum, err := cast.ToFloat64E(left)
	if err != nil {
		return false
	}
	rightNum, err := cast.ToFloat64E(right)
	if err != nil {
		return false
	}
	switch operator {
	case meta.OperatorGt:
		return leftNum > rightNum
	case meta.OperatorLt:
		return leftNum < rightNum
	case meta.OperatorGte:
		return leftNum >= rightNum
	case meta.OperatorLte:
		return leftNum <= rightNum
	}
	return false
}

// valueIn 事实值是否属于比较值集合，比较值不是列表时按不命中处理
func valueIn(factValue, compareValue interface{}) bool {
	list, err := cast.ToSliceE(compareValue)
	if err != nil {
		return false
	}
	for _, item := range list {
		if valuesEqual(factValue, item) {
			return true
		}
	}
	return false
}

// valueContains 字符串包含或列表元素包含，事实值形态不符时按不命中处理
func valueContains(factValue, compareValue interface{}) bool {
	if factList, err := cast.ToSliceE(factValue); err == nil {
		if _, isString := factValue.(string); !isString {
			for _, item := range factList {
				if valuesEqual(item, compareValue) {
					return true
				}
			}
			return false
		}
	}
	factString, err := cast.ToStringE(factValue)
	if err != nil {
		return false
	}
	return strings.Contains(factString, cast.ToString(compareValue))
}
