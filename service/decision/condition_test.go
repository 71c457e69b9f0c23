/*
 * @module service/decision/condition_test
 * @description 条件树解析与求值的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/decision_rule_req.md
 */

package decision

import (
	"testing"

	"devmonitor-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionTree(t *testing.T) {
	tree, err := ParseConditionTree(models.JSONB{
		"type": "AND",
		"rules": []interface{}{
			map[string]interface{}{"field": "predicted_value", "operator": "gt", "value": 80},
			map[string]interface{}{
				"type": "or",
				"rules": []interface{}{
					map[string]interface{}{"field": "level", "operator": "eq", "value": "critical"},
					map[string]interface{}{"field": "confidence", "operator": "gte", "value": 0.9},
				},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "AND", tree.Type)
	require.Len(t, tree.Rules, 2)
	assert.False(t, tree.Rules[0].IsComposite())
	// 小写的组合类型归一化为大写
	assert.Equal(t, "OR", tree.Rules[1].Type)
	assert.Len(t, tree.Rules[1].Rules, 2)
}

func TestParseConditionTreeInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  models.JSONB
	}{
		{"未知组合类型", models.JSONB{"type": "XOR", "rules": []interface{}{}}},
		{"rules不是数组", models.JSONB{"type": "AND", "rules": "oops"}},
		{"叶子缺少field", models.JSONB{"operator": "eq", "value": 1}},
		{"非法操作符", models.JSONB{"field": "x", "operator": "like", "value": 1}},
		{"子条件非法", models.JSONB{
			"type":  "AND",
			"rules": []interface{}{map[string]interface{}{"field": "x", "operator": "??"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConditionTree(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestValidateConditionTreeNil(t *testing.T) {
	assert.Error(t, ValidateConditionTree(nil))
}

func TestEvaluateOperators(t *testing.T) {
	facts := map[string]interface{}{
		"predicted_value": 85.5,
		"status":          "running",
		"fault_code":      "E102",
		"tags":            []interface{}{"pump", "critical"},
		"healthy":         true,
	}

	tests := []struct {
		name     string
		field    string
		operator string
		value    interface{}
		want     bool
	}{
		{"eq数值命中", "predicted_value", "eq", 85.5, true},
		{"eq数值字符串互比", "predicted_value", "eq", "85.5", true},
		{"eq字符串", "status", "eq", "running", true},
		{"eq布尔", "healthy", "eq", true, true},
		{"neq", "status", "neq", "stopped", true},
		{"neq不命中", "status", "neq", "running", false},
		{"gt命中", "predicted_value", "gt", 80, true},
		{"gt不命中", "predicted_value", "gt", 90, false},
		{"gt非数值事实", "status", "gt", 10, false},
		{"lt", "predicted_value", "lt", 100, true},
		{"gte临界值", "predicted_value", "gte", 85.5, true},
		{"lte临界值", "predicted_value", "lte", 85.5, true},
		{"in命中", "fault_code", "in", []interface{}{"E101", "E102"}, true},
		{"in不命中", "fault_code", "in", []interface{}{"E200"}, false},
		{"in比较值非列表", "fault_code", "in", "E102", false},
		{"contains字符串", "fault_code", "contains", "10", true},
		{"contains列表元素", "tags", "contains", "pump", true},
		{"contains列表不命中", "tags", "contains", "fan", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &ConditionNode{Field: tt.field, Operator: tt.operator, Value: tt.value}
			assert.Equal(t, tt.want, Evaluate(node, facts))
		})
	}
}

func TestEvaluateMissingField(t *testing.T) {
	node := &ConditionNode{Field: "nonexistent", Operator: "eq", Value: 1}
	assert.False(t, Evaluate(node, map[string]interface{}{"other": 1}))

	// neq对缺失字段同样不命中，而不是空真
	node.Operator = "neq"
	assert.False(t, Evaluate(node, map[string]interface{}{"other": 1}))
}

func TestEvaluateComposite(t *testing.T) {
	facts := map[string]interface{}{"a": 1, "b": 2}

	leafA := ConditionNode{Field: "a", Operator: "eq", Value: 1}
	leafB := ConditionNode{Field: "b", Operator: "eq", Value: 99}

	and := &ConditionNode{Type: "AND", Rules: []ConditionNode{leafA, leafB}}
	assert.False(t, Evaluate(and, facts))

	or := &ConditionNode{Type: "OR", Rules: []ConditionNode{leafB, leafA}}
	assert.True(t, Evaluate(or, facts))

	nested := &ConditionNode{Type: "AND", Rules: []ConditionNode{leafA, *or}}
	assert.True(t, Evaluate(nested, facts))
}

func TestEvaluateEmptyComposite(t *testing.T) {
	facts := map[string]interface{}{}
	assert.True(t, Evaluate(&ConditionNode{Type: "AND"}, facts), "空AND为真")
	assert.False(t, Evaluate(&ConditionNode{Type: "OR"}, facts), "空OR为假")
}

func TestEvaluateNilNode(t *testing.T) {
	assert.False(t, Evaluate(nil, map[string]interface{}{"a": 1}))
}
