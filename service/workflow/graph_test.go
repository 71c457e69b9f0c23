/*
 * @module service/workflow/graph_test
 * @description 工作流图构建与发布前校验的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/workflow_engine_req.md
 */

package workflow

import (
	"strings"
	"testing"

	"devmonitor-service/service/models"
	"devmonitor-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workflowWith(nodes, connections models.JSONBArray) *models.Workflow {
	return &models.Workflow{
		Name:        "校验用工作流",
		Code:        "wf_validate",
		Type:        "device_monitor",
		TriggerType: "manual",
		Nodes:       nodes,
		Connections: connections,
	}
}

func TestBuildGraph(t *testing.T) {
	workflow := workflowWith(testutil.SimpleWorkflowNodes(), testutil.SimpleWorkflowConnections())

	graph, err := BuildGraph(workflow)
	require.NoError(t, err)
	assert.Equal(t, "n_start", graph.StartNodeID)
	assert.Len(t, graph.Nodes, 3)
	require.Len(t, graph.Outgoing["n_start"], 1)
	assert.Equal(t, "n_process", graph.Outgoing["n_start"][0].ToNodeID)
	require.Len(t, graph.Incoming["n_end"], 1)
}

func TestBuildGraphStructuralErrors(t *testing.T) {
	duplicate := workflowWith(models.JSONBArray{
		{"id": "n1", "type": "start"},
		{"id": "n1", "type": "end"},
	}, nil)
	_, err := BuildGraph(duplicate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "节点ID重复")

	dangling := workflowWith(models.JSONBArray{
		{"id": "n1", "type": "start"},
		{"id": "n2", "type": "end"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "n1", "toNodeId": "n_missing"},
	})
	_, err = BuildGraph(dangling)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "终点节点不存在")
}

func TestValidateWorkflowValid(t *testing.T) {
	workflow := workflowWith(testutil.SimpleWorkflowNodes(), testutil.SimpleWorkflowConnections())

	result := ValidateWorkflow(workflow)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateWorkflowStartEndConstraints(t *testing.T) {
	twoStarts := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "s2", "type": "start"},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "s1", "toNodeId": "e1"},
		{"id": "c2", "fromNodeId": "s2", "toNodeId": "e1"},
	})
	result := ValidateWorkflow(twoStarts)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "恰好包含一个start节点")

	noEnd := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "p1", "type": "process"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "s1", "toNodeId": "p1"},
	})
	result = ValidateWorkflow(noEnd)
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Errors, ";"), "终止节点缺失")
}

func TestValidateWorkflowDegreeConstraints(t *testing.T) {
	// p1没有入边，p2没有出边
	workflow := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "p1", "type": "process"},
		{"id": "p2", "type": "process"},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "s1", "toNodeId": "e1"},
		{"id": "c2", "fromNodeId": "p1", "toNodeId": "e1"},
		{"id": "c3", "fromNodeId": "s1", "toNodeId": "p2"},
	})

	result := ValidateWorkflow(workflow)
	assert.False(t, result.Valid)
	joined := strings.Join(result.Errors, ";")
	assert.Contains(t, joined, "p1 没有任何入边")
	assert.Contains(t, joined, "p2 没有任何出边")
}

func TestValidateWorkflowConditionLabels(t *testing.T) {
	expression := map[string]interface{}{"field": "temperature", "operator": "gt", "value": 80}

	duplicateLabels := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "c1", "type": "condition", "config": map[string]interface{}{"expression": expression}},
		{"id": "e1", "type": "end"},
		{"id": "e2", "type": "end"},
	}, models.JSONBArray{
		{"id": "l1", "fromNodeId": "s1", "toNodeId": "c1"},
		{"id": "l2", "fromNodeId": "c1", "toNodeId": "e1", "label": "true"},
		{"id": "l3", "fromNodeId": "c1", "toNodeId": "e2", "label": "true"},
	})
	result := ValidateWorkflow(duplicateLabels)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "重复的分支label")

	// 求值器只会产出true/false，其他label校验期就拒绝
	unresolvableLabel := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "c1", "type": "condition", "config": map[string]interface{}{"expression": expression}},
		{"id": "e1", "type": "end"},
		{"id": "e2", "type": "end"},
	}, models.JSONBArray{
		{"id": "l1", "fromNodeId": "s1", "toNodeId": "c1"},
		{"id": "l2", "fromNodeId": "c1", "toNodeId": "e1", "label": "true"},
		{"id": "l3", "fromNodeId": "c1", "toNodeId": "e2", "label": "maybe"},
	})
	result = ValidateWorkflow(unresolvableLabel)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "分支label必须是")

	missingLabel := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "c1", "type": "condition", "config": map[string]interface{}{"expression": expression}},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "l1", "fromNodeId": "s1", "toNodeId": "c1"},
		{"id": "l2", "fromNodeId": "c1", "toNodeId": "e1"},
	})
	result = ValidateWorkflow(missingLabel)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "缺少分支label")

	missingExpression := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "c1", "type": "condition"},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "l1", "fromNodeId": "s1", "toNodeId": "c1"},
		{"id": "l2", "fromNodeId": "c1", "toNodeId": "e1", "label": "true"},
	})
	result = ValidateWorkflow(missingExpression)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "缺少expression配置")
}

func TestValidateWorkflowLoopAndMergeConfig(t *testing.T) {
	loopWithoutLimit := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "lp", "type": "loop"},
		{"id": "p1", "type": "process"},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "s1", "toNodeId": "lp"},
		{"id": "c2", "fromNodeId": "lp", "toNodeId": "p1", "label": "body"},
		{"id": "c3", "fromNodeId": "p1", "toNodeId": "lp"},
		{"id": "c4", "fromNodeId": "lp", "toNodeId": "e1", "label": "exit"},
	})
	result := ValidateWorkflow(loopWithoutLimit)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "max_iterations")

	badJoin := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "m1", "type": "merge", "config": map[string]interface{}{"join": "most"}},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "s1", "toNodeId": "m1"},
		{"id": "c2", "fromNodeId": "m1", "toNodeId": "e1"},
	})
	result = ValidateWorkflow(badJoin)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "合流条件")
}

func TestValidateWorkflowInvalidNodeType(t *testing.T) {
	workflow := workflowWith(models.JSONBArray{
		{"id": "s1", "type": "start"},
		{"id": "x1", "type": "teleport"},
		{"id": "e1", "type": "end"},
	}, models.JSONBArray{
		{"id": "c1", "fromNodeId": "s1", "toNodeId": "x1"},
		{"id": "c2", "fromNodeId": "x1", "toNodeId": "e1"},
	})

	result := ValidateWorkflow(workflow)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "类型无效")
}

func TestValidateWorkflowEmpty(t *testing.T) {
	result := ValidateWorkflow(workflowWith(models.JSONBArray{}, nil))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "不包含任何节点")
}
