/*
 * @module service/workflow/engine_test
 * @description 工作流执行引擎的集成测试：顺序/分支/循环/并行行走与取消、重试、超时
 * @architecture 测试层
 * @documentReference ai_docs/workflow_engine_req.md
 */

package workflow

import (
	"testing"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"
	"devmonitor-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *testutil.TestDB, *testutil.TestDataFactory) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	engine := NewEngine(tdb.DB, NewExecutorRegistry(tdb.DB, NewYaegiScriptExecutor()))
	return engine, tdb, testutil.NewTestDataFactory(tdb.DB)
}

func nodeExecutions(t *testing.T, tdb *testutil.TestDB, executionID, nodeID string) []models.WorkflowNodeExecution {
	t.Helper()
	var rows []models.WorkflowNodeExecution
	query := tdb.DB.Where("execution_id = ?", executionID)
	if nodeID != "" {
		query = query.Where("node_id = ?", nodeID)
	}
	require.NoError(t, query.Order("started_at ASC").Find(&rows).Error)
	return rows
}

func TestExecuteSimpleWorkflow(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)
	workflow := factory.CreateWorkflow()

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, map[string]interface{}{"temperature": 90})
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusSucceeded, execution.Status)
	assert.NotNil(t, execution.StartedAt)
	assert.NotNil(t, execution.CompletedAt)

	// 触发数据与process节点的赋值都进入执行结果快照
	assert.Equal(t, float64(90), execution.Result["temperature"])
	assert.Equal(t, true, execution.Result["handled"])

	rows := nodeExecutions(t, tdb, execution.ExecutionID, "")
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, meta.NodeStatusSucceeded, row.Status)
	}

	// 执行进度随节点推进回写，跑完后停在终止节点
	var storedExecution models.WorkflowExecution
	require.NoError(t, tdb.DB.First(&storedExecution, "execution_id = ?", execution.ExecutionID).Error)
	assert.Equal(t, "n_end", storedExecution.CurrentNodeID)

	require.Eventually(t, func() bool {
		var stored models.Workflow
		if err := tdb.DB.First(&stored, "id = ?", workflow.ID).Error; err != nil {
			return false
		}
		return stored.ExecutionCount == 1 && stored.SuccessCount == 1 && stored.LastExecutedAt != nil
	}, 2*time.Second, 20*time.Millisecond, "执行计数回写")
}

func TestExecuteRequiresPublishedActive(t *testing.T) {
	engine, _, factory := newTestEngine(t)

	unpublished := factory.CreateWorkflow(testutil.Unpublished())
	_, err := engine.Execute(unpublished, meta.TriggerTypeManual, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未激活或未发布")

	inactive := factory.CreateWorkflow()
	inactive.IsActive = false
	_, err = engine.Execute(inactive, meta.TriggerTypeManual, nil)
	assert.Error(t, err)
}

func TestExecuteConditionBranch(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_cond", "type": "condition", "config": map[string]interface{}{
			"expression": map[string]interface{}{"field": "temperature", "operator": "gt", "value": 80},
		}},
		{"id": "n_high", "type": "process", "config": map[string]interface{}{
			"assignments": map[string]interface{}{"route": "high"},
		}},
		{"id": "n_low", "type": "process", "config": map[string]interface{}{
			"assignments": map[string]interface{}{"route": "low"},
		}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_cond"},
		{"id": "c2", "fromNodeId": "n_cond", "toNodeId": "n_high", "label": "true"},
		{"id": "c3", "fromNodeId": "n_cond", "toNodeId": "n_low", "label": "false"},
		{"id": "c4", "fromNodeId": "n_high", "toNodeId": "n_end"},
		{"id": "c5", "fromNodeId": "n_low", "toNodeId": "n_end"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))

	hot, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, map[string]interface{}{"temperature": 95})
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusSucceeded, hot.Status)
	assert.Equal(t, "high", hot.Result["route"])
	assert.Empty(t, nodeExecutions(t, tdb, hot.ExecutionID, "n_low"), "未命中分支不执行")

	cold, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, map[string]interface{}{"temperature": 20})
	require.NoError(t, err)
	assert.Equal(t, "low", cold.Result["route"])
}

func TestExecuteConditionMissingBranchEdge(t *testing.T) {
	engine, _, factory := newTestEngine(t)

	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_cond", "type": "condition", "config": map[string]interface{}{
			"expression": map[string]interface{}{"field": "temperature", "operator": "gt", "value": 80},
		}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_cond"},
		{"id": "c2", "fromNodeId": "n_cond", "toNodeId": "n_end", "label": "true"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, map[string]interface{}{"temperature": 20})
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, `没有label为"false"的出边`)
}

func TestExecuteLoop(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_loop", "type": "loop", "config": map[string]interface{}{"max_iterations": 3}},
		{"id": "n_body", "type": "process", "config": map[string]interface{}{
			"assignments": map[string]interface{}{"touched": true},
		}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_loop"},
		{"id": "c2", "fromNodeId": "n_loop", "toNodeId": "n_body", "label": "body"},
		{"id": "c3", "fromNodeId": "n_body", "toNodeId": "n_loop"},
		{"id": "c4", "fromNodeId": "n_loop", "toNodeId": "n_end", "label": "exit"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, nil)
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusSucceeded, execution.Status)

	// 循环体受max_iterations约束，执行恰好3次
	assert.Len(t, nodeExecutions(t, tdb, execution.ExecutionID, "n_body"), 3)
	assert.Len(t, nodeExecutions(t, tdb, execution.ExecutionID, "n_end"), 1)
	assert.Equal(t, float64(2), execution.Result["loop_index"], "最后一轮的loop_index")
}

func TestExecuteLoopWhileCondition(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	// while条件首轮即不成立，循环体一次都不执行
	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_loop", "type": "loop", "config": map[string]interface{}{
			"max_iterations": 10,
			"while":          map[string]interface{}{"field": "pending", "operator": "eq", "value": true},
		}},
		{"id": "n_body", "type": "process"},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_loop"},
		{"id": "c2", "fromNodeId": "n_loop", "toNodeId": "n_body", "label": "body"},
		{"id": "c3", "fromNodeId": "n_body", "toNodeId": "n_loop"},
		{"id": "c4", "fromNodeId": "n_loop", "toNodeId": "n_end", "label": "exit"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, map[string]interface{}{"pending": false})
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusSucceeded, execution.Status)
	assert.Empty(t, nodeExecutions(t, tdb, execution.ExecutionID, "n_body"))
}

func TestExecuteParallelMerge(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_par", "type": "parallel"},
		{"id": "n_a", "type": "process", "config": map[string]interface{}{
			"assignments": map[string]interface{}{"branch_a": 1},
		}},
		{"id": "n_b", "type": "process", "config": map[string]interface{}{
			"assignments": map[string]interface{}{"branch_b": 2},
		}},
		{"id": "n_merge", "type": "merge", "config": map[string]interface{}{"join": "all"}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_par"},
		{"id": "c2", "fromNodeId": "n_par", "toNodeId": "n_a"},
		{"id": "c3", "fromNodeId": "n_par", "toNodeId": "n_b"},
		{"id": "c4", "fromNodeId": "n_a", "toNodeId": "n_merge"},
		{"id": "c5", "fromNodeId": "n_b", "toNodeId": "n_merge"},
		{"id": "c6", "fromNodeId": "n_merge", "toNodeId": "n_end"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, nil)
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusSucceeded, execution.Status)

	// 两条分支的输出都汇入结果；merge等齐全部入边后只放行一次
	assert.Equal(t, float64(1), execution.Result["branch_a"])
	assert.Equal(t, float64(2), execution.Result["branch_b"])
	assert.Len(t, nodeExecutions(t, tdb, execution.ExecutionID, "n_merge"), 1)
	assert.Len(t, nodeExecutions(t, tdb, execution.ExecutionID, "n_end"), 1)
}

func TestExecuteNodeRetry(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	// assignments不是对象，每次尝试都失败
	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_bad", "type": "process", "config": map[string]interface{}{
			"assignments": "not-a-map",
			"retry_count": 2,
		}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_bad"},
		{"id": "c2", "fromNodeId": "n_bad", "toNodeId": "n_end"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))
	workflow.ExecutionConfig = models.JSONB{"retry_interval": 0}
	require.NoError(t, tdb.DB.Save(workflow).Error)

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, nil)
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "n_bad 执行失败")

	rows := nodeExecutions(t, tdb, execution.ExecutionID, "n_bad")
	require.Len(t, rows, 3, "初始尝试加2次重试")
	for i, row := range rows {
		assert.Equal(t, meta.NodeStatusFailed, row.Status)
		assert.Equal(t, i, row.RetryCount)
	}

	require.Eventually(t, func() bool {
		var stored models.Workflow
		if err := tdb.DB.First(&stored, "id = ?", workflow.ID).Error; err != nil {
			return false
		}
		return stored.FailureCount == 1
	}, 2*time.Second, 20*time.Millisecond, "失败计数回写")
}

func TestExecuteTimeout(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_delay", "type": "delay", "config": map[string]interface{}{"duration_seconds": 30}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_delay"},
		{"id": "c2", "fromNodeId": "n_delay", "toNodeId": "n_end"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))
	workflow.ExecutionConfig = models.JSONB{"timeout_seconds": 1}
	require.NoError(t, tdb.DB.Save(workflow).Error)

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, nil)
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "执行超时", execution.ErrorMessage)
}

func TestCancelExecution(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	nodes := models.JSONBArray{
		{"id": "n_start", "type": "start"},
		{"id": "n_delay", "type": "delay", "config": map[string]interface{}{"duration_seconds": 30}},
		{"id": "n_end", "type": "end"},
	}
	connections := models.JSONBArray{
		{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_delay"},
		{"id": "c2", "fromNodeId": "n_delay", "toNodeId": "n_end"},
	}
	workflow := factory.CreateWorkflow(testutil.WithNodes(nodes, connections))

	execution, err := engine.Execute(workflow, meta.TriggerTypeManual, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return engine.IsRunning(execution.ExecutionID)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.CancelExecution(execution.ExecutionID))

	require.Eventually(t, func() bool {
		var current models.WorkflowExecution
		if err := tdb.DB.Where("execution_id = ?", execution.ExecutionID).First(&current).Error; err != nil {
			return false
		}
		return current.IsTerminal()
	}, 3*time.Second, 20*time.Millisecond)

	var final models.WorkflowExecution
	require.NoError(t, tdb.DB.Where("execution_id = ?", execution.ExecutionID).First(&final).Error)
	assert.Equal(t, meta.ExecutionStatusCancelled, final.Status)
	assert.False(t, engine.IsRunning(execution.ExecutionID))

	assert.Error(t, engine.CancelExecution("exec_missing"))
}

func TestExecuteInvalidExecutionConfig(t *testing.T) {
	engine, tdb, factory := newTestEngine(t)

	workflow := factory.CreateWorkflow()
	workflow.ExecutionConfig = models.JSONB{"deadline": 5}
	require.NoError(t, tdb.DB.Save(workflow).Error)

	execution, err := engine.ExecuteSync(workflow, meta.TriggerTypeManual, nil)
	require.NoError(t, err)
	assert.Equal(t, meta.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "执行配置无效")
}
