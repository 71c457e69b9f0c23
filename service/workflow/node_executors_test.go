/*
 * @module service/workflow/node_executors_test
 * @description 内置节点执行器的单元测试：process/condition/api/database/transform/filter
 * @architecture 测试层
 * @documentReference ai_docs/workflow_engine_req.md
 */

package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devmonitor-service/service/models"
	"devmonitor-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunContext(vars map[string]interface{}) *RunContext {
	return NewRunContext(context.Background(), "exec_test", "wf_test", "manual", vars, time.Minute)
}

func TestProcessExecutor(t *testing.T) {
	executor := &processExecutor{}
	rc := newRunContext(map[string]interface{}{"temperature": 95})

	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "process",
		Config: map[string]interface{}{
			"assignments": map[string]interface{}{
				"level":   "high",
				"reading": "${temperature}",
				"missing": "${nonexistent}",
			},
		},
	}

	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, "high", result.Output["level"])
	assert.Equal(t, 95, result.Output["reading"], "模板引用解析为变量值")
	assert.Nil(t, result.Output["missing"])

	node.Config["assignments"] = "not-a-map"
	_, err = executor.Execute(context.Background(), node, rc)
	assert.Error(t, err)
}

func TestConditionExecutor(t *testing.T) {
	executor := &conditionExecutor{}
	rc := newRunContext(map[string]interface{}{"temperature": 95})

	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "condition",
		Config: map[string]interface{}{
			"expression": map[string]interface{}{"field": "temperature", "operator": "gt", "value": 80},
		},
	}

	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, BranchTrue, result.Branch)

	rc.Set("temperature", 20)
	result, err = executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, BranchFalse, result.Branch)
}

func TestEndExecutorOutputKeys(t *testing.T) {
	executor := &endExecutor{}
	rc := newRunContext(map[string]interface{}{"a": 1, "b": 2, "c": 3})

	node := &models.WorkflowNode{
		ID:     "n_end",
		Type:   "end",
		Config: map[string]interface{}{"output_keys": []interface{}{"a", "c", "missing"}},
	}

	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1, "c": 3}, result.Output)
}

func TestDelayExecutor(t *testing.T) {
	executor := &delayExecutor{}
	rc := newRunContext(nil)

	node := &models.WorkflowNode{
		ID:     "n1",
		Type:   "delay",
		Config: map[string]interface{}{"duration_seconds": 0.05},
	}
	started := time.Now()
	_, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)

	node.Config["duration_seconds"] = 0
	_, err = executor.Execute(context.Background(), node, rc)
	assert.Error(t, err)

	// 取消信号立即唤醒
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	node.Config["duration_seconds"] = 30
	_, err = executor.Execute(ctx, node, rc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAPIExecutor(t *testing.T) {
	var receivedPath string
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedBody = make([]byte, r.ContentLength)
		r.Body.Read(receivedBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","value":42}`))
	}))
	defer server.Close()

	executor := &apiExecutor{client: server.Client()}
	rc := newRunContext(map[string]interface{}{"asset_id": "pump-7"})

	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "api",
		Config: map[string]interface{}{
			"url":    server.URL + "/api/notify",
			"method": "post",
			"body":   "${asset_id}",
		},
	}

	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, "/api/notify", receivedPath)
	assert.Equal(t, `"pump-7"`, string(receivedBody))

	response, ok := result.Output["api_response"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, http.StatusOK, result.Output["api_response_status"])

	node.Config = map[string]interface{}{}
	_, err = executor.Execute(context.Background(), node, rc)
	assert.Error(t, err, "缺少url配置")
}

func TestAPIExecutorErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	executor := &apiExecutor{client: server.Client()}
	rc := newRunContext(nil)

	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "api",
		Config: map[string]interface{}{
			"url":                  server.URL,
			"fail_on_error_status": true,
		},
	}
	_, err := executor.Execute(context.Background(), node, rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	// 不配置fail_on_error_status时错误状态照常返回
	node.Config["fail_on_error_status"] = false
	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, result.Output["api_response_status"])
}

func TestDatabaseExecutor(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	factory.CreateDecisionRule()

	executor := &databaseExecutor{db: tdb.DB}
	rc := newRunContext(nil)

	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "database",
		Config: map[string]interface{}{
			"sql":        "SELECT rule_id, name FROM t_sys_decision_rule",
			"output_var": "rules",
		},
	}
	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Output["rules_count"])

	node.Config["sql"] = "DELETE FROM t_sys_decision_rule"
	_, err = executor.Execute(context.Background(), node, rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "只允许SELECT")
}

func TestTransformExecutor(t *testing.T) {
	executor := &transformExecutor{scripts: NewYaegiScriptExecutor()}
	rc := newRunContext(map[string]interface{}{"temperature": 95.0})

	// 返回map时合并入变量表
	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "transform",
		Config: map[string]interface{}{
			"script": `
	temperature := vars["temperature"].(float64)
	return map[string]interface{}{"fahrenheit": temperature*1.8 + 32}, nil`,
		},
	}
	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.InDelta(t, 203.0, result.Output["fahrenheit"], 0.001)

	// 返回标量时写入output_var
	node.Config = map[string]interface{}{
		"script":     `return "normalized", nil`,
		"output_var": "label",
	}
	result, err = executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.Equal(t, "normalized", result.Output["label"])

	node.Config = map[string]interface{}{}
	_, err = executor.Execute(context.Background(), node, rc)
	assert.Error(t, err, "缺少script配置")
}

func TestFilterExecutor(t *testing.T) {
	executor := &filterExecutor{scripts: NewYaegiScriptExecutor()}
	rc := newRunContext(map[string]interface{}{"temperature": 95.0})

	node := &models.WorkflowNode{
		ID:   "n1",
		Type: "filter",
		Config: map[string]interface{}{
			"script": `return vars["temperature"].(float64) > 80, nil`,
		},
	}
	result, err := executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	rc.Set("temperature", 20.0)
	result, err = executor.Execute(context.Background(), node, rc)
	require.NoError(t, err)
	assert.True(t, result.Skipped, "未通过过滤时跳过下游")

	node.Config["script"] = `return "not-a-bool-value", nil`
	_, err = executor.Execute(context.Background(), node, rc)
	assert.Error(t, err)
}

func TestExecutorRegistry(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	registry := NewExecutorRegistry(tdb.DB, NewYaegiScriptExecutor())

	for _, nodeType := range []string{"start", "end", "process", "condition", "parallel", "merge", "loop", "delay", "timer", "api", "database", "transform", "filter"} {
		_, err := registry.Get(nodeType)
		assert.NoError(t, err, "节点类型 %s 应有执行器", nodeType)
	}

	_, err := registry.Get("teleport")
	assert.Error(t, err)
}
