/*
 * @module service/models/workflow_test
 * @description 工作流模型单元测试，覆盖触发/执行配置解析与节点连接解码
 * @architecture 测试层
 * @documentReference ai_docs/workflow_engine_req.md
 */

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTriggerConfig(t *testing.T) {
	config, err := ParseTriggerConfig(JSONB{
		"cron_expression": "0 */5 * * * *",
		"event_type":      "prediction_completed",
		"event_filter":    map[string]interface{}{"asset_id": "pump-7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0 */5 * * * *", config.CronExpression)
	assert.Equal(t, "prediction_completed", config.EventType)
	assert.Equal(t, "pump-7", config.EventFilter["asset_id"])
	assert.Empty(t, config.WebhookSecret)
}

func TestParseTriggerConfigUnknownKey(t *testing.T) {
	_, err := ParseTriggerConfig(JSONB{"cron": "0 * * * * *"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未识别的键")
}

func TestParseTriggerConfigInvalidFilter(t *testing.T) {
	_, err := ParseTriggerConfig(JSONB{"event_filter": "not-a-map"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "事件过滤条件格式无效")
}

func TestParseExecutionConfigDefaults(t *testing.T) {
	config, err := ParseExecutionConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 60, config.TimeoutSeconds)
	assert.Equal(t, 0, config.RetryCount)
	assert.Equal(t, 10, config.RetryInterval)
	assert.Equal(t, time.Minute, config.Timeout())
	assert.Equal(t, 10*time.Second, config.RetryBackoff())
}

func TestParseExecutionConfigOverrides(t *testing.T) {
	config, err := ParseExecutionConfig(JSONB{
		"timeout_seconds": float64(120),
		"retry_count":     float64(3),
		"retry_interval":  float64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 120, config.TimeoutSeconds)
	assert.Equal(t, 3, config.RetryCount)
	assert.Equal(t, 5, config.RetryInterval)
}

func TestParseExecutionConfigInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  JSONB
	}{
		{"未识别的键", JSONB{"deadline": 30}},
		{"超时为零", JSONB{"timeout_seconds": 0}},
		{"重试次数为负", JSONB{"retry_count": -1}},
		{"重试间隔为负", JSONB{"retry_interval": -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseExecutionConfig(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestWorkflowValidate(t *testing.T) {
	workflow := &Workflow{
		Name:        "温度监控",
		Code:        "wf_temp",
		Type:        "device_monitor",
		TriggerType: "manual",
	}
	assert.NoError(t, workflow.Validate())

	cases := []struct {
		name   string
		mutate func(w *Workflow)
	}{
		{"名称为空", func(w *Workflow) { w.Name = "" }},
		{"编码为空", func(w *Workflow) { w.Code = "" }},
		{"类型无效", func(w *Workflow) { w.Type = "space_elevator" }},
		{"触发类型无效", func(w *Workflow) { w.TriggerType = "telepathy" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := *workflow
			tc.mutate(&w)
			assert.Error(t, w.Validate())
		})
	}
}

func TestWorkflowCanExecute(t *testing.T) {
	assert.True(t, (&Workflow{IsActive: true, IsPublished: true}).CanExecute())
	assert.False(t, (&Workflow{IsActive: true, IsPublished: false}).CanExecute())
	assert.False(t, (&Workflow{IsActive: false, IsPublished: true}).CanExecute())
}

func TestDecodeNodesAndConnections(t *testing.T) {
	workflow := &Workflow{
		Nodes: JSONBArray{
			{"id": "n_start", "type": "start", "name": "开始", "x": float64(100), "y": float64(200)},
			{"id": "n_end", "type": "end", "name": "结束", "config": map[string]interface{}{"output_keys": []interface{}{"result"}}},
		},
		Connections: JSONBArray{
			{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_end", "label": "true"},
		},
	}

	nodes, err := workflow.DecodeNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n_start", nodes[0].ID)
	assert.Equal(t, float64(100), nodes[0].X)
	assert.Equal(t, "end", nodes[1].Type)
	assert.NotNil(t, nodes[1].Config["output_keys"])

	connections, err := workflow.DecodeConnections()
	require.NoError(t, err)
	require.Len(t, connections, 1)
	assert.Equal(t, "n_start", connections[0].FromNodeID)
	assert.Equal(t, "n_end", connections[0].ToNodeID)
	assert.Equal(t, "true", connections[0].Label)
}

func TestDecodeNodesInvalid(t *testing.T) {
	workflow := &Workflow{
		Nodes: JSONBArray{
			{"id": "n_start", "type": "start", "x": "left"},
		},
	}
	_, err := workflow.DecodeNodes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "节点解析失败")
}
