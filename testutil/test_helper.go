/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"devmonitor-service/service/models"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建内存测试数据库并迁移全部模型
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	err = db.AutoMigrate(
		&models.DecisionRule{},
		&models.DecisionAuditLog{},
		&models.Workflow{},
		&models.WorkflowExecution{},
		&models.WorkflowNodeExecution{},
		&models.WorkflowTemplate{},
		&models.WorkflowSchedule{},
		&models.WorkflowVersion{},
		&models.SSEEvent{},
		&models.SSEConnection{},
		&models.SystemConfig{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		models.DecisionRule{}.TableName(),
		models.DecisionAuditLog{}.TableName(),
		models.Workflow{}.TableName(),
		models.WorkflowExecution{}.TableName(),
		models.WorkflowNodeExecution{}.TableName(),
		models.WorkflowTemplate{}.TableName(),
		models.WorkflowSchedule{}.TableName(),
		models.WorkflowVersion{}.TableName(),
		models.SSEEvent{}.TableName(),
		models.SSEConnection{}.TableName(),
		models.SystemConfig{}.TableName(),
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// DecisionRuleOption 决策规则选项函数类型
type DecisionRuleOption func(*models.DecisionRule)

// CreateDecisionRule 创建测试决策规则，默认规则为"predicted_value > 80 则告警"
func (f *TestDataFactory) CreateDecisionRule(opts ...DecisionRuleOption) *models.DecisionRule {
	rule := &models.DecisionRule{
		RuleID:   "rule_" + generateSuffix(),
		Name:     "测试决策规则",
		Priority: 100,
		Enabled:  true,
		Conditions: models.JSONB{
			"type": "AND",
			"rules": []interface{}{
				map[string]interface{}{
					"field":    "predicted_value",
					"operator": "gt",
					"value":    80,
				},
			},
		},
		Actions: models.JSONBArray{
			map[string]interface{}{
				"type":    "alert",
				"level":   "warning",
				"message": "预测值超限",
			},
		},
		CreatedBy: "test",
	}

	for _, opt := range opts {
		opt(rule)
	}

	if err := f.DB.Create(rule).Error; err != nil {
		panic(fmt.Sprintf("failed to create test decision rule: %v", err))
	}

	return rule
}

// WithCooldown 设置规则冷却时间
func WithCooldown(seconds int) DecisionRuleOption {
	return func(r *models.DecisionRule) {
		r.CooldownSeconds = seconds
	}
}

// WithPriority 设置规则优先级
func WithPriority(priority int) DecisionRuleOption {
	return func(r *models.DecisionRule) {
		r.Priority = priority
	}
}

// WorkflowOption 工作流选项函数类型
type WorkflowOption func(*models.Workflow)

// CreateWorkflow 创建测试工作流，默认是 start -> process -> end 的三节点流程
func (f *TestDataFactory) CreateWorkflow(opts ...WorkflowOption) *models.Workflow {
	workflow := &models.Workflow{
		Name:        "测试工作流",
		Code:        "wf_test_" + generateSuffix(),
		Type:        "device_monitor",
		Nodes:       SimpleWorkflowNodes(),
		Connections: SimpleWorkflowConnections(),
		TriggerType: "manual",
		IsActive:    true,
		IsPublished: true,
		Version:     "1.0.0",
		CreatedBy:   "test",
	}

	for _, opt := range opts {
		opt(workflow)
	}

	if err := f.DB.Create(workflow).Error; err != nil {
		panic(fmt.Sprintf("failed to create test workflow: %v", err))
	}

	return workflow
}

// WithNodes 设置工作流节点与连接
func WithNodes(nodes, connections models.JSONBArray) WorkflowOption {
	return func(w *models.Workflow) {
		w.Nodes = nodes
		w.Connections = connections
	}
}

// WithTrigger 设置触发类型与配置
func WithTrigger(triggerType string, config models.JSONB) WorkflowOption {
	return func(w *models.Workflow) {
		w.TriggerType = triggerType
		w.TriggerConfig = config
	}
}

// Unpublished 创建未发布的工作流
func Unpublished() WorkflowOption {
	return func(w *models.Workflow) {
		w.IsPublished = false
	}
}

// SimpleWorkflowNodes 三节点流程的节点定义
func SimpleWorkflowNodes() models.JSONBArray {
	return models.JSONBArray{
		map[string]interface{}{"id": "n_start", "type": "start", "name": "开始"},
		map[string]interface{}{
			"id": "n_process", "type": "process", "name": "处理",
			"config": map[string]interface{}{
				"assignments": map[string]interface{}{"handled": true},
			},
		},
		map[string]interface{}{"id": "n_end", "type": "end", "name": "结束"},
	}
}

// SimpleWorkflowConnections 三节点流程的连接定义
func SimpleWorkflowConnections() models.JSONBArray {
	return models.JSONBArray{
		map[string]interface{}{"id": "c1", "fromNodeId": "n_start", "toNodeId": "n_process"},
		map[string]interface{}{"id": "c2", "fromNodeId": "n_process", "toNodeId": "n_end"},
	}
}

// 辅助函数
func generateSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%100000000)
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// AssertJSONResponse 断言JSON响应
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedBody interface{}) {
	assert.Equal(t, expectedStatus, w.Code)

	if expectedBody != nil {
		var actualBody interface{}
		err := json.Unmarshal(w.Body.Bytes(), &actualBody)
		assert.NoError(t, err)

		expectedJSON, _ := json.Marshal(expectedBody)
		actualJSON, _ := json.Marshal(actualBody)

		assert.JSONEq(t, string(expectedJSON), string(actualJSON))
	}
}
