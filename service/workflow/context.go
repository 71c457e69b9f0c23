/*
 * @module service/workflow/context
 * @description 工作流运行上下文，节点间共享的变量表与取消信号
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 启动时装入触发数据 -> 节点读写变量 -> 结束时快照入库
 * @rules 变量表的并发读写由互斥锁保护（并行分支会同时写入）
 * @dependencies sync
 * @refs service/workflow/engine.go
 */

package workflow

import (
	"context"
	"sync"
	"time"
)

// RunContext 单次工作流执行的运行时状态
type RunContext struct {
	ExecutionID string
	WorkflowID  string
	TriggerType string

	mu        sync.RWMutex
	variables map[string]interface{}

	ctx    context.Context
	cancel context.CancelFunc

	startedAt time.Time
}

// NewRunContext 创建运行上下文，triggerData会作为初始变量装入
func NewRunContext(parent context.Context, executionID, workflowID, triggerType string, triggerData map[string]interface{}, timeout time.Duration) *RunContext {
	ctx, cancel := context.WithTimeout(parent, timeout)
	variables := make(map[string]interface{}, len(triggerData)+4)
	for key, value := range triggerData {
		variables[key] = value
	}
	return &RunContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		TriggerType: triggerType,
		variables:   variables,
		ctx:         ctx,
		cancel:      cancel,
		startedAt:   time.Now(),
	}
}

// Context 取消/超时信号
func (rc *RunContext) Context() context.Context {
	return rc.ctx
}

// Cancel 主动终止执行
func (rc *RunContext) Cancel() {
	rc.cancel()
}

// StartedAt 执行开始时间
func (rc *RunContext) StartedAt() time.Time {
	return rc.startedAt
}

// Get 读取变量，不存在时返回false
func (rc *RunContext) Get(key string) (interface{}, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	value, ok := rc.variables[key]
	return value, ok
}

// Set 写入变量
func (rc *RunContext) Set(key string, value interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.variables[key] = value
}

// SetAll 批量写入变量（节点输出合并入上下文）
func (rc *RunContext) SetAll(values map[string]interface{}) {
	if len(values) == 0 {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for key, value := range values {
		rc.variables[key] = value
	}
}

// Snapshot 变量表的只读拷贝，用于节点输入记录与执行结果快照
func (rc *RunContext) Snapshot() map[string]interface{} {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(rc.variables))
	for key, value := range rc.variables {
		snapshot[key] = value
	}
	return snapshot
}
