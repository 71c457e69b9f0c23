/*
 * @module service/workflow/engine
 * @description 工作流执行引擎，负责单次执行的状态机：图行走、节点重试、超时、取消、并行汇聚
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow pending -> running -> succeeded/failed/cancelled；节点逐个行走，
 *            parallel节点分叉goroutine，merge节点按all/any合流，loop节点受max_iterations约束
 * @rules 每次节点尝试写一条t_sys_workflow_node_execution记录；取消只在节点边界生效；
 *        执行结束后回写工作流的执行计数
 * @dependencies github.com/google/uuid, github.com/spf13/cast, gorm.io/gorm, service/meta, service/metrics
 * @refs service/workflow/node_executors.go, service/workflow/service.go
 */

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/metrics"
	"devmonitor-service/service/models"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// loop节点出边的固定label
const (
	BranchLoopBody = "body"
	BranchLoopExit = "exit"
)

// Engine 工作流执行引擎
type Engine struct {
	db        *gorm.DB
	executors *ExecutorRegistry

	mu      sync.Mutex
	running map[string]*runState // executionID -> 运行中的执行
}

// runState 一次运行中执行的内存状态
type runState struct {
	rc         *RunContext
	nodeStates map[string]string // nodeID -> 节点状态
	statesMu   sync.Mutex
	mergeState map[string]*mergeArrival // mergeNodeID -> 合流进度
	mergeMu    sync.Mutex
	cancelled  bool
}

type mergeArrival struct {
	arrived int
	done    bool
}

// NewEngine 创建执行引擎
func NewEngine(db *gorm.DB, executors *ExecutorRegistry) *Engine {
	return &Engine{
		db:        db,
		executors: executors,
		running:   make(map[string]*runState),
	}
}

// Execute 发起一次异步执行：落库pending记录后在后台goroutine中行走
func (e *Engine) Execute(workflow *models.Workflow, triggerType string, triggerData map[string]interface{}) (*models.WorkflowExecution, error) {
	if !workflow.CanExecute() {
		return nil, fmt.Errorf("工作流未激活或未发布，不能执行")
	}
	graph, err := BuildGraph(workflow)
	if err != nil {
		return nil, fmt.Errorf("工作流定义无效: %w", err)
	}
	if graph.StartNodeID == "" {
		return nil, fmt.Errorf("工作流缺少start节点")
	}

	execution := &models.WorkflowExecution{
		ExecutionID: "exec_" + uuid.New().String(),
		WorkflowID:  workflow.ID,
		Status:      meta.ExecutionStatusPending,
		TriggerType: triggerType,
		TriggerData: models.JSONB(triggerData),
	}
	if err := e.db.Create(execution).Error; err != nil {
		return nil, fmt.Errorf("创建执行记录失败: %w", err)
	}

	go e.run(workflow, graph, execution, triggerData)
	return execution, nil
}

// ExecuteSync 同步执行，调用方阻塞到执行结束（定时触发与测试路径使用）
func (e *Engine) ExecuteSync(workflow *models.Workflow, triggerType string, triggerData map[string]interface{}) (*models.WorkflowExecution, error) {
	execution, err := e.Execute(workflow, triggerType, triggerData)
	if err != nil {
		return nil, err
	}
	// 轮询到终态
	for {
		time.Sleep(50 * time.Millisecond)
		var current models.WorkflowExecution
		if err := e.db.Where("execution_id = ?", execution.ExecutionID).First(&current).Error; err != nil {
			return nil, err
		}
		if current.IsTerminal() {
			return &current, nil
		}
	}
}

// CancelExecution 取消运行中的执行，取消在当前节点完成后生效
func (e *Engine) CancelExecution(executionID string) error {
	e.mu.Lock()
	state, ok := e.running[executionID]
	if ok {
		state.cancelled = true
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("执行不在运行中: %s", executionID)
	}
	state.rc.Cancel()
	log.Printf("工作流执行已请求取消: %s", executionID)
	return nil
}

// IsRunning 判断执行是否仍在本实例内存中运行
func (e *Engine) IsRunning(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[executionID]
	return ok
}

// run 执行主循环，负责状态落库与收尾
func (e *Engine) run(workflow *models.Workflow, graph *Graph, execution *models.WorkflowExecution, triggerData map[string]interface{}) {
	executionConfig, err := models.ParseExecutionConfig(workflow.ExecutionConfig)
	if err != nil {
		e.finish(workflow, execution, nil, meta.ExecutionStatusFailed, fmt.Sprintf("执行配置无效: %v", err))
		return
	}

	rc := NewRunContext(context.Background(), execution.ExecutionID, workflow.ID, execution.TriggerType, triggerData, executionConfig.Timeout())
	defer rc.Cancel()

	state := &runState{
		rc:         rc,
		nodeStates: make(map[string]string, len(graph.Nodes)),
		mergeState: make(map[string]*mergeArrival),
	}
	e.mu.Lock()
	e.running[execution.ExecutionID] = state
	e.mu.Unlock()
	metrics.RunningWorkflows.Inc()
	defer func() {
		e.mu.Lock()
		delete(e.running, execution.ExecutionID)
		e.mu.Unlock()
		metrics.RunningWorkflows.Dec()
	}()

	now := time.Now()
	e.db.Model(&models.WorkflowExecution{}).
		Where("execution_id = ?", execution.ExecutionID).
		Updates(map[string]interface{}{"status": meta.ExecutionStatusRunning, "started_at": now})

	defer func() {
		if r := recover(); r != nil {
			log.Printf("工作流执行panic [%s]: %v\n%s", execution.ExecutionID, r, debug.Stack())
			e.finish(workflow, execution, state, meta.ExecutionStatusFailed, fmt.Sprintf("执行panic: %v", r))
		}
	}()

	walkErr := e.walk(workflow, graph, execution, state, executionConfig, graph.StartNodeID, nil)

	switch {
	case walkErr == nil:
		e.finish(workflow, execution, state, meta.ExecutionStatusSucceeded, "")
	case state.cancelled || errors.Is(walkErr, context.Canceled):
		e.finish(workflow, execution, state, meta.ExecutionStatusCancelled, "执行已被取消")
	case errors.Is(walkErr, context.DeadlineExceeded):
		e.finish(workflow, execution, state, meta.ExecutionStatusFailed, "执行超时")
	default:
		e.finish(workflow, execution, state, meta.ExecutionStatusFailed, walkErr.Error())
	}
}

// walk 从nodeID开始沿出边行走，stopAt中的节点作为当前段的终点（loop回边）
func (e *Engine) walk(workflow *models.Workflow, graph *Graph, execution *models.WorkflowExecution, state *runState, executionConfig *models.ExecutionConfig, nodeID string, stopAt map[string]bool) error {
	for nodeID != "" {
		if stopAt != nil && stopAt[nodeID] {
			return nil
		}
		if err := state.rc.Context().Err(); err != nil {
			return err
		}

		node := graph.Nodes[nodeID]
		if node == nil {
			return fmt.Errorf("节点不存在: %s", nodeID)
		}

		switch node.Type {
		case meta.NodeTypeLoop:
			if err := e.walkLoop(workflow, graph, execution, state, executionConfig, node, stopAt); err != nil {
				return err
			}
			nodeID = e.loopExitTarget(graph, node)
			continue
		case meta.NodeTypeParallel:
			return e.walkParallel(workflow, graph, execution, state, executionConfig, node, stopAt)
		case meta.NodeTypeMerge:
			if !arriveAtMerge(graph, state, node) {
				return nil
			}
		}

		result, err := e.executeNodeWithRetry(execution, state, executionConfig, node)
		if err != nil {
			return fmt.Errorf("节点 %s 执行失败: %w", node.ID, err)
		}
		state.rc.SetAll(result.Output)

		if node.Type == meta.NodeTypeEnd {
			return nil
		}
		if result.Skipped {
			e.markDownstreamSkipped(graph, state, node.ID)
			return nil
		}

		nodeID, err = e.nextNode(graph, node, result)
		if err != nil {
			return err
		}
	}
	return nil
}

// nextNode 选择下一个节点：条件节点按分支label，其余取唯一出边
func (e *Engine) nextNode(graph *Graph, node *models.WorkflowNode, result *NodeResult) (string, error) {
	outgoing := graph.Outgoing[node.ID]
	if node.Type == meta.NodeTypeCondition {
		for _, connection := range outgoing {
			if connection.Label == result.Branch {
				return connection.ToNodeID, nil
			}
		}
		return "", fmt.Errorf("条件节点 %s 没有label为%q的出边", node.ID, result.Branch)
	}
	if len(outgoing) == 0 {
		return "", nil
	}
	return outgoing[0].ToNodeID, nil
}

// walkLoop 循环节点：受max_iterations约束，可选while条件树控制提前退出
func (e *Engine) walkLoop(workflow *models.Workflow, graph *Graph, execution *models.WorkflowExecution, state *runState, executionConfig *models.ExecutionConfig, node *models.WorkflowNode, stopAt map[string]bool) error {
	maxIterations := cast.ToInt(node.Config["max_iterations"])
	bodyTarget := ""
	for _, connection := range graph.Outgoing[node.ID] {
		if connection.Label == BranchLoopBody {
			bodyTarget = connection.ToNodeID
		}
	}
	if bodyTarget == "" {
		return fmt.Errorf("循环节点 %s 缺少label为body的出边", node.ID)
	}

	var whileExpression map[string]interface{}
	if raw, ok := node.Config["while"]; ok {
		parsed, err := cast.ToStringMapE(raw)
		if err != nil {
			return fmt.Errorf("循环节点 %s 的while必须是条件树对象: %w", node.ID, err)
		}
		whileExpression = parsed
	}

	// 回到循环节点的边终止本段行走
	bodyStop := map[string]bool{node.ID: true}
	for key := range stopAt {
		bodyStop[key] = true
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := state.rc.Context().Err(); err != nil {
			return err
		}
		if whileExpression != nil {
			branch, err := evaluateBranchExpression(whileExpression, state.rc.Snapshot())
			if err != nil {
				return fmt.Errorf("循环节点 %s 条件求值失败: %w", node.ID, err)
			}
			if branch != BranchTrue {
				break
			}
		}
		state.rc.Set("loop_index", iteration)
		if _, err := e.executeNodeWithRetry(execution, state, executionConfig, node); err != nil {
			return fmt.Errorf("节点 %s 执行失败: %w", node.ID, err)
		}
		if err := e.walk(workflow, graph, execution, state, executionConfig, bodyTarget, bodyStop); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loopExitTarget(graph *Graph, node *models.WorkflowNode) string {
	for _, connection := range graph.Outgoing[node.ID] {
		if connection.Label == BranchLoopExit {
			return connection.ToNodeID
		}
	}
	return ""
}

// walkParallel 并行节点：每条出边一个goroutine，任何分支失败取消其余分支
func (e *Engine) walkParallel(workflow *models.Workflow, graph *Graph, execution *models.WorkflowExecution, state *runState, executionConfig *models.ExecutionConfig, node *models.WorkflowNode, stopAt map[string]bool) error {
	if _, err := e.executeNodeWithRetry(execution, state, executionConfig, node); err != nil {
		return fmt.Errorf("节点 %s 执行失败: %w", node.ID, err)
	}

	outgoing := graph.Outgoing[node.ID]
	if len(outgoing) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(outgoing))
	for _, connection := range outgoing {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("并行分支panic: %v", r)
				}
			}()
			if err := e.walk(workflow, graph, execution, state, executionConfig, target, stopAt); err != nil {
				errCh <- err
			}
		}(connection.ToNodeID)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// arriveAtMerge 合流节点到达记账：all等齐全部入边，any首个到达者通过
func arriveAtMerge(graph *Graph, state *runState, node *models.WorkflowNode) bool {
	join := cast.ToString(node.Config["join"])
	if join == "" {
		join = meta.MergeJoinAll
	}
	expected := len(graph.Incoming[node.ID])

	state.mergeMu.Lock()
	defer state.mergeMu.Unlock()

	arrivals, ok := state.mergeState[node.ID]
	if !ok {
		arrivals = &mergeArrival{}
		state.mergeState[node.ID] = arrivals
	}
	arrivals.arrived++
	if arrivals.done {
		return false
	}
	switch join {
	case meta.MergeJoinAny:
		arrivals.done = true
		return true
	default:
		if arrivals.arrived >= expected {
			arrivals.done = true
			return true
		}
		return false
	}
}

// executeNodeWithRetry 带重试的单节点执行，每次尝试落一条节点执行记录
func (e *Engine) executeNodeWithRetry(execution *models.WorkflowExecution, state *runState, executionConfig *models.ExecutionConfig, node *models.WorkflowNode) (*NodeResult, error) {
	if _, err := e.executors.Get(node.Type); err != nil {
		return nil, err
	}

	retryCount := executionConfig.RetryCount
	if override, ok := node.Config["retry_count"]; ok {
		retryCount = cast.ToInt(override)
	}
	maxAttempts := retryCount + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := state.rc.Context().Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			backoff := executionConfig.RetryBackoff()
			select {
			case <-state.rc.Context().Done():
				return nil, state.rc.Context().Err()
			case <-time.After(backoff):
			}
		}

		result, err := e.executeNodeOnce(execution, state, node, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		// 取消/整体超时不重试
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) && state.rc.Context().Err() != nil {
			return nil, err
		}
		log.Printf("节点执行失败，准备重试 [%s/%s] 第%d次: %v", execution.ExecutionID, node.ID, attempt+1, err)
	}
	return nil, lastErr
}

// executeNodeOnce 单次节点尝试：落记录、带节点级超时执行、回写结果
func (e *Engine) executeNodeOnce(execution *models.WorkflowExecution, state *runState, node *models.WorkflowNode, attempt int) (result *NodeResult, err error) {
	started := time.Now()
	e.setNodeState(state, node.ID, meta.NodeStatusRunning)

	nodeExecution := &models.WorkflowNodeExecution{
		ExecutionID: execution.ExecutionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      meta.NodeStatusRunning,
		InputData:   models.JSONB(state.rc.Snapshot()),
		StartedAt:   &started,
		RetryCount:  attempt,
	}
	if dbErr := e.db.Create(nodeExecution).Error; dbErr != nil {
		log.Printf("节点执行记录创建失败 [%s/%s]: %v", execution.ExecutionID, node.ID, dbErr)
	}
	// 执行列表/详情与取消都以current_node_id定位执行进度
	if dbErr := e.db.Model(&models.WorkflowExecution{}).
		Where("execution_id = ?", execution.ExecutionID).
		Update("current_node_id", node.ID).Error; dbErr != nil {
		log.Printf("执行进度回写失败 [%s/%s]: %v", execution.ExecutionID, node.ID, dbErr)
	}

	nodeCtx := state.rc.Context()
	var cancel context.CancelFunc
	if timeoutSeconds := cast.ToInt(node.Config["timeout_seconds"]); timeoutSeconds > 0 {
		nodeCtx, cancel = context.WithTimeout(nodeCtx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("节点panic: %v", r)
		}
		completed := time.Now()
		updates := map[string]interface{}{
			"completed_at": completed,
		}
		status := meta.NodeStatusSucceeded
		if err != nil {
			status = meta.NodeStatusFailed
			message := err.Error()
			updates["error_message"] = message
		} else if result != nil && result.Skipped {
			status = meta.NodeStatusSkipped
		} else if result != nil && len(result.Output) > 0 {
			updates["output_data"] = models.JSONB(result.Output)
		}
		updates["status"] = status
		e.setNodeState(state, node.ID, status)
		e.db.Model(&models.WorkflowNodeExecution{}).Where("id = ?", nodeExecution.ID).Updates(updates)
		metrics.WorkflowNodeExecutions.WithLabelValues(node.Type, status).Inc()
	}()

	result, err = executorResult(e.executors, nodeCtx, node, state.rc)
	return result, err
}

func executorResult(registry *ExecutorRegistry, ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	executor, err := registry.Get(node.Type)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, node, rc)
}

func (e *Engine) setNodeState(state *runState, nodeID, status string) {
	state.statesMu.Lock()
	state.nodeStates[nodeID] = status
	state.statesMu.Unlock()
}

// markDownstreamSkipped filter未通过时，把可达的下游节点全部标记为skipped
func (e *Engine) markDownstreamSkipped(graph *Graph, state *runState, fromNodeID string) {
	visited := map[string]bool{fromNodeID: true}
	queue := []string{fromNodeID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, connection := range graph.Outgoing[current] {
			if visited[connection.ToNodeID] {
				continue
			}
			visited[connection.ToNodeID] = true
			e.setNodeState(state, connection.ToNodeID, meta.NodeStatusSkipped)
			queue = append(queue, connection.ToNodeID)
		}
	}
}

// finish 收尾：回写执行记录与工作流计数，上报指标
func (e *Engine) finish(workflow *models.Workflow, execution *models.WorkflowExecution, state *runState, status, errorMessage string) {
	completed := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": completed,
	}
	if state != nil {
		updates["duration_ms"] = completed.Sub(state.rc.StartedAt()).Milliseconds()
		updates["result"] = models.JSONB(state.rc.Snapshot())
		state.statesMu.Lock()
		nodeStates := make(map[string]interface{}, len(state.nodeStates))
		for nodeID, nodeStatus := range state.nodeStates {
			nodeStates[nodeID] = nodeStatus
		}
		state.statesMu.Unlock()
		updates["node_states"] = models.JSONB(nodeStates)
		metrics.WorkflowDuration.Observe(float64(completed.Sub(state.rc.StartedAt()).Milliseconds()))
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	if err := e.db.Model(&models.WorkflowExecution{}).Where("execution_id = ?", execution.ExecutionID).Updates(updates).Error; err != nil {
		log.Printf("执行记录收尾失败 [%s]: %v", execution.ExecutionID, err)
	}

	counterColumn := "failure_count"
	if status == meta.ExecutionStatusSucceeded {
		counterColumn = "success_count"
	}
	e.db.Model(&models.Workflow{}).Where("id = ?", workflow.ID).Updates(map[string]interface{}{
		"execution_count":  gorm.Expr("execution_count + 1"),
		counterColumn:      gorm.Expr(counterColumn + " + 1"),
		"last_executed_at": completed,
	})

	metrics.WorkflowExecutions.WithLabelValues(status).Inc()
	log.Printf("工作流执行结束 [%s]: status=%s", execution.ExecutionID, status)
}
