/*
 * @module service/workflow/node_executors
 * @description 工作流节点执行器，按节点类型封闭分发（api/database/transform/filter/delay/timer等）
 * @architecture 策略模式 - 每种节点类型一个执行器，引擎按类型查表分发
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 引擎取节点 -> 查执行器 -> 执行并产出输出/分支/跳过标记 -> 引擎合并回上下文
 * @rules 未注册的节点类型在校验阶段已被拒绝，运行期遇到视为内部错误；
 *        filter节点返回false只跳过下游，不算失败
 * @dependencies github.com/spf13/cast, gorm.io/gorm, service/meta
 * @refs service/workflow/engine.go, service/workflow/script.go
 */

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// NodeResult 单个节点的执行产出
type NodeResult struct {
	Output  map[string]interface{} // 合并回运行上下文的变量
	Branch  string                 // 条件节点命中的分支label
	Skipped bool                   // filter未通过时为true，下游不再执行
}

// NodeExecutor 节点执行器接口
type NodeExecutor interface {
	Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error)
}

// ExecutorRegistry 节点类型到执行器的封闭映射
type ExecutorRegistry struct {
	executors map[string]NodeExecutor
}

// NewExecutorRegistry 构建全部内置节点执行器
func NewExecutorRegistry(db *gorm.DB, scripts ScriptExecutor) *ExecutorRegistry {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry := &ExecutorRegistry{executors: make(map[string]NodeExecutor)}

	registry.executors[meta.NodeTypeStart] = &startExecutor{}
	registry.executors[meta.NodeTypeEnd] = &endExecutor{}
	registry.executors[meta.NodeTypeProcess] = &processExecutor{}
	registry.executors[meta.NodeTypeCondition] = &conditionExecutor{}
	registry.executors[meta.NodeTypeDelay] = &delayExecutor{}
	registry.executors[meta.NodeTypeTimer] = &timerExecutor{}
	registry.executors[meta.NodeTypeAPI] = &apiExecutor{client: httpClient}
	registry.executors[meta.NodeTypeDatabase] = &databaseExecutor{db: db}
	registry.executors[meta.NodeTypeTransform] = &transformExecutor{scripts: scripts}
	registry.executors[meta.NodeTypeFilter] = &filterExecutor{scripts: scripts}
	// parallel/merge/loop是控制节点，拓扑语义由引擎实现，这里只做占位执行
	registry.executors[meta.NodeTypeParallel] = &noopExecutor{}
	registry.executors[meta.NodeTypeMerge] = &noopExecutor{}
	registry.executors[meta.NodeTypeLoop] = &noopExecutor{}

	return registry
}

// Get 查找执行器，类型未注册返回错误
func (r *ExecutorRegistry) Get(nodeType string) (NodeExecutor, error) {
	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("不支持的节点类型: %s", nodeType)
	}
	return executor, nil
}

// startExecutor start节点不做任何事，只标记执行入口
type startExecutor struct{}

func (e *startExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	return &NodeResult{}, nil
}

// endExecutor end节点可以声明输出变量集，作为执行结果快照的一部分
type endExecutor struct{}

func (e *endExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	outputKeys := cast.ToStringSlice(node.Config["output_keys"])
	if len(outputKeys) == 0 {
		return &NodeResult{}, nil
	}
	output := make(map[string]interface{}, len(outputKeys))
	for _, key := range outputKeys {
		if value, ok := rc.Get(key); ok {
			output[key] = value
		}
	}
	return &NodeResult{Output: output}, nil
}

type noopExecutor struct{}

func (e *noopExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	return &NodeResult{}, nil
}

// processExecutor 通用处理节点，把config中的assignments写入变量表
type processExecutor struct{}

func (e *processExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	output := make(map[string]interface{})
	if assignments, ok := node.Config["assignments"]; ok {
		assignmentMap, err := cast.ToStringMapE(assignments)
		if err != nil {
			return nil, fmt.Errorf("assignments必须是对象: %w", err)
		}
		for key, value := range assignmentMap {
			output[key] = resolveTemplateValue(value, rc)
		}
	}
	return &NodeResult{Output: output}, nil
}

// conditionExecutor 对变量表求值条件树，产出分支label
type conditionExecutor struct{}

func (e *conditionExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	expression, err := cast.ToStringMapE(node.Config["expression"])
	if err != nil {
		return nil, fmt.Errorf("expression必须是条件树对象: %w", err)
	}
	branch, err := evaluateBranchExpression(expression, rc.Snapshot())
	if err != nil {
		return nil, err
	}
	return &NodeResult{Branch: branch}, nil
}

// delayExecutor 固定时长等待，取消信号立即唤醒
type delayExecutor struct{}

func (e *delayExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	seconds := cast.ToFloat64(node.Config["duration_seconds"])
	if seconds <= 0 {
		return nil, fmt.Errorf("delay节点必须配置大于0的duration_seconds")
	}
	return waitFor(ctx, time.Duration(seconds*float64(time.Second)))
}

// timerExecutor 等待到指定时刻（fire_at, RFC3339），已过时刻直接通过
type timerExecutor struct{}

func (e *timerExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	fireAtRaw := cast.ToString(node.Config["fire_at"])
	if fireAtRaw == "" {
		return nil, fmt.Errorf("timer节点必须配置fire_at")
	}
	fireAt, err := time.Parse(time.RFC3339, fireAtRaw)
	if err != nil {
		return nil, fmt.Errorf("fire_at必须是RFC3339时间: %w", err)
	}
	wait := time.Until(fireAt)
	if wait <= 0 {
		return &NodeResult{}, nil
	}
	return waitFor(ctx, wait)
}

func waitFor(ctx context.Context, d time.Duration) (*NodeResult, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return &NodeResult{}, nil
	}
}

// apiExecutor HTTP调用节点，响应写入output_var（缺省api_response）
type apiExecutor struct {
	client *http.Client
}

func (e *apiExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	url := cast.ToString(node.Config["url"])
	if url == "" {
		return nil, fmt.Errorf("api节点必须配置url")
	}
	method := strings.ToUpper(cast.ToString(node.Config["method"]))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if rawBody, ok := node.Config["body"]; ok {
		resolved := resolveTemplateValue(rawBody, rc)
		payload, err := json.Marshal(resolved)
		if err != nil {
			return nil, fmt.Errorf("请求体序列化失败: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if headers, ok := node.Config["headers"]; ok {
		for key, value := range cast.ToStringMapString(headers) {
			request.Header.Set(key, value)
		}
	}

	response, err := e.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var parsed interface{}
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		parsed = string(responseBody)
	}

	if cast.ToBool(node.Config["fail_on_error_status"]) && response.StatusCode >= 400 {
		return nil, fmt.Errorf("接口返回错误状态: %d", response.StatusCode)
	}

	outputVar := cast.ToString(node.Config["output_var"])
	if outputVar == "" {
		outputVar = "api_response"
	}
	return &NodeResult{Output: map[string]interface{}{
		outputVar:             parsed,
		outputVar + "_status": response.StatusCode,
	}}, nil
}

// databaseExecutor 只读查询节点，结果行写入output_var（缺省db_rows）
type databaseExecutor struct {
	db *gorm.DB
}

func (e *databaseExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	query := strings.TrimSpace(cast.ToString(node.Config["sql"]))
	if query == "" {
		return nil, fmt.Errorf("database节点必须配置sql")
	}
	if !strings.HasPrefix(strings.ToUpper(query), "SELECT") {
		return nil, fmt.Errorf("database节点只允许SELECT查询")
	}

	var params []interface{}
	if rawParams, ok := node.Config["params"]; ok {
		for _, param := range cast.ToSlice(rawParams) {
			params = append(params, resolveTemplateValue(param, rc))
		}
	}

	var rows []map[string]interface{}
	if err := e.db.WithContext(ctx).Raw(query, params...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询失败: %w", err)
	}

	outputVar := cast.ToString(node.Config["output_var"])
	if outputVar == "" {
		outputVar = "db_rows"
	}
	return &NodeResult{Output: map[string]interface{}{
		outputVar:            rows,
		outputVar + "_count": len(rows),
	}}, nil
}

// transformExecutor 运行Go脚本变换数据，返回map时合并入变量表，否则写入output_var
type transformExecutor struct {
	scripts ScriptExecutor
}

func (e *transformExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	script := cast.ToString(node.Config["script"])
	if script == "" {
		return nil, fmt.Errorf("transform节点必须配置script")
	}
	result, err := e.scripts.Execute(ctx, script, rc.Snapshot())
	if err != nil {
		return nil, err
	}

	if resultMap, err := cast.ToStringMapE(result); err == nil {
		return &NodeResult{Output: resultMap}, nil
	}
	outputVar := cast.ToString(node.Config["output_var"])
	if outputVar == "" {
		outputVar = "transform_result"
	}
	return &NodeResult{Output: map[string]interface{}{outputVar: result}}, nil
}

// filterExecutor 运行Go脚本判定是否放行，返回false时跳过下游节点
type filterExecutor struct {
	scripts ScriptExecutor
}

func (e *filterExecutor) Execute(ctx context.Context, node *models.WorkflowNode, rc *RunContext) (*NodeResult, error) {
	script := cast.ToString(node.Config["script"])
	if script == "" {
		return nil, fmt.Errorf("filter节点必须配置script")
	}
	passed, err := e.scripts.ExecuteBool(ctx, script, rc.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("filter脚本判定失败: %w", err)
	}
	return &NodeResult{Skipped: !passed}, nil
}

// resolveTemplateValue 解析 ${var} 形式的变量引用，非模板值原样返回
func resolveTemplateValue(value interface{}, rc *RunContext) interface{} {
	text, ok := value.(string)
	if !ok {
		return value
	}
	if strings.HasPrefix(text, "${") && strings.HasSuffix(text, "}") {
		key := text[2 : len(text)-1]
		if resolved, exists := rc.Get(key); exists {
			return resolved
		}
		return nil
	}
	return value
}
