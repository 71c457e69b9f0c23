/*
 * @module service/workflow/graph
 * @description 工作流图模型，节点/连接的结构化视图与发布前校验
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 设计器保存 -> 校验 -> 发布 -> 执行引擎按图行走
 * @rules 恰好一个start节点、至少一个end节点；非start节点必须有入边，非end节点必须有出边；
 *        condition节点的出边label必须互不相同；loop节点必须配置有限迭代上限
 * @dependencies github.com/spf13/cast, service/meta, service/models
 * @refs service/workflow/engine.go, service/workflow/service.go
 */

package workflow

import (
	"fmt"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"

	"github.com/spf13/cast"
)

// Graph 工作流的结构化图视图，由节点/连接列表构建
type Graph struct {
	Nodes       map[string]*models.WorkflowNode
	Outgoing    map[string][]*models.WorkflowConnection // fromNodeId -> 出边
	Incoming    map[string][]*models.WorkflowConnection // toNodeId -> 入边
	StartNodeID string
}

// ValidationResult 图校验结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// BuildGraph 从工作流定义构建图视图，结构性错误（重复节点ID、悬空连接）直接报错
func BuildGraph(workflow *models.Workflow) (*Graph, error) {
	nodes, err := workflow.DecodeNodes()
	if err != nil {
		return nil, err
	}
	connections, err := workflow.DecodeConnections()
	if err != nil {
		return nil, err
	}
	return buildGraph(nodes, connections)
}

func buildGraph(nodes []models.WorkflowNode, connections []models.WorkflowConnection) (*Graph, error) {
	graph := &Graph{
		Nodes:    make(map[string]*models.WorkflowNode, len(nodes)),
		Outgoing: make(map[string][]*models.WorkflowConnection),
		Incoming: make(map[string][]*models.WorkflowConnection),
	}

	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" {
			return nil, fmt.Errorf("存在缺少ID的节点")
		}
		if _, exists := graph.Nodes[node.ID]; exists {
			return nil, fmt.Errorf("节点ID重复: %s", node.ID)
		}
		graph.Nodes[node.ID] = node
		if node.Type == meta.NodeTypeStart {
			graph.StartNodeID = node.ID
		}
	}

	for i := range connections {
		connection := &connections[i]
		if _, exists := graph.Nodes[connection.FromNodeID]; !exists {
			return nil, fmt.Errorf("连接 %s 的起点节点不存在: %s", connection.ID, connection.FromNodeID)
		}
		if _, exists := graph.Nodes[connection.ToNodeID]; !exists {
			return nil, fmt.Errorf("连接 %s 的终点节点不存在: %s", connection.ID, connection.ToNodeID)
		}
		graph.Outgoing[connection.FromNodeID] = append(graph.Outgoing[connection.FromNodeID], connection)
		graph.Incoming[connection.ToNodeID] = append(graph.Incoming[connection.ToNodeID], connection)
	}
	return graph, nil
}

// ValidateWorkflow 发布前的完整校验，返回全部错误而非遇错即停
func ValidateWorkflow(workflow *models.Workflow) *ValidationResult {
	result := &ValidationResult{Valid: true, Errors: []string{}}
	fail := func(format string, args ...interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	nodes, err := workflow.DecodeNodes()
	if err != nil {
		fail("节点定义无法解析: %v", err)
		return result
	}
	connections, err := workflow.DecodeConnections()
	if err != nil {
		fail("连接定义无法解析: %v", err)
		return result
	}

	if len(nodes) == 0 {
		fail("工作流不包含任何节点")
		return result
	}

	// 节点类型与数量约束
	startCount := 0
	endCount := 0
	nodeIDs := make(map[string]bool, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" {
			fail("存在缺少ID的节点")
			continue
		}
		if nodeIDs[node.ID] {
			fail("节点ID重复: %s", node.ID)
			continue
		}
		nodeIDs[node.ID] = true
		if !meta.IsValidNodeType(node.Type) {
			fail("节点 %s 的类型无效: %s", node.ID, node.Type)
			continue
		}
		switch node.Type {
		case meta.NodeTypeStart:
			startCount++
		case meta.NodeTypeEnd:
			endCount++
		case meta.NodeTypeLoop:
			if err := validateLoopConfig(node); err != nil {
				fail("循环节点 %s 配置无效: %v", node.ID, err)
			}
		case meta.NodeTypeMerge:
			if err := validateMergeConfig(node); err != nil {
				fail("汇聚节点 %s 配置无效: %v", node.ID, err)
			}
		}
	}
	if startCount != 1 {
		fail("工作流必须恰好包含一个start节点，当前为%d个", startCount)
	}
	if endCount < 1 {
		fail("工作流必须至少包含一个end节点（终止节点缺失）")
	}

	// 连接端点有效性
	outgoing := make(map[string][]*models.WorkflowConnection)
	incoming := make(map[string][]*models.WorkflowConnection)
	for i := range connections {
		connection := &connections[i]
		if !nodeIDs[connection.FromNodeID] {
			fail("连接 %s 的起点节点不存在: %s", connection.ID, connection.FromNodeID)
			continue
		}
		if !nodeIDs[connection.ToNodeID] {
			fail("连接 %s 的终点节点不存在: %s", connection.ID, connection.ToNodeID)
			continue
		}
		outgoing[connection.FromNodeID] = append(outgoing[connection.FromNodeID], connection)
		incoming[connection.ToNodeID] = append(incoming[connection.ToNodeID], connection)
	}

	// 出入度约束与condition分支label唯一性
	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" || !nodeIDs[node.ID] {
			continue
		}
		if node.Type != meta.NodeTypeStart && len(incoming[node.ID]) == 0 {
			fail("节点 %s 没有任何入边", node.ID)
		}
		if node.Type != meta.NodeTypeEnd && len(outgoing[node.ID]) == 0 {
			fail("节点 %s 没有任何出边", node.ID)
		}
		if node.Type == meta.NodeTypeCondition {
			labels := make(map[string]bool)
			for _, connection := range outgoing[node.ID] {
				if connection.Label == "" {
					fail("条件节点 %s 的出边 %s 缺少分支label", node.ID, connection.ID)
					continue
				}
				if connection.Label != BranchTrue && connection.Label != BranchFalse {
					fail("条件节点 %s 的分支label必须是%q或%q: %s", node.ID, BranchTrue, BranchFalse, connection.Label)
					continue
				}
				if labels[connection.Label] {
					fail("条件节点 %s 存在重复的分支label: %s", node.ID, connection.Label)
				}
				labels[connection.Label] = true
			}
			if err := validateConditionNodeConfig(node); err != nil {
				fail("条件节点 %s 配置无效: %v", node.ID, err)
			}
		}
	}

	return result
}

// validateLoopConfig 循环节点必须配置有限的迭代上限
func validateLoopConfig(node *models.WorkflowNode) error {
	maxIterations := cast.ToInt(node.Config["max_iterations"])
	if maxIterations <= 0 {
		return fmt.Errorf("必须配置大于0的max_iterations")
	}
	return nil
}

// validateMergeConfig 汇聚节点的合流条件只能是all或any
func validateMergeConfig(node *models.WorkflowNode) error {
	join := cast.ToString(node.Config["join"])
	if join == "" {
		return nil // 缺省按all处理
	}
	if join != meta.MergeJoinAll && join != meta.MergeJoinAny {
		return fmt.Errorf("合流条件只能是all或any，当前为%q", join)
	}
	return nil
}

// validateConditionNodeConfig 条件节点必须配置可求值的表达式
func validateConditionNodeConfig(node *models.WorkflowNode) error {
	expression, ok := node.Config["expression"]
	if !ok {
		return fmt.Errorf("缺少expression配置")
	}
	expressionMap, err := cast.ToStringMapE(expression)
	if err != nil {
		return fmt.Errorf("expression必须是条件树对象: %w", err)
	}
	return validateBranchExpression(expressionMap)
}
