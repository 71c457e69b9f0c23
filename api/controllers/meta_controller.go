/*
 * @module api/controllers/meta_controller
 * @description 元数据控制器，向前端暴露规则与工作流的枚举定义
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/requirements.md
 * @stateFlow HTTP请求处理流程
 * @rules 只读接口，枚举定义来自meta包的闭集常量
 * @dependencies devmonitor-service/service/meta, github.com/go-chi/render
 * @refs ai_docs/model.md
 */

package controllers

import (
	"devmonitor-service/service/meta"
	"net/http"

	"github.com/go-chi/render"
)

// MetaController 元数据控制器
type MetaController struct{}

// NewMetaController 创建元数据控制器实例
func NewMetaController() *MetaController {
	return &MetaController{}
}

// GetDecisionRuleMeta 获取决策规则元数据
// @Summary 获取决策规则元数据
// @Description 返回条件操作符与动作类型的枚举及显示名
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse
// @Router /meta/decision-rules [get]
func (c *MetaController) GetDecisionRuleMeta(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("查询成功", map[string]interface{}{
		"operators":    meta.OperatorDisplayNames,
		"action_types": meta.ActionTypeDisplayNames,
	}))
}

// GetWorkflowMeta 获取工作流元数据
// @Summary 获取工作流元数据
// @Description 返回工作流类型、节点类型与触发类型的枚举及显示名
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse
// @Router /meta/workflows [get]
func (c *MetaController) GetWorkflowMeta(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("查询成功", map[string]interface{}{
		"workflow_types": meta.WorkflowTypeDisplayNames,
		"node_types":     meta.NodeTypeDisplayNames,
		"trigger_types":  meta.TriggerTypeDisplayNames,
	}))
}
