/*
 * @module api/controllers/workflow_controller
 * @description 工作流API控制器，提供工作流CRUD、发布、执行、模板、导入导出与webhook触发
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/requirements.md
 * @stateFlow HTTP请求 -> 参数校验 -> 工作流服务/引擎 -> 响应返回
 * @rules 工作流必须发布后才可执行；webhook触发需要校验密钥
 * @dependencies devmonitor-service/service, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs ai_docs/model.md
 */

package controllers

import (
	"devmonitor-service/service"
	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"
	"devmonitor-service/service/rate_limiter"
	"devmonitor-service/service/workflow"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// WorkflowController 工作流控制器
type WorkflowController struct {
	service *workflow.Service
}

// NewWorkflowController 创建工作流控制器实例
func NewWorkflowController() *WorkflowController {
	return &WorkflowController{
		service: service.GlobalWorkflowService,
	}
}

// CreateWorkflow 创建工作流
// @Summary 创建工作流
// @Description 创建新的工作流定义，创建后处于未发布状态
// @Tags 工作流
// @Accept json
// @Produce json
// @Param workflow body models.Workflow true "工作流定义"
// @Success 200 {object} APIResponse{data=models.Workflow}
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows [post]
func (c *WorkflowController) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	// 先填默认值再解码，请求省略is_active时默认启用，显式false不丢失
	wf := models.Workflow{IsActive: true}
	if err := render.DecodeJSON(r.Body, &wf); err != nil {
		render.JSON(w, r, BadRequestResponse(fmt.Sprintf("请求参数格式错误:%s", err.Error()), nil))
		return
	}

	if err := c.service.CreateWorkflow(&wf); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", &wf))
}

// GetWorkflowList 获取工作流列表
// @Summary 获取工作流列表
// @Description 分页查询工作流，支持类型、关键字、启用与发布状态过滤
// @Tags 工作流
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param type query string false "工作流类型" Enums(device_monitor, alarm_process, data_collection, maintenance, custom)
// @Param keyword query string false "名称关键字"
// @Param is_active query bool false "是否启用"
// @Param is_published query bool false "是否已发布"
// @Success 200 {object} PaginatedResponse{data=[]models.Workflow}
// @Router /api/v2/workflows [get]
func (c *WorkflowController) GetWorkflowList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	isActive, err := parseBoolParam(r.URL.Query().Get("is_active"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("is_active参数格式错误", nil))
		return
	}
	isPublished, err := parseBoolParam(r.URL.Query().Get("is_published"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("is_published参数格式错误", nil))
		return
	}

	workflows, total, err := c.service.GetWorkflowList(page, pageSize,
		r.URL.Query().Get("type"), r.URL.Query().Get("keyword"), isActive, isPublished)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询工作流列表失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", workflows, total, page, pageSize))
}

// GetWorkflow 获取工作流详情
// @Summary 获取工作流详情
// @Description 根据ID获取工作流完整定义
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} APIResponse{data=models.Workflow}
// @Failure 404 {object} APIResponse
// @Router /api/v2/workflows/{id} [get]
func (c *WorkflowController) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := c.service.GetWorkflowByID(id)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("工作流不存在", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", wf))
}

// UpdateWorkflow 更新工作流
// @Summary 更新工作流
// @Description 更新工作流字段，定义性变更会使工作流回到未发布状态
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param updates body map[string]interface{} true "更新字段"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows/{id} [put]
func (c *WorkflowController) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var updates map[string]interface{}
	if err := render.DecodeJSON(r.Body, &updates); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	if err := c.service.UpdateWorkflow(id, updates); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("更新成功", nil))
}

// DeleteWorkflow 删除工作流
// @Summary 删除工作流
// @Description 删除工作流及其执行历史，存在运行中执行时拒绝删除
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /api/v2/workflows/{id} [delete]
func (c *WorkflowController) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.service.DeleteWorkflow(id); err != nil {
		render.JSON(w, r, ConflictResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("删除成功", nil))
}

// ToggleWorkflowRequest 工作流启停请求
type ToggleWorkflowRequest struct {
	IsActive bool `json:"is_active"`
}

// ToggleWorkflow 启停工作流
// @Summary 启停工作流
// @Description 切换工作流启用状态，停用后调度与事件触发均不再生效
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body ToggleWorkflowRequest true "启停状态"
// @Success 200 {object} APIResponse
// @Router /api/v2/workflows/{id}/toggle [post]
func (c *WorkflowController) ToggleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ToggleWorkflowRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	if err := c.service.ToggleWorkflow(id, req.IsActive); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	msg := "停用成功"
	if req.IsActive {
		msg = "启用成功"
	}
	render.JSON(w, r, SuccessResponse(msg, nil))
}

// PublishWorkflowRequest 工作流发布请求
type PublishWorkflowRequest struct {
	Remark string `json:"remark"`
}

// PublishWorkflow 发布工作流
// @Summary 发布工作流
// @Description 校验图结构后发布工作流并生成版本快照，校验失败返回错误列表
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body PublishWorkflowRequest false "发布备注"
// @Success 200 {object} APIResponse{data=workflow.ValidationResult}
// @Failure 400 {object} APIResponse{data=workflow.ValidationResult}
// @Router /api/v2/workflows/{id}/publish [post]
func (c *WorkflowController) PublishWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PublishWorkflowRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
			return
		}
	}

	result, err := c.service.PublishWorkflow(id, req.Remark)
	if err != nil {
		if result != nil && !result.Valid {
			render.JSON(w, r, &APIResponse{Status: http.StatusBadRequest, Msg: "工作流校验未通过", Data: result})
			return
		}
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("发布成功", result))
}

// UnpublishWorkflow 取消发布工作流
// @Summary 取消发布工作流
// @Description 将工作流回退到未发布状态，取消后不可再执行
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} APIResponse
// @Router /api/v2/workflows/{id}/unpublish [post]
func (c *WorkflowController) UnpublishWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.service.UnpublishWorkflow(id); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("取消发布成功", nil))
}

// DuplicateWorkflowRequest 工作流复制请求
type DuplicateWorkflowRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// DuplicateWorkflow 复制工作流
// @Summary 复制工作流
// @Description 以现有工作流为蓝本创建副本，副本处于未发布状态
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body DuplicateWorkflowRequest true "副本名称与编码"
// @Success 200 {object} APIResponse{data=models.Workflow}
// @Router /api/v2/workflows/{id}/duplicate [post]
func (c *WorkflowController) DuplicateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DuplicateWorkflowRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	if req.Name == "" || req.Code == "" {
		render.JSON(w, r, BadRequestResponse("副本名称和编码不能为空", nil))
		return
	}

	copied, err := c.service.DuplicateWorkflow(id, req.Name, req.Code)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("复制成功", copied))
}

// SaveDesignRequest 工作流画布保存请求
type SaveDesignRequest struct {
	Nodes       []interface{} `json:"nodes"`
	Connections []interface{} `json:"connections"`
}

// SaveDesign 保存工作流画布
// @Summary 保存工作流画布
// @Description 保存节点与连接定义，保存后工作流回到未发布状态
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body SaveDesignRequest true "节点与连接定义"
// @Success 200 {object} APIResponse
// @Router /api/v2/workflows/{id}/design [put]
func (c *WorkflowController) SaveDesign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SaveDesignRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	if req.Nodes == nil {
		render.JSON(w, r, BadRequestResponse("nodes不能为空", nil))
		return
	}

	updates := map[string]interface{}{
		"nodes":       req.Nodes,
		"connections": req.Connections,
	}
	if err := c.service.UpdateWorkflow(id, updates); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("保存成功", nil))
}

// ValidateWorkflow 校验工作流
// @Summary 校验工作流
// @Description 校验工作流图结构（起止节点、连接、节点配置），不改变发布状态
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} APIResponse{data=workflow.ValidationResult}
// @Router /api/v2/workflows/{id}/validate [post]
func (c *WorkflowController) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := c.service.ValidateWorkflowByID(id)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("校验完成", result))
}

// ExecuteWorkflowRequest 手动执行请求
type ExecuteWorkflowRequest struct {
	TriggerData map[string]interface{} `json:"trigger_data"`
}

// ExecuteWorkflow 手动执行工作流
// @Summary 手动执行工作流
// @Description 以manual触发方式启动一次异步执行，立即返回执行记录
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body ExecuteWorkflowRequest false "触发数据"
// @Success 200 {object} APIResponse{data=models.WorkflowExecution}
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows/{id}/execute [post]
func (c *WorkflowController) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ExecuteWorkflowRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
			return
		}
	}

	execution, err := c.service.ExecuteWorkflow(id, meta.TriggerTypeManual, req.TriggerData)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("执行已启动", execution))
}

// WebhookTriggerRequest webhook触发请求
type WebhookTriggerRequest struct {
	Secret string                 `json:"secret"`
	Data   map[string]interface{} `json:"data"`
}

// TriggerWebhook webhook触发工作流
// @Summary webhook触发工作流
// @Description 外部系统通过密钥触发工作流执行，密钥可放在X-Webhook-Secret头或请求体
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param X-Webhook-Secret header string false "webhook密钥"
// @Param request body WebhookTriggerRequest false "触发数据"
// @Success 200 {object} APIResponse{data=models.WorkflowExecution}
// @Failure 401 {object} APIResponse
// @Failure 429 {object} APIResponse
// @Router /api/v2/workflows/{id}/webhook [post]
func (c *WorkflowController) TriggerWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if service.GlobalRateLimiter != nil {
		result, err := service.GlobalRateLimiter.CheckRateLimit(r.Context(), rate_limiter.WebhookRules(id))
		if err != nil {
			log.Printf("webhook限流检查失败: %v", err)
		} else if !result.Allowed {
			render.JSON(w, r, &APIResponse{Status: http.StatusTooManyRequests, Msg: result.Message, Data: result})
			return
		}
	}

	var req WebhookTriggerRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
			return
		}
	}

	secret := r.Header.Get("X-Webhook-Secret")
	if secret == "" {
		secret = req.Secret
	}
	if secret == "" {
		render.JSON(w, r, UnauthorizedResponse("缺少webhook密钥", nil))
		return
	}

	wf, err := c.service.GetWorkflowByID(id)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("工作流不存在", nil))
		return
	}
	if wf.TriggerType != meta.TriggerTypeWebhook {
		render.JSON(w, r, BadRequestResponse("该工作流不支持webhook触发", nil))
		return
	}
	if err := c.service.VerifyWebhookSecret(wf, secret); err != nil {
		render.JSON(w, r, UnauthorizedResponse("webhook密钥校验失败", nil))
		return
	}

	execution, err := c.service.ExecuteWorkflow(id, meta.TriggerTypeWebhook, req.Data)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("执行已启动", execution))
}

// GetExecutionList 查询执行历史
// @Summary 查询执行历史
// @Description 分页查询指定工作流的执行记录，支持状态过滤
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param status query string false "执行状态" Enums(pending, running, succeeded, failed, cancelled)
// @Success 200 {object} PaginatedResponse{data=[]models.WorkflowExecution}
// @Router /api/v2/workflows/{id}/executions [get]
func (c *WorkflowController) GetExecutionList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	executions, total, err := c.service.GetExecutionList(id, page, pageSize, r.URL.Query().Get("status"))
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询执行历史失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", executions, total, page, pageSize))
}

// GetExecutionDetail 查询执行详情
// @Summary 查询执行详情
// @Description 返回单次执行的状态、结果与全部节点执行轨迹
// @Tags 工作流
// @Produce json
// @Param execution_id path string true "执行ID"
// @Success 200 {object} APIResponse{data=workflow.ExecutionDetail}
// @Failure 404 {object} APIResponse
// @Router /api/v2/workflows/executions/{execution_id} [get]
func (c *WorkflowController) GetExecutionDetail(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "execution_id")
	detail, err := c.service.GetExecutionDetail(executionID)
	if err != nil {
		render.JSON(w, r, NotFoundResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", detail))
}

// CancelExecution 取消执行
// @Summary 取消执行
// @Description 取消运行中的执行，取消在节点边界生效
// @Tags 工作流
// @Produce json
// @Param execution_id path string true "执行ID"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows/executions/{execution_id}/cancel [post]
func (c *WorkflowController) CancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "execution_id")
	if err := c.service.CancelExecution(executionID); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("取消成功", nil))
}

// RetryExecution 重试执行
// @Summary 重试执行
// @Description 对失败的执行按原触发数据发起新一次执行
// @Tags 工作流
// @Produce json
// @Param execution_id path string true "执行ID"
// @Success 200 {object} APIResponse{data=models.WorkflowExecution}
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows/executions/{execution_id}/retry [post]
func (c *WorkflowController) RetryExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "execution_id")
	execution, err := c.service.RetryExecution(executionID)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("重试已启动", execution))
}

// GetWorkflowVersions 查询版本历史
// @Summary 查询版本历史
// @Description 返回工作流发布生成的版本快照列表
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} APIResponse{data=[]models.WorkflowVersion}
// @Router /api/v2/workflows/{id}/versions [get]
func (c *WorkflowController) GetWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	versions, err := c.service.GetWorkflowVersions(id)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询版本历史失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", versions))
}

// CreateTemplate 创建工作流模板
// @Summary 创建工作流模板
// @Description 创建可复用的工作流模板
// @Tags 工作流模板
// @Accept json
// @Produce json
// @Param template body models.WorkflowTemplate true "模板定义"
// @Success 200 {object} APIResponse{data=models.WorkflowTemplate}
// @Router /api/v2/workflows/templates [post]
func (c *WorkflowController) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var template models.WorkflowTemplate
	if err := render.DecodeJSON(r.Body, &template); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	if err := c.service.CreateTemplate(&template); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", &template))
}

// GetTemplateList 查询工作流模板列表
// @Summary 查询工作流模板列表
// @Description 分页查询工作流模板，支持分类过滤
// @Tags 工作流模板
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param category query string false "模板分类"
// @Success 200 {object} PaginatedResponse{data=[]models.WorkflowTemplate}
// @Router /api/v2/workflows/templates [get]
func (c *WorkflowController) GetTemplateList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	templates, total, err := c.service.GetTemplateList(page, pageSize, r.URL.Query().Get("category"))
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询模板列表失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", templates, total, page, pageSize))
}

// DeleteTemplate 删除工作流模板
// @Summary 删除工作流模板
// @Description 删除工作流模板，内置模板不可删除
// @Tags 工作流模板
// @Produce json
// @Param id path string true "模板ID"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows/templates/{id} [delete]
func (c *WorkflowController) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.service.DeleteTemplate(id); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("删除成功", nil))
}

// UseTemplateRequest 基于模板创建工作流的请求
type UseTemplateRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// UseTemplate 基于模板创建工作流
// @Summary 基于模板创建工作流
// @Description 以模板的节点与连接定义创建新工作流
// @Tags 工作流模板
// @Accept json
// @Produce json
// @Param id path string true "模板ID"
// @Param request body UseTemplateRequest true "新工作流名称与编码"
// @Success 200 {object} APIResponse{data=models.Workflow}
// @Router /api/v2/workflows/templates/{id}/use [post]
func (c *WorkflowController) UseTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UseTemplateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	if req.Name == "" || req.Code == "" {
		render.JSON(w, r, BadRequestResponse("工作流名称和编码不能为空", nil))
		return
	}

	wf, err := c.service.CreateWorkflowFromTemplate(id, req.Name, req.Code)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", wf))
}

// SaveAsTemplateRequest 工作流另存为模板请求
type SaveAsTemplateRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// SaveAsTemplate 工作流另存为模板
// @Summary 工作流另存为模板
// @Description 将现有工作流的定义保存为可复用模板
// @Tags 工作流模板
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body SaveAsTemplateRequest true "模板名称与分类"
// @Success 200 {object} APIResponse{data=models.WorkflowTemplate}
// @Router /api/v2/workflows/{id}/save-as-template [post]
func (c *WorkflowController) SaveAsTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SaveAsTemplateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	if req.Name == "" {
		render.JSON(w, r, BadRequestResponse("模板名称不能为空", nil))
		return
	}

	template, err := c.service.SaveAsTemplate(id, req.Name, req.Category)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("保存成功", template))
}

// ExportWorkflow 导出工作流
// @Summary 导出工作流
// @Description 导出工作流定义为JSON，敏感触发配置（webhook密钥）会被剔除
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} APIResponse{data=workflow.WorkflowExport}
// @Router /api/v2/workflows/{id}/export [get]
func (c *WorkflowController) ExportWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	export, err := c.service.ExportWorkflow(id)
	if err != nil {
		render.JSON(w, r, NotFoundResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("导出成功", export))
}

// ImportWorkflow 导入工作流
// @Summary 导入工作流
// @Description 从导出的JSON定义导入工作流，webhook触发会降级为manual
// @Tags 工作流
// @Accept json
// @Produce json
// @Param payload body workflow.WorkflowExport true "导出的工作流定义"
// @Success 200 {object} APIResponse{data=models.Workflow}
// @Failure 400 {object} APIResponse
// @Router /api/v2/workflows/import [post]
func (c *WorkflowController) ImportWorkflow(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("读取请求体失败", err))
		return
	}

	wf, err := c.service.ImportWorkflow(payload)
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("导入成功", wf))
}

// GetStatistics 查询工作流统计
// @Summary 查询工作流统计
// @Description 汇总工作流数量、发布状态与当日执行成败统计
// @Tags 工作流
// @Produce json
// @Success 200 {object} APIResponse{data=workflow.WorkflowStatistics}
// @Router /api/v2/workflows/statistics [get]
func (c *WorkflowController) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := c.service.GetStatistics()
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询统计信息失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", stats))
}

// parseBoolParam 解析可选布尔查询参数，空串返回nil
func parseBoolParam(value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
