/*
 * @module api/controllers/decision_rule_controller
 * @description 决策规则API控制器，提供规则CRUD、启停、校验、测试、热加载与审计查询
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/requirements.md
 * @stateFlow HTTP请求 -> 参数校验 -> 决策服务 -> 响应返回
 * @rules 统一的错误处理和响应格式，规则变更由数据库触发器驱动注册表热加载
 * @dependencies devmonitor-service/service, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs ai_docs/model.md
 */

package controllers

import (
	"devmonitor-service/service"
	"devmonitor-service/service/decision"
	"devmonitor-service/service/models"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// DecisionRuleController 决策规则控制器
type DecisionRuleController struct {
	service *decision.Service
}

// NewDecisionRuleController 创建决策规则控制器实例
func NewDecisionRuleController() *DecisionRuleController {
	return &DecisionRuleController{
		service: service.GlobalDecisionService,
	}
}

// CreateRule 创建决策规则
// @Summary 创建决策规则
// @Description 创建新的决策规则，规则条件与动作以JSON形式提交
// @Tags 决策规则
// @Accept json
// @Produce json
// @Param rule body models.DecisionRule true "决策规则信息"
// @Success 200 {object} APIResponse{data=models.DecisionRule}
// @Failure 400 {object} APIResponse
// @Router /api/v2/decision-rules [post]
func (c *DecisionRuleController) CreateRule(w http.ResponseWriter, r *http.Request) {
	// 先填默认值再解码，请求省略的字段保持默认，显式的false/0不丢失
	rule := models.DecisionRule{Enabled: true, Priority: 100}
	if err := render.DecodeJSON(r.Body, &rule); err != nil {
		render.JSON(w, r, BadRequestResponse(fmt.Sprintf("请求参数格式错误:%s", err.Error()), nil))
		return
	}

	if err := c.service.CreateRule(r.Context(), &rule); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", &rule))
}

// GetRuleList 获取决策规则列表
// @Summary 获取决策规则列表
// @Description 分页查询决策规则，支持分类、关键字与启用状态过滤
// @Tags 决策规则
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param category_id query string false "规则分类ID"
// @Param keyword query string false "名称关键字"
// @Param enabled query bool false "是否启用"
// @Success 200 {object} PaginatedResponse{data=[]models.DecisionRule}
// @Router /api/v2/decision-rules [get]
func (c *DecisionRuleController) GetRuleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	var enabled *bool
	if v := r.URL.Query().Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			render.JSON(w, r, BadRequestResponse("enabled参数格式错误", nil))
			return
		}
		enabled = &b
	}

	rules, total, err := c.service.GetRuleList(r.Context(), page, pageSize,
		r.URL.Query().Get("category_id"), r.URL.Query().Get("keyword"), enabled)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询规则列表失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", rules, total, page, pageSize))
}

// GetRule 获取决策规则详情
// @Summary 获取决策规则详情
// @Description 根据规则ID获取决策规则详细信息
// @Tags 决策规则
// @Produce json
// @Param rule_id path string true "规则ID"
// @Success 200 {object} APIResponse{data=models.DecisionRule}
// @Failure 404 {object} APIResponse
// @Router /api/v2/decision-rules/{rule_id} [get]
func (c *DecisionRuleController) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")
	rule, err := c.service.GetRuleByRuleID(r.Context(), ruleID)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("决策规则不存在", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", rule))
}

// UpdateRule 更新决策规则
// @Summary 更新决策规则
// @Description 更新决策规则的部分字段，条件与动作变更会重新校验
// @Tags 决策规则
// @Accept json
// @Produce json
// @Param rule_id path string true "规则ID"
// @Param updates body map[string]interface{} true "更新字段"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /api/v2/decision-rules/{rule_id} [put]
func (c *DecisionRuleController) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")

	var updates map[string]interface{}
	if err := render.DecodeJSON(r.Body, &updates); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	if err := c.service.UpdateRule(r.Context(), ruleID, updates); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("更新成功", nil))
}

// DeleteRule 删除决策规则
// @Summary 删除决策规则
// @Description 删除决策规则，已产生的审计记录保留
// @Tags 决策规则
// @Produce json
// @Param rule_id path string true "规则ID"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /api/v2/decision-rules/{rule_id} [delete]
func (c *DecisionRuleController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")
	if err := c.service.DeleteRule(r.Context(), ruleID); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("删除成功", nil))
}

// EnableRule 启用决策规则
// @Summary 启用决策规则
// @Description 将决策规则置为启用状态
// @Tags 决策规则
// @Produce json
// @Param rule_id path string true "规则ID"
// @Success 200 {object} APIResponse
// @Router /api/v2/decision-rules/{rule_id}/enable [post]
func (c *DecisionRuleController) EnableRule(w http.ResponseWriter, r *http.Request) {
	c.setEnabled(w, r, true)
}

// DisableRule 禁用决策规则
// @Summary 禁用决策规则
// @Description 将决策规则置为禁用状态，禁用后不再参与事件评估
// @Tags 决策规则
// @Produce json
// @Param rule_id path string true "规则ID"
// @Success 200 {object} APIResponse
// @Router /api/v2/decision-rules/{rule_id}/disable [post]
func (c *DecisionRuleController) DisableRule(w http.ResponseWriter, r *http.Request) {
	c.setEnabled(w, r, false)
}

func (c *DecisionRuleController) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ruleID := chi.URLParam(r, "rule_id")
	if err := c.service.UpdateRule(r.Context(), ruleID, map[string]interface{}{"enabled": enabled}); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	msg := "禁用成功"
	if enabled {
		msg = "启用成功"
	}
	render.JSON(w, r, SuccessResponse(msg, nil))
}

// ValidateRule 校验决策规则定义
// @Summary 校验决策规则定义
// @Description 校验规则的条件树与动作列表，不落库
// @Tags 决策规则
// @Accept json
// @Produce json
// @Param rule body models.DecisionRule true "待校验的规则定义"
// @Success 200 {object} APIResponse
// @Router /api/v2/decision-rules/validate [post]
func (c *DecisionRuleController) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.DecisionRule
	if err := render.DecodeJSON(r.Body, &rule); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}

	validationErrors := c.service.ValidateRule(&rule)
	render.JSON(w, r, SuccessResponse("校验完成", map[string]interface{}{
		"valid":  len(validationErrors) == 0,
		"errors": validationErrors,
	}))
}

// TestRuleRequest 规则测试请求
type TestRuleRequest struct {
	Facts map[string]interface{} `json:"facts"`
	Rule  *models.DecisionRule   `json:"rule,omitempty"`
}

// TestRule 测试决策规则
// @Summary 测试决策规则
// @Description 用给定事实包对规则做一次干跑评估，不执行动作、不写审计
// @Tags 决策规则
// @Accept json
// @Produce json
// @Param rule_id path string true "规则ID"
// @Param request body TestRuleRequest true "测试事实包"
// @Success 200 {object} APIResponse{data=decision.TestRuleResult}
// @Failure 400 {object} APIResponse
// @Router /api/v2/decision-rules/{rule_id}/test [post]
func (c *DecisionRuleController) TestRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")

	var req TestRuleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	if req.Facts == nil {
		render.JSON(w, r, BadRequestResponse("facts不能为空", nil))
		return
	}

	var (
		result *decision.TestRuleResult
		err    error
	)
	if req.Rule != nil {
		// 允许对未保存的规则草稿做测试
		result, err = c.service.TestRuleDefinition(req.Rule, req.Facts)
	} else {
		result, err = c.service.TestRule(r.Context(), ruleID, req.Facts)
	}
	if err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("测试完成", result))
}

// ReloadRules 重新加载规则注册表
// @Summary 重新加载规则注册表
// @Description 从数据库全量重建内存规则快照，返回加载的规则数
// @Tags 决策规则
// @Produce json
// @Success 200 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /api/v2/decision-rules/reload [post]
func (c *DecisionRuleController) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := c.service.ReloadRules()
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("规则重新加载失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("重新加载成功", map[string]interface{}{
		"loaded_rules": count,
	}))
}

// GetAuditLogs 查询决策审计日志
// @Summary 查询决策审计日志
// @Description 分页查询规则触发审计日志，支持按规则、设备、结果与时间范围过滤
// @Tags 决策规则
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param rule_id query string false "规则ID"
// @Param asset_id query string false "设备ID"
// @Param result query string false "执行结果" Enums(success, partial, failed)
// @Param start_time query string false "起始时间(RFC3339)"
// @Param end_time query string false "结束时间(RFC3339)"
// @Success 200 {object} PaginatedResponse{data=[]models.DecisionAuditLog}
// @Router /api/v2/decision-rules/audit-logs [get]
func (c *DecisionRuleController) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	startTime, err := parseTimeParam(r.URL.Query().Get("start_time"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("start_time格式错误，应为RFC3339", nil))
		return
	}
	endTime, err := parseTimeParam(r.URL.Query().Get("end_time"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("end_time格式错误，应为RFC3339", nil))
		return
	}

	logs, total, err := c.service.GetAuditLogs(r.Context(), page, pageSize,
		r.URL.Query().Get("rule_id"), r.URL.Query().Get("asset_id"),
		r.URL.Query().Get("result"), startTime, endTime)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询审计日志失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", logs, total, page, pageSize))
}

// GetAuditStatistics 查询决策审计统计
// @Summary 查询决策审计统计
// @Description 按结果聚合触发次数，并返回各规则触发排行与注册表状态
// @Tags 决策规则
// @Produce json
// @Param start_time query string false "起始时间(RFC3339)"
// @Param end_time query string false "结束时间(RFC3339)"
// @Success 200 {object} APIResponse{data=decision.AuditStatistics}
// @Router /api/v2/decision-rules/audit-statistics [get]
func (c *DecisionRuleController) GetAuditStatistics(w http.ResponseWriter, r *http.Request) {
	startTime, err := parseTimeParam(r.URL.Query().Get("start_time"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("start_time格式错误，应为RFC3339", nil))
		return
	}
	endTime, err := parseTimeParam(r.URL.Query().Get("end_time"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("end_time格式错误，应为RFC3339", nil))
		return
	}

	stats, err := c.service.GetAuditStatistics(r.Context(), startTime, endTime)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询审计统计失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", stats))
}

// parseTimeParam 解析可选的RFC3339时间参数，空串返回nil
func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
