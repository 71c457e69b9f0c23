/*
 * @module api/controllers/event_controller
 * @description 事件管理控制器，提供SSE连接和事件推送管理API
 * @architecture RESTful API架构 - 控制器层
 * @documentReference ai_docs/patch_db_event.md
 * @stateFlow HTTP请求 -> 业务逻辑处理 -> 响应返回
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies devmonitor-service/service, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs ai_docs/requirements.md
 */

package controllers

import (
	"devmonitor-service/service"
	"devmonitor-service/service/event"
	"devmonitor-service/service/models"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// EventController 事件管理控制器
type EventController struct {
	eventService *event.EventService
}

// NewEventController 创建事件控制器实例
func NewEventController() *EventController {
	return &EventController{
		eventService: service.GlobalEventService,
	}
}

// === SSE连接处理 ===

// HandleSSE 处理SSE连接
// @Summary 建立SSE连接
// @Description 前端页面通过此接口建立SSE连接，接收规则触发与工作流执行的实时推送
// @Tags 事件管理
// @Param user_name path string true "用户名"
// @Success 200 {string} string "SSE事件流"
// @Router /sse/{user_name} [get]
func (c *EventController) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "user_name")
	if userName == "" {
		http.Error(w, "用户名不能为空", http.StatusBadRequest)
		return
	}

	// 设置SSE响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	// 生成连接ID
	connectionID := uuid.New().String()
	clientIP := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = forwarded
	}

	// 添加SSE连接
	client := c.eventService.AddSSEConnection(userName, connectionID, clientIP)
	defer c.eventService.RemoveSSEConnection(userName, connectionID)

	// 发送连接成功事件
	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"connection_id\":\"%s\",\"timestamp\":\"%s\"}\n\n",
		connectionID, time.Now().Format(time.RFC3339))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	// 处理事件推送
	for {
		select {
		case event := <-client.Channel:
			fmt.Fprintf(w, "data: %s\n\n", toJSON(event))

			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}

		case <-client.Done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// SendEventRequest 发送事件请求
type SendEventRequest struct {
	UserName  string                 `json:"user_name" example:"admin"`
	EventType string                 `json:"event_type" example:"system_notice"`
	Data      map[string]interface{} `json:"data"`
}

// BroadcastEventRequest 广播事件请求
type BroadcastEventRequest struct {
	EventType string                 `json:"event_type" example:"system_notice"`
	Data      map[string]interface{} `json:"data"`
}

// SendEvent 发送事件给指定用户
// @Summary 发送事件
// @Description 向指定用户发送SSE事件
// @Tags 事件管理
// @Accept json
// @Produce json
// @Param request body SendEventRequest true "发送事件请求"
// @Success 200 {object} APIResponse
// @Router /events/send [post]
func (c *EventController) SendEvent(w http.ResponseWriter, r *http.Request) {
	var req SendEventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if req.UserName == "" {
		render.JSON(w, r, BadRequestResponse("用户名不能为空", nil))
		return
	}
	if req.EventType == "" {
		render.JSON(w, r, BadRequestResponse("事件类型不能为空", nil))
		return
	}

	event := &models.SSEEvent{
		EventType: req.EventType,
		UserName:  req.UserName,
		Data:      req.Data,
		CreatedAt: time.Now(),
	}

	if err := c.eventService.SendEventToUser(req.UserName, event); err != nil {
		render.JSON(w, r, InternalErrorResponse("发送事件失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("事件发送成功", map[string]interface{}{
		"event_id": event.ID,
	}))
}

// BroadcastEvent 广播事件
// @Summary 广播事件
// @Description 向所有在线连接广播SSE事件
// @Tags 事件管理
// @Accept json
// @Produce json
// @Param request body BroadcastEventRequest true "广播事件请求"
// @Success 200 {object} APIResponse
// @Router /events/broadcast [post]
func (c *EventController) BroadcastEvent(w http.ResponseWriter, r *http.Request) {
	var req BroadcastEventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if req.EventType == "" {
		render.JSON(w, r, BadRequestResponse("事件类型不能为空", nil))
		return
	}

	event := &models.SSEEvent{
		EventType: req.EventType,
		Data:      req.Data,
		CreatedAt: time.Now(),
	}

	if err := c.eventService.BroadcastEvent(event); err != nil {
		render.JSON(w, r, InternalErrorResponse("广播事件失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("事件广播成功", map[string]interface{}{
		"event_id": event.ID,
	}))
}

// GetSSEConnectionList 获取SSE连接列表
// @Summary 获取SSE连接列表
// @Description 分页获取SSE连接列表，支持用户名、客户端IP与状态过滤
// @Tags 事件管理
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param user_name query string false "用户名过滤"
// @Param client_ip query string false "客户端IP过滤"
// @Param is_active query bool false "连接状态过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.SSEConnection}
// @Router /events/connections [get]
func (c *EventController) GetSSEConnectionList(w http.ResponseWriter, r *http.Request) {
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

	connections, total, err := c.eventService.GetSSEConnectionList(page, pageSize,
		r.URL.Query().Get("user_name"), r.URL.Query().Get("client_ip"), isActive)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取SSE连接列表失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", connections, total, page, pageSize))
}

// GetEventHistoryList 获取事件历史列表
// @Summary 获取事件历史列表
// @Description 分页获取已推送事件的历史记录，支持用户名、类型与状态过滤
// @Tags 事件管理
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param user_name query string false "用户名过滤"
// @Param event_type query string false "事件类型过滤"
// @Param sent query bool false "发送状态过滤"
// @Param read query bool false "读取状态过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.SSEEvent}
// @Router /events/history [get]
func (c *EventController) GetEventHistoryList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 {
		pageSize = 10
	}

	sent, err := parseBoolParam(r.URL.Query().Get("sent"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("sent参数格式错误", nil))
		return
	}
	read, err := parseBoolParam(r.URL.Query().Get("read"))
	if err != nil {
		render.JSON(w, r, BadRequestResponse("read参数格式错误", nil))
		return
	}

	events, total, err := c.eventService.GetEventHistoryList(page, pageSize,
		r.URL.Query().Get("user_name"), r.URL.Query().Get("event_type"), sent, read)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取事件历史列表失败", err))
		return
	}

	render.JSON(w, r, PagedResponse("查询成功", events, total, page, pageSize))
}

// toJSON 将对象转换为JSON字符串
func toJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
