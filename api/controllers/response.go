/*
 * @module api/controllers/response
 * @description 统一API响应结构与构造函数，所有控制器共用
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/requirements.md
 * @stateFlow 无状态响应构造
 * @rules status=0表示成功，非0为HTTP语义错误码；错误详情放入data
 * @dependencies net/http
 * @refs ai_docs/model.md
 */

package controllers

import "net/http"

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Page   int         `json:"page" example:"1"`
	Size   int         `json:"size" example:"10"`
}

// SuccessResponse 构造成功响应
func SuccessResponse(msg string, data interface{}) *APIResponse {
	if msg == "" {
		msg = "操作成功"
	}
	return &APIResponse{Status: 0, Msg: msg, Data: data}
}

// PagedResponse 构造分页成功响应
func PagedResponse(msg string, data interface{}, total int64, page, size int) *PaginatedResponse {
	if msg == "" {
		msg = "操作成功"
	}
	return &PaginatedResponse{Status: 0, Msg: msg, Data: data, Total: total, Page: page, Size: size}
}

// ErrorResponse 构造指定状态码的错误响应
func ErrorResponse(status int, msg string, err error) *APIResponse {
	resp := &APIResponse{Status: status, Msg: msg}
	if err != nil {
		resp.Data = map[string]string{"error": err.Error()}
	}
	return resp
}

// BadRequestResponse 构造400错误响应
func BadRequestResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusBadRequest, msg, err)
}

// UnauthorizedResponse 构造401错误响应
func UnauthorizedResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusUnauthorized, msg, err)
}

// NotFoundResponse 构造404错误响应
func NotFoundResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusNotFound, msg, err)
}

// ConflictResponse 构造409错误响应
func ConflictResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusConflict, msg, err)
}

// InternalErrorResponse 构造500错误响应
func InternalErrorResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusInternalServerError, msg, err)
}
