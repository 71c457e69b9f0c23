/*
 * @module api/controllers/response_test
 * @description 统一响应结构单元测试
 * @architecture 测试层
 * @documentReference ai_docs/requirements.md
 */

package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessResponse(t *testing.T) {
	resp := SuccessResponse("", map[string]interface{}{"id": "abc"})
	assert.Equal(t, 0, resp.Status)
	assert.Equal(t, "操作成功", resp.Msg)

	resp = SuccessResponse("规则创建成功", nil)
	assert.Equal(t, "规则创建成功", resp.Msg)
	assert.Nil(t, resp.Data)
}

func TestPagedResponse(t *testing.T) {
	resp := PagedResponse("", []string{"a", "b"}, 42, 2, 10)
	assert.Equal(t, 0, resp.Status)
	assert.Equal(t, int64(42), resp.Total)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 10, resp.Size)
}

func TestErrorResponses(t *testing.T) {
	cases := []struct {
		name   string
		build  func(msg string, err error) *APIResponse
		status int
	}{
		{"参数错误", BadRequestResponse, http.StatusBadRequest},
		{"未授权", UnauthorizedResponse, http.StatusUnauthorized},
		{"未找到", NotFoundResponse, http.StatusNotFound},
		{"冲突", ConflictResponse, http.StatusConflict},
		{"内部错误", InternalErrorResponse, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := tc.build(tc.name, errors.New("boom"))
			assert.Equal(t, tc.status, resp.Status)
			assert.Equal(t, tc.name, resp.Msg)
			require.IsType(t, map[string]string{}, resp.Data)
			assert.Equal(t, "boom", resp.Data.(map[string]string)["error"])
		})
	}
}

func TestErrorResponseWithoutCause(t *testing.T) {
	resp := ErrorResponse(http.StatusBadRequest, "参数缺失", nil)
	assert.Nil(t, resp.Data)

	// data为空时序列化应省略该字段
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}
