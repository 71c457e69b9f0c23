/*
 * @module service/workflow/script_test
 * @description Yaegi脚本执行器的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/workflow_engine_req.md
 */

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptExecute(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	result, err := executor.Execute(context.Background(), `
	count := vars["count"].(int)
	return count * 2, nil`, map[string]interface{}{"count": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestScriptExecuteBool(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	// 直接返回比较表达式是filter脚本的主要形态
	script := `return vars["temperature"].(float64) > 80, nil`
	passed, err := executor.ExecuteBool(context.Background(), script, map[string]interface{}{"temperature": 95.0})
	require.NoError(t, err)
	assert.True(t, passed)

	passed, err = executor.ExecuteBool(context.Background(), script, map[string]interface{}{"temperature": 20.0})
	require.NoError(t, err)
	assert.False(t, passed)

	// 返回值不是布尔时编译失败
	_, err = executor.ExecuteBool(context.Background(), `return "not-a-bool", nil`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "脚本编译失败")
}

func TestScriptBoolCacheSeparate(t *testing.T) {
	executor := NewYaegiScriptExecutor()
	script := `return len(vars) > 0, nil`

	_, err := executor.ExecuteBool(context.Background(), script, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, executor.CacheSize())

	// 同一脚本的bool签名命中已有缓存条目
	_, err = executor.ExecuteBool(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, executor.CacheSize())
}

func TestScriptCompileCache(t *testing.T) {
	executor := NewYaegiScriptExecutor()
	script := `return len(vars), nil`

	_, err := executor.Execute(context.Background(), script, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, executor.CacheSize())

	// 相同脚本命中缓存，不重复编译
	result, err := executor.Execute(context.Background(), script, map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result)
	assert.Equal(t, 1, executor.CacheSize())

	_, err = executor.Execute(context.Background(), `return "other", nil`, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, executor.CacheSize())
}

func TestScriptCompileError(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	_, err := executor.Execute(context.Background(), `return }{ garbage`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "脚本编译失败")
	assert.Zero(t, executor.CacheSize(), "编译失败不进缓存")
}

func TestScriptRuntimeError(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	// 脚本返回业务错误
	_, err := executor.Execute(context.Background(), `
	return nil, fmt.Errorf("数据不完整")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "数据不完整")
}

func TestScriptPanicRecovered(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	_, err := executor.Execute(context.Background(), `
	value := vars["missing"].(string)
	return value, nil`, map[string]interface{}{})
	require.Error(t, err, "脚本崩溃不能带垮调用方")
}

func TestScriptUsesInjectedStdlib(t *testing.T) {
	executor := NewYaegiScriptExecutor()

	result, err := executor.Execute(context.Background(), `
	return strings.ToUpper(vars["code"].(string)), nil`, map[string]interface{}{"code": "wf_pump"})
	require.NoError(t, err)
	assert.Equal(t, "WF_PUMP", result)
}
