/*
 * @module service/workflow/script
 * @description 节点脚本执行器，基于Yaegi解释器运行transform/filter节点的Go脚本
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/workflow_engine_req.md
 * @stateFlow 脚本按内容哈希编译缓存 -> 注入运行上下文变量 -> 调用Run函数取结果
 * @rules transform脚本入口是 Run(vars) (interface{}, error)，filter脚本入口是 Run(vars) (bool, error)；
 *        同一脚本同一签名只编译一次，缓存按哈希命中
 * @dependencies github.com/traefik/yaegi
 * @refs service/workflow/node_executors.go
 */

package workflow

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ScriptExecutor 脚本执行器接口
type ScriptExecutor interface {
	Execute(ctx context.Context, script string, vars map[string]interface{}) (interface{}, error)
	ExecuteBool(ctx context.Context, script string, vars map[string]interface{}) (bool, error)
}

// YaegiScriptExecutor Yaegi脚本执行器，带编译缓存
type YaegiScriptExecutor struct {
	mu    sync.RWMutex
	cache map[string]*compiledScript
}

type compiledScript struct {
	fn       func(map[string]interface{}) (interface{}, error)
	boolFn   func(map[string]interface{}) (bool, error)
	compiled time.Time
	hash     string
}

// NewYaegiScriptExecutor 创建脚本执行器
func NewYaegiScriptExecutor() *YaegiScriptExecutor {
	return &YaegiScriptExecutor{
		cache: make(map[string]*compiledScript),
	}
}

// Execute 执行脚本，vars是当前运行上下文的变量快照
func (y *YaegiScriptExecutor) Execute(ctx context.Context, script string, vars map[string]interface{}) (interface{}, error) {
	compiled, err := y.lookup(script, false)
	if err != nil {
		return nil, err
	}
	return y.run(ctx, func() (interface{}, error) {
		return compiled.fn(vars)
	})
}

// ExecuteBool 执行返回布尔结果的脚本。filter节点的判定表达式走这个入口：
// Yaegi对 interface{} 返回槽写入比较表达式结果时会panic（reflect.Value.SetBool），
// 类型化的bool返回签名绕开该问题。
func (y *YaegiScriptExecutor) ExecuteBool(ctx context.Context, script string, vars map[string]interface{}) (bool, error) {
	compiled, err := y.lookup(script, true)
	if err != nil {
		return false, err
	}
	result, err := y.run(ctx, func() (interface{}, error) {
		passed, err := compiled.boolFn(vars)
		return passed, err
	})
	if err != nil {
		return false, err
	}
	passed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("脚本返回值不是布尔类型: %v", result)
	}
	return passed, nil
}

// lookup 按内容哈希取编译缓存，未命中时编译并缓存。
// 同一脚本的interface{}签名与bool签名是两个独立的缓存条目。
func (y *YaegiScriptExecutor) lookup(script string, wantBool bool) (*compiledScript, error) {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(script)))
	key := hash
	if wantBool {
		key = "bool:" + hash
	}

	y.mu.RLock()
	compiled, ok := y.cache[key]
	y.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := y.compile(script, hash, wantBool)
	if err != nil {
		return nil, fmt.Errorf("脚本编译失败: %v", err)
	}
	y.mu.Lock()
	y.cache[key] = compiled
	y.mu.Unlock()
	return compiled, nil
}

// run 在独立协程里调用脚本，支持取消并把panic转为错误
func (y *YaegiScriptExecutor) run(ctx context.Context, call func() (interface{}, error)) (result interface{}, err error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// 脚本崩溃不能带垮执行引擎
		defer func() {
			if r := recover(); r != nil {
				result = nil
				err = fmt.Errorf("脚本执行panic: %v", r)
			}
		}()
		result, err = call()
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("脚本执行被取消: %w", ctx.Err())
	case <-done:
		return result, err
	}
}

// compile 包装并编译脚本，入口必须是Run函数
func (y *YaegiScriptExecutor) compile(script, hash string, wantBool bool) (*compiledScript, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	returnType := "interface{}"
	if wantBool {
		returnType = "bool"
	}
	wrapped := fmt.Sprintf(`
package main

import (
	"fmt"
	"time"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// 必须提供一个 Run 函数作为入口，vars是工作流变量表快照
func Run(vars map[string]interface{}) (%s, error) {
%s
}
`, returnType, script)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("脚本编译失败: %w", err)
	}

	v, err := i.Eval("Run")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Run 函数: %w", err)
	}

	compiled := &compiledScript{compiled: time.Now(), hash: hash}
	if wantBool {
		boolFn, ok := v.Interface().(func(map[string]interface{}) (bool, error))
		if !ok {
			return nil, fmt.Errorf("Run 函数签名必须是 func(map[string]interface{}) (bool, error)")
		}
		compiled.boolFn = boolFn
	} else {
		fn, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
		if !ok {
			return nil, fmt.Errorf("Run 函数签名必须是 func(map[string]interface{}) (interface{}, error)")
		}
		compiled.fn = fn
	}
	return compiled, nil
}

// CacheSize 已编译脚本数量
func (y *YaegiScriptExecutor) CacheSize() int {
	y.mu.RLock()
	defer y.mu.RUnlock()
	return len(y.cache)
}
