/*
 * @module service/decision/cooldown
 * @description 冷却时间跟踪器，按rule_id以CAS语义记录最近触发时间
 * @architecture 显式组件 - 注入决策运行时而非环境态
 * @documentReference ai_docs/decision_rule_req.md
 * @stateFlow 规则命中 -> TryAcquire原子检查并占用冷却窗口 -> 窗口期内的事件只评估不派发
 * @rules 两个并发事件不会同时通过同一规则的冷却检查
 * @dependencies sync
 * @refs service/decision/runtime.go
 */

package decision

import (
	"sync"
	"time"
)

// CooldownTracker 冷却时间跟踪器
type CooldownTracker struct {
	lastTrigger sync.Map // rule_id -> *cooldownEntry
}

type cooldownEntry struct {
	mu       sync.Mutex
	lastTime time.Time
}

// NewCooldownTracker 创建冷却时间跟踪器
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{}
}

// TryAcquire 原子地检查并占用规则的冷却窗口。
// 不在窗口期内时记录本次触发时间并返回true；窗口期内返回false。
// window为0表示无冷却，总是允许。
func (t *CooldownTracker) TryAcquire(ruleID string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return true
	}

	value, _ := t.lastTrigger.LoadOrStore(ruleID, &cooldownEntry{})
	entry := value.(*cooldownEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.lastTime.IsZero() && now.Sub(entry.lastTime) < window {
		return false
	}
	entry.lastTime = now
	return true
}

// InCooldown 只读检查规则是否处于冷却窗口期
func (t *CooldownTracker) InCooldown(ruleID string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	value, exists := t.lastTrigger.Load(ruleID)
	if !exists {
		return false
	}
	entry := value.(*cooldownEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return !entry.lastTime.IsZero() && now.Sub(entry.lastTime) < window
}

// Reset 清除规则的冷却状态，规则删除或禁用时调用
func (t *CooldownTracker) Reset(ruleID string) {
	t.lastTrigger.Delete(ruleID)
}
