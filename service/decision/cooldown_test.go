/*
 * @module service/decision/cooldown_test
 * @description 冷却时间跟踪器的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/decision_rule_req.md
 */

package decision

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownTryAcquire(t *testing.T) {
	tracker := NewCooldownTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	assert.True(t, tracker.TryAcquire("rule-1", window, base), "首次触发应通过")
	assert.False(t, tracker.TryAcquire("rule-1", window, base.Add(30*time.Second)), "窗口期内应拒绝")
	assert.True(t, tracker.TryAcquire("rule-1", window, base.Add(61*time.Second)), "窗口过期后应通过")
}

func TestCooldownZeroWindow(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Now()

	assert.True(t, tracker.TryAcquire("rule-1", 0, now))
	assert.True(t, tracker.TryAcquire("rule-1", 0, now))
	assert.False(t, tracker.InCooldown("rule-1", 0, now))
}

func TestCooldownPerRule(t *testing.T) {
	tracker := NewCooldownTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	assert.True(t, tracker.TryAcquire("rule-1", window, base))
	assert.True(t, tracker.TryAcquire("rule-2", window, base), "不同规则的冷却互不影响")
}

func TestCooldownInCooldown(t *testing.T) {
	tracker := NewCooldownTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	assert.False(t, tracker.InCooldown("rule-1", window, base), "未触发过的规则不在冷却期")

	tracker.TryAcquire("rule-1", window, base)
	assert.True(t, tracker.InCooldown("rule-1", window, base.Add(30*time.Second)))
	assert.False(t, tracker.InCooldown("rule-1", window, base.Add(61*time.Second)))
}

func TestCooldownReset(t *testing.T) {
	tracker := NewCooldownTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	tracker.TryAcquire("rule-1", window, base)
	tracker.Reset("rule-1")
	assert.True(t, tracker.TryAcquire("rule-1", window, base.Add(time.Second)), "重置后应立即可触发")
}

func TestCooldownConcurrentAcquire(t *testing.T) {
	tracker := NewCooldownTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	var wg sync.WaitGroup
	var acquired int32
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.TryAcquire("rule-1", window, base) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired, "并发触发恰好一个通过冷却检查")
}
