/*
 * @module service/rate_limiter/redis_rate_limiter_test
 * @description Redis限流器规则构造与排序的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/rate_limit_design.md
 */

package rate_limiter

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortRulesByPriority(t *testing.T) {
	limiter := &RedisRateLimiter{}

	rules := []RateLimitRule{
		{Type: LimitTypeGlobal, TimeWindow: 60, MaxRequests: 600},
		{Type: LimitTypeWorkflow, TargetID: "wf-1", TimeWindow: 60, MaxRequests: 60},
	}

	sorted := limiter.sortRulesByPriority(rules)
	assert.Equal(t, LimitTypeWorkflow, sorted[0].Type, "工作流级规则应优先检查")
	assert.Equal(t, LimitTypeGlobal, sorted[1].Type)

	// 原切片不被修改
	assert.Equal(t, LimitTypeGlobal, rules[0].Type)
}

func TestBuildRateLimitKey(t *testing.T) {
	limiter := &RedisRateLimiter{}

	globalKey := limiter.buildRateLimitKey(LimitTypeGlobal, "", 60)
	assert.True(t, strings.HasPrefix(globalKey, "webhook:rate_limit:global:"))

	workflowKey := limiter.buildRateLimitKey(LimitTypeWorkflow, "wf-1", 60)
	assert.Contains(t, workflowKey, "workflow:wf-1")
	assert.NotEqual(t, globalKey, workflowKey)
}

func TestWebhookRulesDefaults(t *testing.T) {
	os.Unsetenv("WEBHOOK_RATE_LIMIT")
	os.Unsetenv("WEBHOOK_RATE_WINDOW")
	os.Unsetenv("WEBHOOK_GLOBAL_RATE_LIMIT")

	rules := WebhookRules("wf-1")
	assert.Len(t, rules, 2)
	assert.Equal(t, LimitTypeWorkflow, rules[0].Type)
	assert.Equal(t, "wf-1", rules[0].TargetID)
	assert.Equal(t, 60, rules[0].MaxRequests)
	assert.Equal(t, LimitTypeGlobal, rules[1].Type)
	assert.Equal(t, 600, rules[1].MaxRequests)
}

func TestWebhookRulesFromEnv(t *testing.T) {
	os.Setenv("WEBHOOK_RATE_LIMIT", "5")
	os.Setenv("WEBHOOK_RATE_WINDOW", "10")
	defer os.Unsetenv("WEBHOOK_RATE_LIMIT")
	defer os.Unsetenv("WEBHOOK_RATE_WINDOW")

	rules := WebhookRules("wf-2")
	assert.Equal(t, 5, rules[0].MaxRequests)
	assert.Equal(t, 10, rules[0].TimeWindow)
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	os.Setenv("WEBHOOK_RATE_LIMIT", "not-a-number")
	defer os.Unsetenv("WEBHOOK_RATE_LIMIT")

	assert.Equal(t, 60, envInt("WEBHOOK_RATE_LIMIT", 60))
}
