/*
 * @module service/decision/service_test
 * @description 决策规则管理服务的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/decision_rule_req.md
 */

package decision

import (
	"context"
	"testing"
	"time"

	"devmonitor-service/service/meta"
	"devmonitor-service/service/models"
	"devmonitor-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	registry := NewRuleRegistry(tdb.DB)
	cooldown := NewCooldownTracker()
	dispatcher := NewActionDispatcher(&fakeSender{actionType: meta.ActionTypeAlert})
	runtime := NewRuntime(tdb.DB, registry, dispatcher, cooldown)
	return NewService(tdb.DB, registry, runtime, cooldown), tdb
}

func validRule(ruleID string) *models.DecisionRule {
	return &models.DecisionRule{
		RuleID:   ruleID,
		Name:     "温度预测超限告警",
		Priority: 100,
		Enabled:  true,
		Conditions: models.JSONB{
			"type": "AND",
			"rules": []interface{}{
				map[string]interface{}{"field": "predicted_value", "operator": "gt", "value": 80},
			},
		},
		Actions: models.JSONBArray{
			{"type": "alert", "level": "warning", "message": "预测值超限"},
		},
		CreatedBy: "test",
	}
}

func TestCreateRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateRule(ctx, validRule("rule_temp_high")))

	stored, err := svc.GetRuleByRuleID(ctx, "rule_temp_high")
	require.NoError(t, err)
	assert.Equal(t, "温度预测超限告警", stored.Name)

	// 创建后注册表立即生效
	_, exists := svc.Registry().Get("rule_temp_high")
	assert.True(t, exists)
}

func TestCreateRuleKeepsZeroValues(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// 显式的enabled=false和priority=0不能被数据库默认值吞掉
	rule := validRule("rule_disabled")
	rule.Enabled = false
	rule.Priority = 0
	require.NoError(t, svc.CreateRule(ctx, rule))

	stored, err := svc.GetRuleByRuleID(ctx, "rule_disabled")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, 0, stored.Priority)
}

func TestCreateRuleDuplicateRuleID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateRule(ctx, validRule("rule_dup")))
	err := svc.CreateRule(ctx, validRule("rule_dup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "规则标识已存在")
}

func TestCreateRuleInvalidDefinition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	badConditions := validRule("rule_bad_cond")
	badConditions.Conditions = models.JSONB{"field": "x", "operator": "like", "value": 1}
	assert.Error(t, svc.CreateRule(ctx, badConditions))

	badActions := validRule("rule_bad_act")
	badActions.Actions = models.JSONBArray{}
	assert.Error(t, svc.CreateRule(ctx, badActions))
}

func TestGetRuleList(t *testing.T) {
	svc, tdb := newTestService(t)
	factory := testutil.NewTestDataFactory(tdb.DB)
	ctx := context.Background()

	factory.CreateDecisionRule(testutil.WithPriority(10))
	factory.CreateDecisionRule(testutil.WithPriority(20))
	disabled := factory.CreateDecisionRule(testutil.WithPriority(30))
	tdb.DB.Model(&models.DecisionRule{}).Where("rule_id = ?", disabled.RuleID).Update("enabled", false)

	rules, total, err := svc.GetRuleList(ctx, 1, 10, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rules, 3)
	assert.Equal(t, 10, rules[0].Priority, "优先级升序")

	enabledOnly := true
	rules, total, err = svc.GetRuleList(ctx, 1, 10, "", "", &enabledOnly)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	rules, total, err = svc.GetRuleList(ctx, 1, 10, "", disabled.RuleID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, disabled.RuleID, rules[0].RuleID)

	rules, _, err = svc.GetRuleList(ctx, 2, 2, "", "", nil)
	require.NoError(t, err)
	assert.Len(t, rules, 1, "分页生效")
}

func TestUpdateRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateRule(ctx, validRule("rule_update")))
	require.NoError(t, svc.UpdateRule(ctx, "rule_update", map[string]interface{}{
		"name":     "更新后的规则",
		"priority": 5,
	}))

	stored, err := svc.GetRuleByRuleID(ctx, "rule_update")
	require.NoError(t, err)
	assert.Equal(t, "更新后的规则", stored.Name)
	assert.Equal(t, 5, stored.Priority)

	err = svc.UpdateRule(ctx, "rule_update", map[string]interface{}{
		"conditions": models.JSONB{"field": "x", "operator": "??", "value": 1},
	})
	assert.Error(t, err, "非法条件树拒绝更新")

	err = svc.UpdateRule(ctx, "rule_update", map[string]interface{}{"name": ""})
	assert.Error(t, err, "名称不能清空")

	err = svc.UpdateRule(ctx, "rule_update", map[string]interface{}{"cooldown_seconds": -1})
	assert.Error(t, err, "冷却时间不能改成负数")

	err = svc.UpdateRule(ctx, "rule_missing", map[string]interface{}{"name": "x"})
	assert.Error(t, err)
}

func TestDeleteRuleKeepsAuditLogs(t *testing.T) {
	svc, tdb := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateRule(ctx, validRule("rule_del")))

	auditLog := &models.DecisionAuditLog{
		RuleID:      "rule_del",
		RuleName:    "温度预测超限告警",
		Result:      meta.AuditResultSuccess,
		TriggerTime: time.Now(),
	}
	require.NoError(t, tdb.DB.Create(auditLog).Error)

	require.NoError(t, svc.DeleteRule(ctx, "rule_del"))

	_, err := svc.GetRuleByRuleID(ctx, "rule_del")
	assert.Error(t, err)
	_, exists := svc.Registry().Get("rule_del")
	assert.False(t, exists)

	var count int64
	tdb.DB.Model(&models.DecisionAuditLog{}).Where("rule_id = ?", "rule_del").Count(&count)
	assert.Equal(t, int64(1), count, "规则删除不级联删除审计历史")

	assert.Error(t, svc.DeleteRule(ctx, "rule_del"), "重复删除报错")
}

func TestValidateRule(t *testing.T) {
	svc, _ := newTestService(t)

	assert.Empty(t, svc.ValidateRule(validRule("rule_ok")))

	bad := validRule("rule_bad")
	bad.Name = ""
	bad.Conditions = models.JSONB{"operator": "eq", "value": 1}
	bad.Actions = models.JSONBArray{}
	errs := svc.ValidateRule(bad)
	assert.GreaterOrEqual(t, len(errs), 3, "全部校验错误一次性返回")
}

func TestServiceTestRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateRule(ctx, validRule("rule_test")))

	result, err := svc.TestRule(ctx, "rule_test", map[string]interface{}{"predicted_value": 90})
	require.NoError(t, err)
	assert.True(t, result.Matched)

	_, err = svc.TestRule(ctx, "rule_missing", nil)
	assert.Error(t, err)

	draft := validRule("rule_draft")
	result, err = svc.TestRuleDefinition(draft, map[string]interface{}{"predicted_value": 10})
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestGetAuditLogsAndStatistics(t *testing.T) {
	svc, tdb := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.DecisionAuditLog{
		{RuleID: "rule_a", RuleName: "规则A", Result: meta.AuditResultSuccess, TriggerTime: base, AssetID: "asset-1"},
		{RuleID: "rule_a", RuleName: "规则A", Result: meta.AuditResultFailed, TriggerTime: base.Add(time.Hour), AssetID: "asset-2"},
		{RuleID: "rule_b", RuleName: "规则B", Result: meta.AuditResultPartial, TriggerTime: base.Add(2 * time.Hour), AssetID: "asset-1"},
	}
	for i := range rows {
		require.NoError(t, tdb.DB.Create(&rows[i]).Error)
	}

	logs, total, err := svc.GetAuditLogs(ctx, 1, 10, "", "", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "rule_b", logs[0].RuleID, "按触发时间倒序")

	_, total, err = svc.GetAuditLogs(ctx, 1, 10, "rule_a", "", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, total, err = svc.GetAuditLogs(ctx, 1, 10, "", "asset-1", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	since := base.Add(30 * time.Minute)
	_, total, err = svc.GetAuditLogs(ctx, 1, 10, "", "", "", &since, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	stats, err := svc.GetAuditStatistics(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTriggers)
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.PartialCount)
	assert.Equal(t, int64(1), stats.FailedCount)
	require.NotEmpty(t, stats.TriggersByRule)
	assert.Equal(t, "rule_a", stats.TriggersByRule[0].RuleID)
	assert.Equal(t, int64(2), stats.TriggersByRule[0].Count)
}

func TestReloadRules(t *testing.T) {
	svc, tdb := newTestService(t)
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateDecisionRule()
	factory.CreateDecisionRule()

	count, err := svc.ReloadRules()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
