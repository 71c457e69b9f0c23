/*
 * @module service/decision/registry_test
 * @description 规则注册表加载、排序与启用禁用的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/decision_rule_req.md
 */

package decision

import (
	"testing"

	"devmonitor-service/service/models"
	"devmonitor-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLoad(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	ruleA := factory.CreateDecisionRule()
	ruleB := factory.CreateDecisionRule()
	tdb.DB.Model(&models.DecisionRule{}).Where("rule_id = ?", ruleB.RuleID).Update("enabled", false)

	registry := NewRuleRegistry(tdb.DB)
	total, err := registry.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	compiled, exists := registry.Get(ruleA.RuleID)
	require.True(t, exists)
	assert.Equal(t, ruleA.RuleID, compiled.Rule.RuleID)
	assert.NotNil(t, compiled.Conditions)
	assert.Len(t, compiled.Actions, 1)

	// 禁用规则仍在快照中，但不在启用列表
	_, exists = registry.Get(ruleB.RuleID)
	assert.True(t, exists)
	assert.Len(t, registry.ListEnabled(), 1)

	status := registry.Status()
	assert.Equal(t, 2, status.TotalRules)
	assert.Equal(t, 1, status.EnabledRules)
}

func TestRegistrySkipsInvalidRules(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	valid := factory.CreateDecisionRule()

	// 非法条件树的规则直接入库，绕过服务层校验
	invalid := &models.DecisionRule{
		RuleID:     "rule_invalid",
		Name:       "非法规则",
		Priority:   1,
		Enabled:    true,
		Conditions: models.JSONB{"field": "x", "operator": "like", "value": 1},
		Actions:    models.JSONBArray{{"type": "alert"}},
		CreatedBy:  "test",
	}
	require.NoError(t, tdb.DB.Create(invalid).Error)

	registry := NewRuleRegistry(tdb.DB)
	total, err := registry.Load()
	require.NoError(t, err, "非法规则跳过，不阻断整批加载")
	assert.Equal(t, 1, total)

	_, exists := registry.Get(valid.RuleID)
	assert.True(t, exists)
	_, exists = registry.Get("rule_invalid")
	assert.False(t, exists)
}

func TestRegistryEnabledOrdering(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	factory.CreateDecisionRule(testutil.WithPriority(200))
	high := factory.CreateDecisionRule(testutil.WithPriority(10))
	factory.CreateDecisionRule(testutil.WithPriority(100))

	registry := NewRuleRegistry(tdb.DB)
	_, err := registry.Load()
	require.NoError(t, err)

	enabled := registry.ListEnabled()
	require.Len(t, enabled, 3)
	assert.Equal(t, high.RuleID, enabled[0].Rule.RuleID, "priority数值小的排在前面")
	assert.Equal(t, 100, enabled[1].Rule.Priority)
	assert.Equal(t, 200, enabled[2].Rule.Priority)
}

func TestRegistrySamePriorityOrdering(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	for _, ruleID := range []string{"rule_c", "rule_a", "rule_b"} {
		rule := &models.DecisionRule{
			RuleID:     ruleID,
			Name:       "规则" + ruleID,
			Priority:   100,
			Enabled:    true,
			Conditions: models.JSONB{"field": "x", "operator": "eq", "value": 1},
			Actions:    models.JSONBArray{{"type": "alert"}},
			CreatedBy:  "test",
		}
		require.NoError(t, tdb.DB.Create(rule).Error)
	}

	registry := NewRuleRegistry(tdb.DB)
	_, err := registry.Load()
	require.NoError(t, err)

	enabled := registry.ListEnabled()
	require.Len(t, enabled, 3)
	assert.Equal(t, "rule_a", enabled[0].Rule.RuleID, "同优先级按rule_id字典序")
	assert.Equal(t, "rule_b", enabled[1].Rule.RuleID)
	assert.Equal(t, "rule_c", enabled[2].Rule.RuleID)
}

func TestRegistryEnableDisable(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	rule := factory.CreateDecisionRule()
	registry := NewRuleRegistry(tdb.DB)
	_, err := registry.Load()
	require.NoError(t, err)

	require.NoError(t, registry.Disable(rule.RuleID))
	assert.Empty(t, registry.ListEnabled())

	var stored models.DecisionRule
	require.NoError(t, tdb.DB.Where("rule_id = ?", rule.RuleID).First(&stored).Error)
	assert.False(t, stored.Enabled, "禁用状态落库")

	require.NoError(t, registry.Enable(rule.RuleID))
	assert.Len(t, registry.ListEnabled(), 1)

	assert.Error(t, registry.Enable("rule_missing"), "不存在的规则应报错")
}

func TestRegistryReloadReplacesSnapshot(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)

	registry := NewRuleRegistry(tdb.DB)
	_, err := registry.Load()
	require.NoError(t, err)
	assert.Empty(t, registry.ListEnabled())

	snapshotBefore := registry.ListEnabled()
	factory.CreateDecisionRule()
	total, err := registry.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// 旧快照不受重载影响
	assert.Empty(t, snapshotBefore)
	assert.Len(t, registry.ListEnabled(), 1)
}

func TestCompileRule(t *testing.T) {
	rule := &models.DecisionRule{
		RuleID:     "rule_compile",
		Conditions: models.JSONB{"field": "predicted_value", "operator": "gt", "value": 80},
		Actions:    models.JSONBArray{{"type": "alert", "level": "warning"}},
	}

	compiled, err := CompileRule(rule)
	require.NoError(t, err)
	assert.Equal(t, "predicted_value", compiled.Conditions.Field)
	require.Len(t, compiled.Actions, 1)

	rule.Actions = models.JSONBArray{}
	_, err = CompileRule(rule)
	assert.Error(t, err, "空动作列表编译失败")
}
