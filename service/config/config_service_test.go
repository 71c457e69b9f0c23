/*
 * @module service/config/config_service_test
 * @description 配置服务的单元测试：缓存/数据库/环境变量三级查找与保留天数回落
 * @architecture 测试层
 * @documentReference ai_docs/requirements.md
 */

package config

import (
	"os"
	"testing"

	"devmonitor-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfigService(t *testing.T) (*ConfigService, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return NewConfigService(tdb.DB), tdb
}

func TestSetAndGetSystemConfig(t *testing.T) {
	svc, _ := newConfigService(t)

	require.NoError(t, svc.SetSystemConfig("decision.audit_log_retention_days", "45", "保留45天"))

	value, err := svc.GetSystemConfig("decision.audit_log_retention_days")
	require.NoError(t, err)
	assert.Equal(t, "45", value)

	// 更新覆盖旧值并刷新缓存
	require.NoError(t, svc.SetSystemConfig("decision.audit_log_retention_days", "60", ""))
	value, err = svc.GetSystemConfig("decision.audit_log_retention_days")
	require.NoError(t, err)
	assert.Equal(t, "60", value)
}

func TestGetSystemConfigCacheHit(t *testing.T) {
	svc, tdb := newConfigService(t)

	require.NoError(t, svc.SetSystemConfig("workflow.execution_retention_days", "15", ""))

	// 直接改库绕过缓存，读取仍命中缓存中的旧值
	require.NoError(t, tdb.DB.Exec("UPDATE t_sys_config SET value = '99'").Error)
	value, err := svc.GetSystemConfig("workflow.execution_retention_days")
	require.NoError(t, err)
	assert.Equal(t, "15", value)

	svc.ClearCache()
	value, err = svc.GetSystemConfig("workflow.execution_retention_days")
	require.NoError(t, err)
	assert.Equal(t, "99", value, "清缓存后回源数据库")
}

func TestGetSystemConfigEnvFallback(t *testing.T) {
	svc, _ := newConfigService(t)

	os.Setenv("EVENT_SSE_EVENT_RETENTION_DAYS", "3")
	defer os.Unsetenv("EVENT_SSE_EVENT_RETENTION_DAYS")

	value, err := svc.GetSystemConfig("event.sse_event_retention_days")
	require.NoError(t, err)
	assert.Equal(t, "3", value)

	_, err = svc.GetSystemConfig("unknown.key")
	assert.Error(t, err)
}

func TestRetentionDaysDefaults(t *testing.T) {
	svc, _ := newConfigService(t)

	assert.Equal(t, DefaultAuditLogRetentionDays, svc.GetAuditLogRetentionDays())
	assert.Equal(t, DefaultExecutionRetentionDays, svc.GetExecutionRetentionDays())
	assert.Equal(t, DefaultSSEEventRetentionDays, svc.GetSSEEventRetentionDays())
}

func TestRetentionDaysInvalidFallsBack(t *testing.T) {
	svc, _ := newConfigService(t)

	require.NoError(t, svc.SetSystemConfig(ConfigKeyAuditLogRetentionDays, "not-a-number", ""))
	assert.Equal(t, DefaultAuditLogRetentionDays, svc.GetAuditLogRetentionDays())

	svc.ClearCache()
	require.NoError(t, svc.SetSystemConfig(ConfigKeyAuditLogRetentionDays, "-5", ""))
	assert.Equal(t, DefaultAuditLogRetentionDays, svc.GetAuditLogRetentionDays(), "非正数回落默认值")

	require.NoError(t, svc.SetSystemConfig(ConfigKeyAuditLogRetentionDays, "120", ""))
	assert.Equal(t, 120, svc.GetAuditLogRetentionDays())
}

func TestGetAllSystemConfigs(t *testing.T) {
	svc, _ := newConfigService(t)

	require.NoError(t, svc.SetSystemConfig(ConfigKeyAuditLogRetentionDays, "45", "自定义"))

	items, err := svc.GetAllSystemConfigs()
	require.NoError(t, err)
	require.Len(t, items, 3, "已知键不在库中时展示默认值")

	byKey := make(map[string]string, len(items))
	for _, item := range items {
		byKey[item.Key] = item.Value
	}
	assert.Equal(t, "45", byKey[ConfigKeyAuditLogRetentionDays])
	assert.Equal(t, "30", byKey[ConfigKeyExecutionRetentionDays])
	assert.Equal(t, "7", byKey[ConfigKeySSEEventRetentionDays])
}
