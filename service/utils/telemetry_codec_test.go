/*
 * @module service/utils/telemetry_codec_test
 * @description 遥测报文解码工具的单元测试
 * @architecture 测试层
 * @documentReference ai_docs/telemetry_intake_req.md
 */

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTelemetryPayloadUTF8(t *testing.T) {
	payload := []byte(`{"asset_id":"pump-7","predicted_value":85.5,"备注":"温度偏高"}`)

	facts, err := DecodeTelemetryPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "pump-7", facts["asset_id"])
	assert.Equal(t, 85.5, facts["predicted_value"])
	assert.Equal(t, "温度偏高", facts["备注"])
}

func TestDecodeTelemetryPayloadGBK(t *testing.T) {
	// 老设备以GBK编码上报中文字段
	utf8Payload := []byte(`{"设备":"机床","状态":"运行中"}`)
	gbkPayload, err := UTF8ToGBK(utf8Payload)
	require.NoError(t, err)
	require.False(t, string(gbkPayload) == string(utf8Payload))

	facts, err := DecodeTelemetryPayload(gbkPayload)
	require.NoError(t, err)
	assert.Equal(t, "机床", facts["设备"])
	assert.Equal(t, "运行中", facts["状态"])
}

func TestDecodeTelemetryPayloadErrors(t *testing.T) {
	_, err := DecodeTelemetryPayload(nil)
	assert.Error(t, err, "空报文")

	_, err = DecodeTelemetryPayload([]byte("not json at all"))
	assert.Error(t, err)

	_, err = DecodeTelemetryPayload([]byte(`["array","not","object"]`))
	assert.Error(t, err, "顶层必须是对象")
}

func TestGBKRoundTrip(t *testing.T) {
	original := []byte("预测值超限：85.5℃")

	gbk, err := UTF8ToGBK(original)
	require.NoError(t, err)
	back, err := GBKToUTF8(gbk)
	require.NoError(t, err)
	assert.Equal(t, original, back)
}
