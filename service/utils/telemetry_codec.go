/**
 * @module telemetry_codec
 * @description 遥测报文解码工具，兼容老设备的GBK编码载荷并统一转为UTF-8 JSON
 * @architecture 工具函数模式，提供静态转换方法集合
 * @documentReference 参考 ai_docs/telemetry_intake_req.md
 * @stateFlow 无状态转换：原始字节 -> 编码识别 -> UTF-8 JSON对象
 * @rules
 *   - 优先按UTF-8解析，失败且字节流不是合法UTF-8时尝试GBK转码
 *   - 解码失败返回错误，不得吞掉原始报文信息
 * @dependencies
 *   - golang.org/x/text: GBK/GB2312编码转换
 *   - encoding/json: JSON解析
 * @refs
 *   - service/intake/*: 遥测事件接入
 */

package utils

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// DecodeTelemetryPayload 解码遥测报文为JSON对象，GBK编码的老设备报文自动转码
func DecodeTelemetryPayload(payload []byte) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("遥测报文为空")
	}

	data := payload
	if !utf8.Valid(payload) {
		decoded, err := GBKToUTF8(payload)
		if err != nil {
			return nil, fmt.Errorf("GBK转码失败: %w", err)
		}
		data = decoded
	}

	var facts map[string]interface{}
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("遥测报文不是合法JSON: %w", err)
	}
	return facts, nil
}

// GBKToUTF8 GBK/GB2312字节流转UTF-8
func GBKToUTF8(data []byte) ([]byte, error) {
	decoder := simplifiedchinese.GBK.NewDecoder()
	result, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UTF8ToGBK UTF-8字节流转GBK，用于向老设备下发指令
func UTF8ToGBK(data []byte) ([]byte, error) {
	encoder := simplifiedchinese.GBK.NewEncoder()
	result, _, err := transform.Bytes(encoder, data)
	if err != nil {
		return nil, err
	}
	return result, nil
}
