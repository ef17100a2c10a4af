package parser

import (
	"encoding/json"
	"fmt"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"
)

func init() {
	Register("json", NewJSON)
}

// NewJSON 输出为 JSON 解码后的值，写入时编码为 JSON
func NewJSON(cfg pkg.AdapterConfig) (Adapter, error) {
	return connector.NewTranslatingAdapter[[]byte, []byte, any, any](
		func(_ string, data []byte) (any, error) {
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("解析 json 失败: %w", err)
			}
			return v, nil
		},
		func(data any) ([]byte, error) {
			if raw, ok := data.(json.RawMessage); ok {
				return raw, nil
			}
			return json.Marshal(data)
		},
		channels(cfg)...,
	), nil
}
