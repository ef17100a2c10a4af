package parser

import (
	"fmt"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"
)

func init() {
	Register("passthrough", NewPassthrough)
	Register("string", NewString)
}

// NewPassthrough 原样传递字节，输出为字节的副本
func NewPassthrough(cfg pkg.AdapterConfig) (Adapter, error) {
	return connector.NewTranslatingAdapter[[]byte, []byte, any, any](
		func(_ string, data []byte) (any, error) {
			return pkg.CopyOf(data), nil
		},
		func(data any) ([]byte, error) {
			return toBytes(data, func(v any) ([]byte, error) {
				return nil, fmt.Errorf("passthrough 适配器不支持写入 %T", v)
			})
		},
		channels(cfg)...,
	), nil
}

// NewString 输出为字符串，写入时使用值的字符串形式
func NewString(cfg pkg.AdapterConfig) (Adapter, error) {
	return connector.NewTranslatingAdapter[[]byte, []byte, any, any](
		func(_ string, data []byte) (any, error) {
			return string(data), nil
		},
		func(data any) ([]byte, error) {
			return toBytes(data, func(v any) ([]byte, error) {
				return []byte(fmt.Sprint(v)), nil
			})
		},
		channels(cfg)...,
	), nil
}
