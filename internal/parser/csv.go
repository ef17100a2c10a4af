package parser

import (
	"fmt"
	"strconv"
	"strings"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"
)

func init() {
	Register("csv", NewCSV)
}

type csvAdapter struct {
	separator string
	fields    []string
}

// NewCSV 按分隔符拆分一行数据，数字转换为 int64 或 float64
// 配置了 fields 时输出 map[string]any，否则输出 []any
func NewCSV(cfg pkg.AdapterConfig) (Adapter, error) {
	c := &csvAdapter{separator: cfg.Separator, fields: cfg.Fields}
	if c.separator == "" {
		c.separator = ","
	}
	return connector.NewTranslatingAdapter[[]byte, []byte, any, any](c.output, c.input, channels(cfg)...), nil
}

func (c *csvAdapter) output(_ string, data []byte) (any, error) {
	line := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("空的 csv 数据")
	}
	parts := strings.Split(line, c.separator)
	values := make([]any, len(parts))
	for i, p := range parts {
		values[i] = parseValue(strings.TrimSpace(p))
	}
	if len(c.fields) == 0 {
		return values, nil
	}
	if len(values) != len(c.fields) {
		return nil, fmt.Errorf("csv 字段数量不匹配: 期望 %d, 实际 %d", len(c.fields), len(values))
	}
	out := make(map[string]any, len(values))
	for i, f := range c.fields {
		out[f] = values[i]
	}
	return out, nil
}

func (c *csvAdapter) input(data any) ([]byte, error) {
	switch v := data.(type) {
	case []any:
		return c.join(v), nil
	case []string:
		return []byte(strings.Join(v, c.separator)), nil
	case map[string]any:
		if len(c.fields) == 0 {
			return nil, fmt.Errorf("写入 map 需要配置 fields")
		}
		values := make([]any, len(c.fields))
		for i, f := range c.fields {
			values[i] = v[f]
		}
		return c.join(values), nil
	}
	return toBytes(data, func(v any) ([]byte, error) {
		return nil, fmt.Errorf("csv 适配器不支持写入 %T", v)
	})
}

func (c *csvAdapter) join(values []any) []byte {
	parts := make([]string, len(values))
	for i, v := range values {
		if v != nil {
			parts[i] = fmt.Sprint(v)
		}
	}
	return []byte(strings.Join(parts, c.separator))
}

func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
