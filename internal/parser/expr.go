package parser

import (
	"encoding/json"
	"fmt"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

func init() {
	Register("expr", NewExpr)
}

// OutputEnv 输出表达式的环境
type OutputEnv struct {
	// Data 数据的字符串形式
	Data string `expr:"data"`
	// Bytes 原始字节
	Bytes []byte `expr:"bytes"`
	// Channel 数据所属通道
	Channel string `expr:"channel"`
}

// InputEnv 输入表达式的环境
type InputEnv struct {
	Value any `expr:"value"`
}

type exprAdapter struct {
	output *vm.Program
	input  *vm.Program
}

// NewExpr 使用 expr 表达式转换数据
//
//	expression: 输出表达式，可以使用 data、bytes、channel，例如 `split(data, ",")`
//	inputExpression: 输入表达式，可以使用 value，结果为字符串或字节时直接发送，其余编码为 JSON
//
// 未配置 inputExpression 时写入的值原样发送（字符串、字节）或编码为 JSON
func NewExpr(cfg pkg.AdapterConfig) (Adapter, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("expr 适配器需要配置 expression")
	}
	a := &exprAdapter{}
	var err error
	a.output, err = expr.Compile(cfg.Expression, expr.Env(OutputEnv{}))
	if err != nil {
		return nil, fmt.Errorf("编译输出表达式失败: %w", err)
	}
	if cfg.InputExpression != "" {
		a.input, err = expr.Compile(cfg.InputExpression, expr.Env(InputEnv{}))
		if err != nil {
			return nil, fmt.Errorf("编译输入表达式失败: %w", err)
		}
	}
	return connector.NewTranslatingAdapter[[]byte, []byte, any, any](a.adaptOutput, a.adaptInput, channels(cfg)...), nil
}

func (a *exprAdapter) adaptOutput(channel string, data []byte) (any, error) {
	out, err := expr.Run(a.output, OutputEnv{Data: string(data), Bytes: data, Channel: channel})
	if err != nil {
		return nil, fmt.Errorf("执行输出表达式失败: %w", err)
	}
	return out, nil
}

func (a *exprAdapter) adaptInput(data any) ([]byte, error) {
	value := data
	if a.input != nil {
		out, err := expr.Run(a.input, InputEnv{Value: data})
		if err != nil {
			return nil, fmt.Errorf("执行输入表达式失败: %w", err)
		}
		value = out
	}
	return toBytes(value, json.Marshal)
}
