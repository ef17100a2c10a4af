package parser

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"

	"linkgate/internal/connector"
	"linkgate/internal/pkg"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mitchellh/mapstructure"
)

func init() {
	Register("frame", NewFrame)
}

// maxNodes 一帧最多经过的节点数，防止跳转规则构成死循环
const maxNodes = 50

const (
	targetEnd     = "END"
	targetDefault = "DEFAULT"
)

// FrameEnv 是 frame 表达式的执行环境
type FrameEnv struct {
	// Bytes 当前 section 的原始字节
	Bytes []byte
	// Vars 由 V() 设置的变量，整帧可见，可在跳转条件中使用
	Vars map[string]any
	// Fields 由 F() 设置的输出字段
	Fields map[string]any
	// Globals 配置中的全局变量
	Globals map[string]any
}

// V 设置变量
func (e *FrameEnv) V(key string, val any) any {
	e.Vars[key] = val
	return nil
}

// F 设置输出字段
func (e *FrameEnv) F(key string, val any) any {
	e.Fields[key] = val
	return nil
}

func (e *FrameEnv) reset() {
	clear(e.Vars)
	e.Fields = make(map[string]any)
	e.Bytes = nil
}

// frameRule 跳转规则，condition 为真时跳到 target（标签、END 或 DEFAULT）
type frameRule struct {
	Condition string `mapstructure:"condition"`
	Target    string `mapstructure:"target"`
	program   *vm.Program
}

// frameSection 固定长度的字节段；Skip > 0 时只跳过字节
type frameSection struct {
	Desc   string            `mapstructure:"desc"`
	Size   int               `mapstructure:"size"`
	Skip   int               `mapstructure:"skip"`
	Label  string            `mapstructure:"label"`
	Vars   map[string]string `mapstructure:"vars"`
	Fields map[string]string `mapstructure:"fields"`
	Next   []frameRule       `mapstructure:"next"`

	index   int
	program *vm.Program
}

func (s *frameSection) String() string {
	if s.Skip > 0 {
		return fmt.Sprintf("Skip: %d", s.Skip)
	}
	return fmt.Sprintf("Section %d: Desc: %s, Size: %d", s.index, s.Desc, s.Size)
}

type frameAdapter struct {
	sections []*frameSection
	labels   map[string]int
	envs     sync.Pool
}

// NewFrame 按 sections 描述的结构解析二进制帧，输出 F() 设置的字段 map[string]any
//
//	sections:
//	  - desc: header
//	    size: 2
//	    vars: {count: "Bytes[1]"}
//	    fields: {type: "Bytes[0]"}
//	    next:
//	      - condition: "Vars.count == 0"
//	        target: END
//	  - skip: 1
//	  - size: 4
//	    fields: {value: "BytesToInt(Bytes, 'big')"}
//
// 写入时只接受字节或字符串
func NewFrame(cfg pkg.AdapterConfig) (Adapter, error) {
	if len(cfg.Sections) == 0 {
		return nil, fmt.Errorf("frame 适配器需要配置 sections")
	}
	sections, labels, err := buildSections(cfg.Sections)
	if err != nil {
		return nil, err
	}
	globals := cfg.Globals
	a := &frameAdapter{sections: sections, labels: labels}
	a.envs.New = func() any {
		return &FrameEnv{Vars: make(map[string]any), Fields: make(map[string]any), Globals: globals}
	}
	return connector.NewTranslatingAdapter[[]byte, []byte, any, any](a.output, a.input, channels(cfg)...), nil
}

func buildSections(configList []map[string]any) ([]*frameSection, map[string]int, error) {
	sections := make([]*frameSection, 0, len(configList))
	labels := make(map[string]int)
	for index, raw := range configList {
		var s frameSection
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &s,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, nil, fmt.Errorf("解码 Section %d 失败: %w", index, err)
		}
		s.index = index
		if s.Skip < 0 || (s.Skip == 0 && s.Size <= 0) {
			return nil, nil, fmt.Errorf("Section %d (Desc: %s) 配置错误: 'size' 或 'skip' 必须大于 0", index, s.Desc)
		}
		if s.Skip == 0 {
			if s.program, err = compileSection(&s); err != nil {
				return nil, nil, fmt.Errorf("编译 Section %d (Desc: %s) 失败: %w", index, s.Desc, err)
			}
		}
		for i := range s.Next {
			s.Next[i].program, err = expr.Compile(s.Next[i].Condition, exprOptions(expr.AsBool())...)
			if err != nil {
				return nil, nil, fmt.Errorf("编译 Section %d 的跳转条件失败 (condition: %s): %w", index, s.Next[i].Condition, err)
			}
		}
		if s.Label != "" {
			if _, exists := labels[s.Label]; exists {
				return nil, nil, fmt.Errorf("标签 '%s' 在 Section %d 处重复定义", s.Label, index)
			}
			labels[s.Label] = index
		}
		sections = append(sections, &s)
	}
	// 跳转目标必须存在
	for _, s := range sections {
		for _, r := range s.Next {
			if r.Target == targetEnd || r.Target == targetDefault {
				continue
			}
			if _, ok := labels[r.Target]; !ok {
				return nil, nil, fmt.Errorf("Section %d 的跳转目标标签 '%s' 不存在", s.index, r.Target)
			}
		}
	}
	return sections, labels, nil
}

// compileSection 把 vars 与 fields 拼成一段 V()/F() 调用，变量先于字段、按名称排序执行
func compileSection(s *frameSection) (*vm.Program, error) {
	var calls []string
	for _, k := range sortedKeys(s.Vars) {
		calls = append(calls, fmt.Sprintf("V(%q, %s)", k, s.Vars[k]))
	}
	for _, k := range sortedKeys(s.Fields) {
		calls = append(calls, fmt.Sprintf("F(%q, %s)", k, s.Fields[k]))
	}
	calls = append(calls, "nil")
	return expr.Compile(strings.Join(calls, "; "), exprOptions()...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *frameAdapter) output(_ string, data []byte) (any, error) {
	env := a.envs.Get().(*FrameEnv)
	defer func() {
		env.reset()
		a.envs.Put(env)
	}()

	cursor := 0
	current := 0
	for processed := 0; current >= 0 && current < len(a.sections); processed++ {
		if processed >= maxNodes {
			return nil, fmt.Errorf("处理节点数超过最大限制 %d，请检查跳转规则", maxNodes)
		}
		s := a.sections[current]
		if s.Skip > 0 {
			if cursor+s.Skip > len(data) {
				return nil, fmt.Errorf("数据不足，需要 %d 字节 (cursor: %d, total: %d)", s.Skip, cursor, len(data))
			}
			cursor += s.Skip
			current++
			continue
		}
		end := cursor + s.Size
		if end > len(data) {
			return nil, fmt.Errorf("%s: 数据不足，需要 %d 字节 (cursor: %d, total: %d)", s, s.Size, cursor, len(data))
		}
		env.Bytes = data[cursor:end]
		if _, err := expr.Run(s.program, env); err != nil {
			return nil, fmt.Errorf("%s: 执行表达式失败: %w", s, err)
		}
		cursor = end
		next, err := a.route(s, env)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return env.Fields, nil
}

// route 返回下一个节点的索引，-1 表示结束
func (a *frameAdapter) route(s *frameSection, env *FrameEnv) (int, error) {
	if len(s.Next) == 0 {
		return s.index + 1, nil
	}
	for _, r := range s.Next {
		matched, err := expr.Run(r.program, env)
		if err != nil {
			return -1, fmt.Errorf("%s: 执行跳转条件失败 (condition: %s): %w", s, r.Condition, err)
		}
		if ok, _ := matched.(bool); !ok {
			continue
		}
		switch r.Target {
		case targetEnd:
			return -1, nil
		case targetDefault:
			return s.index + 1, nil
		default:
			return a.labels[r.Target], nil
		}
	}
	return -1, fmt.Errorf("%s: 所有跳转规则都不匹配, 当前变量: %v", s, env.Vars)
}

func (a *frameAdapter) input(data any) ([]byte, error) {
	return toBytes(data, func(v any) ([]byte, error) {
		return nil, fmt.Errorf("frame 适配器不支持写入 %T", v)
	})
}

func exprOptions(extra ...expr.Option) []expr.Option {
	options := append([]expr.Option{expr.Env(&FrameEnv{})}, frameHelpers...)
	return append(options, extra...)
}

// frameHelpers 注册给 frame 表达式的辅助函数
var frameHelpers = []expr.Option{
	expr.Function(
		"BytesToInt",
		func(params ...any) (any, error) {
			data, ok := params[0].([]byte)
			if !ok {
				return nil, fmt.Errorf("BytesToInt 第一个参数需要 []byte, 得到 %T", params[0])
			}
			endian, _ := params[1].(string)
			var order binary.ByteOrder = binary.BigEndian
			if endian == "little" {
				order = binary.LittleEndian
			}
			switch len(data) {
			case 1:
				return int(data[0]), nil
			case 2:
				return int(order.Uint16(data)), nil
			case 4:
				return int(order.Uint32(data)), nil
			case 8:
				return int(order.Uint64(data)), nil
			}
			return nil, fmt.Errorf("BytesToInt 只支持 1、2、4、8 字节, 得到 %d", len(data))
		},
		new(func([]byte, string) int),
	),
	expr.Function(
		"hex",
		func(params ...any) (any, error) {
			data, ok := params[0].([]byte)
			if !ok {
				return nil, fmt.Errorf("hex 参数需要 []byte, 得到 %T", params[0])
			}
			return hex.EncodeToString(data), nil
		},
		new(func([]byte) string),
	),
	expr.Function(
		"sprintf",
		func(params ...any) (any, error) {
			if len(params) < 1 {
				return nil, errors.New("sprintf 需要至少一个参数")
			}
			format, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("sprintf 第一个参数需要 string, 得到 %T", params[0])
			}
			return fmt.Sprintf(format, params[1:]...), nil
		},
		new(func(string, ...any) string),
	),
	expr.Function(
		"crc16",
		func(params ...any) (any, error) {
			data, ok := params[0].([]byte)
			if !ok {
				return nil, fmt.Errorf("crc16 参数需要 []byte, 得到 %T", params[0])
			}
			return int(crc16Modbus(data)), nil
		},
		new(func([]byte) int),
	),
	expr.Function(
		"crc32",
		func(params ...any) (any, error) {
			data, ok := params[0].([]byte)
			if !ok {
				return nil, fmt.Errorf("crc32 参数需要 []byte, 得到 %T", params[0])
			}
			return int(crc32.ChecksumIEEE(data)), nil
		},
		new(func([]byte) int),
	),
	expr.Function(
		"atoi",
		func(params ...any) (any, error) {
			s, _ := params[0].(string)
			return strconv.Atoi(strings.TrimSpace(s))
		},
		new(func(string) int),
	),
}

// crc16Modbus CRC-16/MODBUS，多项式 0xA001（0x8005 反序），初值 0xFFFF
func crc16Modbus(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
