package connector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"linkgate/internal/cache"
	"linkgate/internal/pkg"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Schema 连接协议
type Schema string

const (
	SchemaTCP    Schema = "tcp"
	SchemaSSL    Schema = "ssl"
	SchemaHTTP   Schema = "http"
	SchemaHTTPS  Schema = "https"
	SchemaWS     Schema = "ws"
	SchemaWSS    Schema = "wss"
	SchemaMQTT   Schema = "mqtt"
	SchemaMQTTS  Schema = "mqtts"
	SchemaIgnore Schema = "ignore"
)

// ParseSchema 解析协议，空字符串为默认的 tcp
func ParseSchema(s string) (Schema, error) {
	switch v := Schema(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return DefaultSchema, nil
	case SchemaTCP, SchemaSSL, SchemaHTTP, SchemaHTTPS, SchemaWS, SchemaWSS, SchemaMQTT, SchemaMQTTS, SchemaIgnore:
		return v, nil
	default:
		return "", fmt.Errorf("未知的连接协议: %s", s)
	}
}

const (
	// AnyEndpoint 适用于所有端点的身份
	AnyEndpoint = ""
	// DefaultSchema 默认协议
	DefaultSchema = SchemaTCP
	// DefaultRequestTimeout 默认请求超时
	DefaultRequestTimeout = 5000 * time.Millisecond
	// DefaultNotificationInterval 默认轮询间隔
	DefaultNotificationInterval = 1000 * time.Millisecond
	// DefaultKeepAlive 默认保活间隔
	DefaultKeepAlive = 2000 * time.Millisecond
)

// IdentityType 身份类型
type IdentityType string

const (
	IdentityAnonymous IdentityType = "anonymous"
	IdentityUsername  IdentityType = "username"
	IdentityIssued    IdentityType = "issued"
)

// IdentityToken 连接端点时使用的身份
type IdentityToken struct {
	Type  IdentityType
	User  string
	Token string
}

// Parameter 连接参数，通过 ParameterBuilder 构造，构造后不可修改
type Parameter struct {
	schema               Schema
	host                 string
	port                 int
	endpointPath         string
	requestTimeout       time.Duration
	notificationInterval time.Duration
	keepAlive            time.Duration
	applicationID        string
	applicationDesc      string
	autoApplicationID    bool
	keyAlias             string
	hostnameVerification bool
	cacheMode            cache.Mode
	identities           map[string]IdentityToken
	settings             map[string]any
}

func (p *Parameter) Schema() Schema                      { return p.schema }
func (p *Parameter) Host() string                        { return p.host }
func (p *Parameter) Port() int                           { return p.port }
func (p *Parameter) EndpointPath() string                { return p.endpointPath }
func (p *Parameter) RequestTimeout() time.Duration       { return p.requestTimeout }
func (p *Parameter) NotificationInterval() time.Duration { return p.notificationInterval }
func (p *Parameter) KeepAlive() time.Duration            { return p.keepAlive }
func (p *Parameter) ApplicationDescription() string      { return p.applicationDesc }
func (p *Parameter) AutoApplicationID() bool             { return p.autoApplicationID }
func (p *Parameter) KeyAlias() string                    { return p.keyAlias }
func (p *Parameter) HostnameVerification() bool          { return p.hostnameVerification }
func (p *Parameter) CacheMode() cache.Mode               { return p.cacheMode }

// ApplicationID 返回应用标识，未设置且允许自动生成时返回一个随机标识
func (p *Parameter) ApplicationID() string {
	return p.applicationID
}

// Address 返回 host:port
func (p *Parameter) Address() string {
	return fmt.Sprintf("%s:%d", p.host, p.port)
}

// URL 返回 schema://host[:port][/endpointPath]
func (p *Parameter) URL() string {
	var sb strings.Builder
	sb.WriteString(string(p.schema))
	sb.WriteString("://")
	sb.WriteString(p.host)
	if p.port > 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(p.port))
	}
	if p.endpointPath != "" {
		if !strings.HasPrefix(p.endpointPath, "/") {
			sb.WriteString("/")
		}
		sb.WriteString(p.endpointPath)
	}
	return sb.String()
}

// IdentityToken 返回端点对应的身份，找不到时回退到 AnyEndpoint，仍没有时返回 false
func (p *Parameter) IdentityToken(endpoint string) (IdentityToken, bool) {
	if p.identities == nil {
		return IdentityToken{}, false
	}
	if t, ok := p.identities[endpoint]; ok {
		return t, true
	}
	t, ok := p.identities[AnyEndpoint]
	return t, ok
}

// IsAnonymousIdentity 没有配置任何身份时为 true
func (p *Parameter) IsAnonymousIdentity() bool {
	return p.identities == nil
}

// SpecificSetting 返回连接器专有配置，key 大小写不敏感
func (p *Parameter) SpecificSetting(key string) (any, bool) {
	if v, ok := p.settings[key]; ok {
		return v, true
	}
	for k, v := range p.settings {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// SpecificStringSetting 以字符串形式返回专有配置，不存在时返回空字符串
func (p *Parameter) SpecificStringSetting(key string) string {
	v, ok := p.SpecificSetting(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// SpecificIntSetting 以整数形式返回专有配置，不存在或无法解析时返回 0
func (p *Parameter) SpecificIntSetting(key string) int {
	v, ok := p.SpecificSetting(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// DecodeSettings 将专有配置解码到 target，字段名大小写不敏感，支持弱类型转换
func (p *Parameter) DecodeSettings(target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(p.settings); err != nil {
		return fmt.Errorf("解析连接器专有配置失败: %w", err)
	}
	return nil
}

// ParameterBuilder 构造 Parameter
type ParameterBuilder struct {
	p Parameter
}

// NewParameterBuilder 使用默认协议创建构造器
func NewParameterBuilder(host string, port int) *ParameterBuilder {
	return NewParameterBuilderWithSchema(host, port, DefaultSchema)
}

// NewParameterBuilderWithSchema 创建构造器
func NewParameterBuilderWithSchema(host string, port int, schema Schema) *ParameterBuilder {
	if schema == "" {
		schema = DefaultSchema
	}
	return &ParameterBuilder{p: Parameter{
		schema:               schema,
		host:                 host,
		port:                 port,
		requestTimeout:       DefaultRequestTimeout,
		notificationInterval: DefaultNotificationInterval,
		keepAlive:            DefaultKeepAlive,
		autoApplicationID:    true,
	}}
}

func (b *ParameterBuilder) SetEndpointPath(path string) *ParameterBuilder {
	b.p.endpointPath = path
	return b
}

func (b *ParameterBuilder) SetRequestTimeout(d time.Duration) *ParameterBuilder {
	b.p.requestTimeout = d
	return b
}

func (b *ParameterBuilder) SetKeepAlive(d time.Duration) *ParameterBuilder {
	b.p.keepAlive = d
	return b
}

// SetNotificationInterval 设置轮询间隔，<= 0 表示不轮询
func (b *ParameterBuilder) SetNotificationInterval(d time.Duration) *ParameterBuilder {
	b.p.notificationInterval = d
	return b
}

func (b *ParameterBuilder) SetApplicationInformation(id, description string) *ParameterBuilder {
	b.p.applicationID = id
	b.p.applicationDesc = description
	return b
}

func (b *ParameterBuilder) SetAutoApplicationID(auto bool) *ParameterBuilder {
	b.p.autoApplicationID = auto
	return b
}

func (b *ParameterBuilder) SetKeyAlias(alias string) *ParameterBuilder {
	b.p.keyAlias = alias
	return b
}

func (b *ParameterBuilder) SetHostnameVerification(verify bool) *ParameterBuilder {
	b.p.hostnameVerification = verify
	return b
}

func (b *ParameterBuilder) SetCacheMode(mode cache.Mode) *ParameterBuilder {
	b.p.cacheMode = mode
	return b
}

// SetIdentities 设置按端点区分的身份，AnyEndpoint 对应所有端点
func (b *ParameterBuilder) SetIdentities(identities map[string]IdentityToken) *ParameterBuilder {
	if identities == nil {
		b.p.identities = nil
		return b
	}
	b.p.identities = make(map[string]IdentityToken, len(identities))
	for k, v := range identities {
		b.p.identities[k] = v
	}
	return b
}

// SetSpecificSetting 设置一项连接器专有配置
func (b *ParameterBuilder) SetSpecificSetting(key string, value any) *ParameterBuilder {
	if b.p.settings == nil {
		b.p.settings = make(map[string]any)
	}
	b.p.settings[key] = value
	return b
}

// Build 构造参数，构造器之后的修改不影响已构造的参数
func (b *ParameterBuilder) Build() *Parameter {
	p := b.p
	if p.applicationID == "" && p.autoApplicationID {
		p.applicationID = uuid.NewString()
	}
	if p.identities != nil {
		ids := make(map[string]IdentityToken, len(p.identities))
		for k, v := range p.identities {
			ids[k] = v
		}
		p.identities = ids
	}
	settings := make(map[string]any, len(p.settings))
	for k, v := range p.settings {
		settings[k] = v
	}
	p.settings = settings
	return &p
}

// ParameterFromConfig 将配置转换为连接参数，未配置的时间使用默认值（单位毫秒）
func ParameterFromConfig(cfg pkg.ConnectorConfig) (*Parameter, error) {
	schema, err := ParseSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	mode, err := cache.ParseMode(cfg.CacheMode)
	if err != nil {
		return nil, err
	}
	b := NewParameterBuilderWithSchema(cfg.Host, cfg.Port, schema).
		SetEndpointPath(cfg.EndpointPath).
		SetApplicationInformation(cfg.ApplicationID, "").
		SetKeyAlias(cfg.KeyAlias).
		SetHostnameVerification(cfg.HostnameVerification).
		SetCacheMode(mode)
	if cfg.RequestTimeout != nil {
		b.SetRequestTimeout(time.Duration(*cfg.RequestTimeout) * time.Millisecond)
	}
	if cfg.NotificationInterval != nil {
		b.SetNotificationInterval(time.Duration(*cfg.NotificationInterval) * time.Millisecond)
	}
	if cfg.KeepAlive != nil {
		b.SetKeepAlive(time.Duration(*cfg.KeepAlive) * time.Millisecond)
	}
	if len(cfg.Identities) > 0 {
		ids := make(map[string]IdentityToken, len(cfg.Identities))
		for _, id := range cfg.Identities {
			t := IdentityType(strings.ToLower(id.Type))
			if t == "" {
				t = IdentityAnonymous
			}
			ids[id.Endpoint] = IdentityToken{Type: t, User: id.User, Token: id.Token}
		}
		b.SetIdentities(ids)
	}
	for k, v := range cfg.Settings {
		b.SetSpecificSetting(k, v)
	}
	return b.Build(), nil
}
