package mqtt

import (
	"context"
	"fmt"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Name 连接器名称
const Name = "MQTT"

func init() {
	connector.Register(connector.Descriptor{
		ID:   "mqtt",
		Name: Name,
		Capabilities: connector.Capabilities{
			SupportsEvents:   true,
			SpecificSettings: []string{"clientID", "topics", "qos", "writeTopic", "maxReconnectInterval"},
		},
		Factory: NewFromContext,
	})
}

// MQTTClient 定义一个接口，包含需要的 MQTT 客户端方法
type MQTTClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
}

// Settings MQTT 连接器的专有配置
type Settings struct {
	ClientID             string          `mapstructure:"clientID"`
	MaxReconnectInterval time.Duration   `mapstructure:"maxReconnectInterval"`
	Topics               map[string]byte `mapstructure:"topics"` // 主题和 QoS 的 map
	QoS                  byte            `mapstructure:"qos"`
	WriteTopic           string          `mapstructure:"writeTopic"`
}

// Connector MQTT 连接器，订阅的主题即通道，消息到达时直接推送，不轮询
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	newClient func(opts *paho.ClientOptions) MQTTClient
	client    MQTTClient
	settings  Settings
	timeout   time.Duration
	tls       bool
	ctx       context.Context
}

// Option 配置 MQTT 连接器
type Option func(*Connector)

// WithClientFactory 替换 MQTT 客户端的创建方式，测试中注入 mock
func WithClientFactory(f func(opts *paho.ClientOptions) MQTTClient) Option {
	return func(c *Connector) { c.newClient = f }
}

// New 创建 MQTT 连接器
func New(adapters []parser.Adapter, selector parser.Selector, opts []Option, baseOpts ...connector.Option) (*Connector, error) {
	c := &Connector{
		newClient: func(opts *paho.ClientOptions) MQTTClient { return paho.NewClient(opts) },
	}
	for _, opt := range opts {
		opt(c)
	}
	baseOpts = append([]connector.Option{connector.WithName(Name), connector.WithNotifications(true)}, baseOpts...)
	base, err := connector.NewBase[[]byte, []byte, any, any](c, selector, adapters, baseOpts...)
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

// NewFromContext 使用 context 中的配置创建 MQTT 连接器
func NewFromContext(ctx context.Context) (connector.Instance, error) {
	cfg := pkg.ConfigFromContext(ctx).Connector
	adapters, selector, err := parser.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(adapters, selector, nil, connector.OptionsFromConfig(cfg)...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Broker 由连接参数得到 broker 地址，mqtts/ssl 使用 ssl://
func Broker(params *connector.Parameter) (string, bool) {
	scheme, tls := "tcp", false
	switch params.Schema() {
	case connector.SchemaMQTTS, connector.SchemaSSL:
		scheme, tls = "ssl", true
	case connector.SchemaWS:
		scheme = "ws"
	case connector.SchemaWSS:
		scheme, tls = "wss", true
	}
	port := params.Port()
	if port == 0 {
		port = 1883
		if tls {
			port = 8883
		}
	}
	return fmt.Sprintf("%s://%s:%d", scheme, params.Host(), port), tls
}

func (c *Connector) ConnectImpl(ctx context.Context, params *connector.Parameter) error {
	var s Settings
	if err := params.DecodeSettings(&s); err != nil {
		return err
	}
	if s.ClientID == "" {
		s.ClientID = params.ApplicationID()
	}
	c.settings = s
	c.timeout = params.RequestTimeout()
	c.ctx = context.WithoutCancel(ctx)

	broker, tls := Broker(params)
	c.tls = tls
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(s.ClientID)
	if id, ok := params.IdentityToken(broker); ok && id.Type == connector.IdentityUsername {
		opts.SetUsername(id.User)
		opts.SetPassword(id.Token)
	}
	opts.SetKeepAlive(params.KeepAlive())
	opts.SetConnectTimeout(params.RequestTimeout())
	// 设置自动重连
	opts.SetAutoReconnect(true)
	if s.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(s.MaxReconnectInterval)
	}
	opts.OnConnect = c.connectHandler
	opts.OnConnectionLost = c.connectLostHandler

	c.client = c.newClient(opts)
	if err := c.wait(c.client.Connect()); err != nil {
		return fmt.Errorf("MQTT连接失败: %w", err)
	}
	if len(s.Topics) > 0 {
		if err := c.wait(c.client.SubscribeMultiple(s.Topics, c.messagePubHandler)); err != nil {
			c.client.Disconnect(250)
			return fmt.Errorf("MQTT订阅失败: %w", err)
		}
	}
	pkg.LoggerFromContext(ctx).Info("MQTT订阅成功，正在监听消息", zap.String("broker", broker), zap.Int("topics", len(s.Topics)))
	return nil
}

func (c *Connector) wait(token paho.Token) error {
	if c.timeout > 0 && !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("等待超时 %s", c.timeout)
	}
	if c.timeout <= 0 {
		token.Wait()
	}
	return token.Error()
}

func (c *Connector) DisconnectImpl(context.Context) error {
	// 关闭MQTT客户端，优雅关闭
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.Logger().Info("MQTT连接已断开")
	}
	c.client = nil
	return nil
}

// Read 消息通过订阅推送，轮询读不到数据
func (c *Connector) Read(context.Context) ([]byte, bool, error) {
	return nil, false, nil
}

// WriteImpl 发布到通道对应的主题，默认通道使用 writeTopic
func (c *Connector) WriteImpl(_ context.Context, data []byte, channel string) error {
	topic := channel
	if topic == "" {
		topic = c.settings.WriteTopic
	}
	if topic == "" {
		return fmt.Errorf("未指定发布主题")
	}
	if c.client == nil {
		return connector.ErrNotConnected
	}
	if err := c.wait(c.client.Publish(topic, c.settings.QoS, false, data)); err != nil {
		return fmt.Errorf("MQTT发布失败: %w", err)
	}
	return nil
}

func (c *Connector) SupportedEncryption() string { return "TLS" }

func (c *Connector) EnabledEncryption() string {
	if c.tls {
		return "TLS"
	}
	return ""
}

func (c *Connector) messagePubHandler(_ paho.Client, msg paho.Message) {
	if _, err := c.Received(c.ctx, msg.Topic(), pkg.CopyOf(msg.Payload()), true); err != nil {
		c.Logger().Error("处理MQTT消息失败", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// 连接成功回调
func (c *Connector) connectHandler(paho.Client) {
	c.Logger().Info("成功连接至MQTT broker")
}

// 连接丢失回调，Paho会自动重连
func (c *Connector) connectLostHandler(_ paho.Client, err error) {
	pkg.GetPerformanceMetrics().IncErrorCount()
	c.Logger().Error("MQTT连接丢失", zap.Error(err))
	pkg.ReportError(c.ctx, fmt.Errorf("MQTT连接丢失: %w", err))
}
