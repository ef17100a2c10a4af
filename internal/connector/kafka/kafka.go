package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Name 连接器名称
const Name = "Kafka"

func init() {
	connector.Register(connector.Descriptor{
		ID:   "kafka",
		Name: Name,
		Capabilities: connector.Capabilities{
			SpecificSettings: []string{"brokers", "topics", "groupID", "writeTopic", "requiredAcks", "async"},
		},
		Factory: NewFromContext,
	})
}

// Settings Kafka 连接器的专有配置
type Settings struct {
	Brokers []string `mapstructure:"brokers"` // 为空时使用连接参数的 host:port
	Topics  []string `mapstructure:"topics"`  // 读取的主题，每个主题是一个通道
	// GroupID 为空时只能读取一个主题，且不提交位移
	GroupID      string `mapstructure:"groupID"`
	WriteTopic   string `mapstructure:"writeTopic"`   // 默认通道写入的主题
	RequiredAcks int    `mapstructure:"requiredAcks"` // -1 所有 ISR，0 不需要确认，其余为 leader 确认
	Async        bool   `mapstructure:"async"`
}

// MessageReader kafka.Reader 中用到的方法
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter kafka.Writer 中用到的方法
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Connector Kafka 连接器，轮询时拉取一条消息，主题即通道
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	newReader func(kafka.ReaderConfig) MessageReader
	newWriter func(*kafka.Writer) MessageWriter

	settings Settings
	timeout  time.Duration
	reader   MessageReader
	writer   MessageWriter
}

// Option 配置 Kafka 连接器
type Option func(*Connector)

// WithReaderFactory 替换 reader 的创建方式
func WithReaderFactory(f func(kafka.ReaderConfig) MessageReader) Option {
	return func(c *Connector) { c.newReader = f }
}

// WithWriterFactory 替换 writer 的创建方式，参数是已配置好的 kafka.Writer
func WithWriterFactory(f func(*kafka.Writer) MessageWriter) Option {
	return func(c *Connector) { c.newWriter = f }
}

// New 创建 Kafka 连接器
func New(adapters []parser.Adapter, selector parser.Selector, opts []Option, baseOpts ...connector.Option) (*Connector, error) {
	c := &Connector{
		newReader: func(cfg kafka.ReaderConfig) MessageReader { return kafka.NewReader(cfg) },
		newWriter: func(w *kafka.Writer) MessageWriter { return w },
	}
	for _, opt := range opts {
		opt(c)
	}
	baseOpts = append([]connector.Option{connector.WithName(Name)}, baseOpts...)
	base, err := connector.NewBase[[]byte, []byte, any, any](c, selector, adapters, baseOpts...)
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

// NewFromContext 使用 context 中的配置创建 Kafka 连接器
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

func requiredAcks(n int) kafka.RequiredAcks {
	switch n {
	case -1:
		return kafka.RequireAll
	case 0:
		return kafka.RequireNone
	default:
		return kafka.RequireOne
	}
}

func (c *Connector) ConnectImpl(ctx context.Context, params *connector.Parameter) error {
	var s Settings
	if err := params.DecodeSettings(&s); err != nil {
		return err
	}
	if len(s.Brokers) == 0 {
		s.Brokers = []string{params.Address()}
	}
	if s.GroupID == "" && len(s.Topics) > 1 {
		return fmt.Errorf("%w: 未配置 groupID 时只能读取一个主题", connector.ErrConfiguration)
	}
	c.settings = s
	c.timeout = params.RequestTimeout()

	dialer := &kafka.Dialer{Timeout: params.RequestTimeout(), DualStack: true}
	transport := &kafka.Transport{DialTimeout: params.RequestTimeout()}
	if id, ok := params.IdentityToken(params.URL()); ok && id.Type == connector.IdentityUsername {
		mechanism := plain.Mechanism{Username: id.User, Password: id.Token}
		dialer.SASLMechanism = mechanism
		transport.SASL = mechanism
	}
	if params.Schema() == connector.SchemaSSL {
		cfg := &tls.Config{ServerName: params.Host(), InsecureSkipVerify: !params.HostnameVerification()}
		dialer.TLS = cfg
		transport.TLS = cfg
	}

	if len(s.Topics) > 0 {
		rc := kafka.ReaderConfig{
			Brokers: s.Brokers,
			GroupID: s.GroupID,
			Dialer:  dialer,
			MaxWait: params.RequestTimeout(),
		}
		if s.GroupID != "" {
			rc.GroupTopics = s.Topics
		} else {
			rc.Topic = s.Topics[0]
		}
		c.reader = c.newReader(rc)
	}
	c.writer = c.newWriter(&kafka.Writer{
		Addr:         kafka.TCP(s.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: params.RequestTimeout(),
		ReadTimeout:  params.RequestTimeout(),
		RequiredAcks: requiredAcks(s.RequiredAcks),
		Async:        s.Async,
		Transport:    transport,
	})

	pkg.LoggerFromContext(ctx).Info("Kafka 连接器已初始化",
		zap.Strings("brokers", s.Brokers),
		zap.Strings("topics", s.Topics),
		zap.Bool("async", s.Async),
	)
	return nil
}

// ReadChannel 拉取一条消息，请求超时内没有消息时没有数据
func (c *Connector) ReadChannel(ctx context.Context) (string, []byte, bool, error) {
	if c.reader == nil {
		return "", nil, false, nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.reader.FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", nil, false, nil
		}
		return "", nil, false, fmt.Errorf("拉取 Kafka 消息失败: %w", err)
	}
	if c.settings.GroupID != "" {
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.Logger().Warn("提交 Kafka 位移失败", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
	return msg.Topic, msg.Value, true, nil
}

func (c *Connector) Read(ctx context.Context) ([]byte, bool, error) {
	_, data, ok, err := c.ReadChannel(ctx)
	return data, ok, err
}

// WriteImpl 写入通道对应的主题，默认通道使用 writeTopic
func (c *Connector) WriteImpl(ctx context.Context, data []byte, channel string) error {
	topic := channel
	if topic == "" {
		topic = c.settings.WriteTopic
	}
	if topic == "" {
		return fmt.Errorf("未指定写入主题")
	}
	timer := pkg.GetPerformanceMetrics().NewTimer("kafka_write")
	err := c.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: data, Time: time.Now()})
	timer.StopAndLog(c.Logger())
	if err != nil {
		return fmt.Errorf("写入 Kafka 失败: %w", err)
	}
	return nil
}

func (c *Connector) DisconnectImpl(context.Context) error {
	var err error
	if c.reader != nil {
		err = multierr.Append(err, c.reader.Close())
		c.reader = nil
	}
	if c.writer != nil {
		err = multierr.Append(err, c.writer.Close())
		c.writer = nil
	}
	c.Logger().Info("Kafka reader/writer 已关闭")
	return err
}

func (c *Connector) SupportedEncryption() string { return "TLS" }

func (c *Connector) EnabledEncryption() string {
	if p := c.Parameter(); p != nil && p.Schema() == connector.SchemaSSL {
		return "TLS"
	}
	return ""
}
