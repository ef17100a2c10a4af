package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	"go.uber.org/zap"
)

// Name 连接器名称
const Name = "TCP"

const (
	ModeServer = "server"
	ModeClient = "client"

	defaultQueueSize      = 200
	defaultReconnectDelay = time.Second
	defaultDelimiter      = "\n"
)

func init() {
	connector.Register(connector.Descriptor{
		ID:   "tcp",
		Name: Name,
		Capabilities: connector.Capabilities{
			SupportsEvents:   true,
			SpecificSettings: []string{"mode", "whiteList", "ipAlias", "delimiter", "bufferSize", "queueSize", "reconnectDelay"},
		},
		Factory: NewFromContext,
	})
}

// Settings TCP 连接器的专有配置
type Settings struct {
	Mode           string            `mapstructure:"mode"`           // server 监听，client 连接到 host:port
	WhiteList      bool              `mapstructure:"whiteList"`      // 是否启用白名单
	IPAlias        map[string]string `mapstructure:"ipAlias"`        // ip别名，同时作为白名单
	Delimiter      string            `mapstructure:"delimiter"`      // 帧分隔符，默认换行
	BufferSize     int               `mapstructure:"bufferSize"`     // 单帧最大长度
	QueueSize      int               `mapstructure:"queueSize"`      // 轮询模式下的接收队列长度
	ReconnectDelay time.Duration     `mapstructure:"reconnectDelay"` // 客户端重连间隔
}

type frame struct {
	channel string
	data    []byte
}

// Connector TCP 连接器。数据流按分隔符切分成帧，服务端模式下每个来源（别名或远端 IP）是一个通道
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	settings Settings
	params   *connector.Parameter
	listener net.Listener
	queue    chan frame
	push     bool

	activeConns sync.Map // 通道 -> net.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 TCP 连接器
func New(adapters []parser.Adapter, selector parser.Selector, opts ...connector.Option) (*Connector, error) {
	c := &Connector{}
	opts = append([]connector.Option{connector.WithName(Name)}, opts...)
	base, err := connector.NewBase[[]byte, []byte, any, any](c, selector, adapters, opts...)
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

// NewFromContext 使用 context 中的配置创建 TCP 连接器
func NewFromContext(ctx context.Context) (connector.Instance, error) {
	cfg := pkg.ConfigFromContext(ctx).Connector
	adapters, selector, err := parser.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(adapters, selector, connector.OptionsFromConfig(cfg)...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connector) ConnectImpl(ctx context.Context, params *connector.Parameter) error {
	var s Settings
	if err := params.DecodeSettings(&s); err != nil {
		return err
	}
	if s.Mode == "" {
		s.Mode = ModeServer
	}
	if s.Delimiter == "" {
		s.Delimiter = defaultDelimiter
	}
	if s.BufferSize <= 0 {
		s.BufferSize = pkg.BytesPoolInstance.Size()
	}
	if s.QueueSize <= 0 {
		s.QueueSize = defaultQueueSize
	}
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = defaultReconnectDelay
	}
	c.settings = s
	c.params = params
	c.push = params.NotificationInterval() <= 0 || c.NotificationsEnabled()
	c.queue = make(chan frame, s.QueueSize)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	log := pkg.LoggerFromContext(ctx)
	switch s.Mode {
	case ModeServer:
		listener, err := net.Listen("tcp", params.Address())
		if err != nil {
			cancel()
			return fmt.Errorf("tcpServer监听程序启动失败: %w", err)
		}
		c.listener = listener
		c.cancel = cancel
		c.wg.Add(1)
		go c.accept(runCtx)
		log.Info("TCPServer 开始监听", zap.String("addr", listener.Addr().String()))
	case ModeClient:
		conn, err := net.DialTimeout("tcp", params.Address(), params.RequestTimeout())
		if err != nil {
			cancel()
			return fmt.Errorf("无法连接到服务器: %w", err)
		}
		c.cancel = cancel
		c.wg.Add(1)
		go c.handleConnection(runCtx, conn)
		log.Info("成功连接到服务器", zap.String("serverAddr", params.Address()))
	default:
		cancel()
		return fmt.Errorf("%w: 未知的 TCP 模式 %s", connector.ErrConfiguration, s.Mode)
	}
	return nil
}

// Addr 返回服务端监听地址，客户端模式或未连接时为 nil
func (c *Connector) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// accept 一直阻塞接受新连接，只有监听器关闭时才退出
func (c *Connector) accept(ctx context.Context) {
	defer c.wg.Done()
	log := c.Logger()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			// 检查错误是否由于监听器已关闭
			if errors.Is(err, net.ErrClosed) {
				log.Info("监听器已关闭，停止接受连接")
				return
			}
			log.Error("接受连接失败", zap.Error(err))
			continue
		}
		channel, ok := c.deviceID(conn.RemoteAddr())
		if !ok {
			log.Warn("白名单启用，拒绝未在白名单中的连接", zap.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		log.Info("建立连接", zap.String("remote", conn.RemoteAddr().String()), zap.String("deviceId", channel))
		if old, loaded := c.activeConns.Swap(channel, conn); loaded {
			_ = old.(net.Conn).Close()
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.readFrames(ctx, conn, channel)
			c.activeConns.CompareAndDelete(channel, conn)
			_ = conn.Close()
			if err != nil && ctx.Err() == nil {
				log.Warn("连接读取结束", zap.String("deviceId", channel), zap.Error(err))
			}
		}()
	}
}

// deviceID 由 IP 别名确定来源，白名单启用时未配置别名的来源被拒绝
func (c *Connector) deviceID(addr net.Addr) (string, bool) {
	remote := addr.String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	if alias, exists := c.settings.IPAlias[host]; exists {
		return alias, true
	}
	if c.settings.WhiteList {
		return "", false
	}
	return host, true
}

// handleConnection 处理客户端连接，断开后按重连间隔重连，直到连接器断开
func (c *Connector) handleConnection(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()
	log := c.Logger()
	metrics := pkg.GetPerformanceMetrics()
	addr := c.params.Address()

	for {
		c.activeConns.Store(connector.DefaultChannel, conn)
		err := c.readFrames(ctx, conn, connector.DefaultChannel)
		c.activeConns.CompareAndDelete(connector.DefaultChannel, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("与服务器的连接断开", zap.String("serverAddr", addr), zap.Error(err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.settings.ReconnectDelay):
			}
			conn, err = net.DialTimeout("tcp", addr, c.params.RequestTimeout())
			if err == nil {
				log.Info("成功连接到服务器", zap.String("serverAddr", addr))
				break
			}
			metrics.IncErrorCount()
			log.Warn(fmt.Sprintf("无法连接到服务器，%s 后重试", c.settings.ReconnectDelay), zap.String("serverAddr", addr), zap.Error(err))
		}
	}
}

// readFrames 按分隔符读取帧，连接关闭或出错时返回
func (c *Connector) readFrames(ctx context.Context, conn net.Conn, channel string) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	bp := pkg.BytesPoolInstance.Get()
	defer pkg.BytesPoolInstance.Put(bp)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer((*bp)[:0], c.settings.BufferSize)
	scanner.Split(splitOn([]byte(c.settings.Delimiter)))
	for scanner.Scan() {
		c.deliver(ctx, frame{channel: channel, data: pkg.CopyOf(scanner.Bytes())})
	}
	return scanner.Err()
}

// splitOn 返回按分隔符切分的 bufio.SplitFunc，连接结束时剩余的数据作为最后一帧
func splitOn(delim []byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, delim); i >= 0 {
			return i + len(delim), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

func (c *Connector) deliver(ctx context.Context, f frame) {
	if c.push {
		if _, err := c.Received(ctx, f.channel, f.data, true); err != nil {
			c.Logger().Error("处理 TCP 数据失败", zap.String("channel", f.channel), zap.Error(err))
		}
		return
	}
	select {
	case c.queue <- f:
	case <-ctx.Done():
	}
}

// ReadChannel 取出一个已接收的帧，队列为空时没有数据
func (c *Connector) ReadChannel(context.Context) (string, []byte, bool, error) {
	select {
	case f := <-c.queue:
		return f.channel, f.data, true, nil
	default:
		return "", nil, false, nil
	}
}

func (c *Connector) Read(ctx context.Context) ([]byte, bool, error) {
	_, data, ok, err := c.ReadChannel(ctx)
	return data, ok, err
}

// WriteImpl 写入通道对应的连接并追加分隔符，通道为空且只有一个连接时写入该连接
func (c *Connector) WriteImpl(_ context.Context, data []byte, channel string) error {
	conn, err := c.target(channel)
	if err != nil {
		return err
	}
	if t := c.params.RequestTimeout(); t > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t))
	}
	frame := make([]byte, 0, len(data)+len(c.settings.Delimiter))
	frame = append(append(frame, data...), c.settings.Delimiter...)
	_, err = conn.Write(frame)
	return err
}

func (c *Connector) target(channel string) (net.Conn, error) {
	if v, ok := c.activeConns.Load(channel); ok {
		return v.(net.Conn), nil
	}
	if channel != connector.DefaultChannel {
		return nil, fmt.Errorf("通道 %s 没有活跃的连接", channel)
	}
	var conns []net.Conn
	c.activeConns.Range(func(_, v any) bool {
		conns = append(conns, v.(net.Conn))
		return len(conns) < 2
	})
	if len(conns) != 1 {
		return nil, fmt.Errorf("未指定目标，活跃连接 %d 个", len(conns))
	}
	return conns[0], nil
}

func (c *Connector) DisconnectImpl(context.Context) error {
	log := c.Logger()
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.listener != nil {
		log.Info("关闭监听器并停止接收新连接")
		if err = c.listener.Close(); err != nil {
			err = fmt.Errorf("关闭监听程序失败: %w", err)
		}
	}
	// 关闭所有活跃连接
	c.activeConns.Range(func(key, value any) bool {
		_ = value.(net.Conn).Close()
		c.activeConns.Delete(key)
		return true
	})
	c.wg.Wait()
	c.listener = nil
	return err
}
