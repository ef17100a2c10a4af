package udp

import (
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
const Name = "UDP"

const (
	ModeServer = "server"
	ModeClient = "client"

	defaultQueueSize = 200
)

func init() {
	connector.Register(connector.Descriptor{
		ID:   "udp",
		Name: Name,
		Capabilities: connector.Capabilities{
			SupportsEvents:   true,
			SpecificSettings: []string{"mode", "whiteList", "ipAlias", "bufferSize", "queueSize"},
		},
		Factory: NewFromContext,
	})
}

// Settings UDP 连接器的专有配置
type Settings struct {
	Mode      string            `mapstructure:"mode"`      // server 监听，client 连接到 host:port
	WhiteList bool              `mapstructure:"whiteList"` // 是否启用白名单
	IPAlias   map[string]string `mapstructure:"ipAlias"`   // ip别名，同时作为白名单
	// BufferSize 为 0 时使用字节池的 64KB 缓冲区
	BufferSize int `mapstructure:"bufferSize"`
	QueueSize  int `mapstructure:"queueSize"`
}

type datagram struct {
	channel string
	data    []byte
}

// Connector UDP 连接器。服务端模式下每个来源（别名或远端地址）是一个通道，写入时通道即目标
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	settings Settings
	timeout  time.Duration
	conn     *net.UDPConn
	queue    chan datagram
	push     bool

	mu      sync.Mutex
	remotes map[string]*net.UDPAddr // 通道 -> 远端地址

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 UDP 连接器
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

// NewFromContext 使用 context 中的配置创建 UDP 连接器
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
	if s.QueueSize <= 0 {
		s.QueueSize = defaultQueueSize
	}
	c.settings = s
	c.timeout = params.RequestTimeout()
	c.push = params.NotificationInterval() <= 0 || c.NotificationsEnabled()
	c.remotes = make(map[string]*net.UDPAddr)

	// 配置UDP地址
	addr, err := net.ResolveUDPAddr("udp", params.Address())
	if err != nil {
		return fmt.Errorf("解析 UDP 地址失败: %w", err)
	}
	switch s.Mode {
	case ModeServer:
		c.conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("UDP监听程序启动失败: %w", err)
		}
	case ModeClient:
		c.conn, err = net.DialUDP("udp", nil, addr)
		if err != nil {
			return fmt.Errorf("无法连接到服务器: %w", err)
		}
	default:
		return fmt.Errorf("%w: 未知的 UDP 模式 %s", connector.ErrConfiguration, s.Mode)
	}
	c.queue = make(chan datagram, s.QueueSize)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.wg.Add(1)
	go c.receive(runCtx)
	pkg.LoggerFromContext(ctx).Info("UDP服务已启动", zap.String("mode", s.Mode), zap.String("addr", c.conn.LocalAddr().String()))
	return nil
}

// LocalAddr 返回本地地址，未连接时为 nil
func (c *Connector) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// receive 不断接收数据报，直到连接关闭
func (c *Connector) receive(ctx context.Context) {
	defer c.wg.Done()
	log := c.Logger()

	var buffer []byte
	if c.settings.BufferSize > 0 {
		buffer = make([]byte, c.settings.BufferSize)
	} else {
		bp := pkg.BytesPoolInstance.Get()
		defer pkg.BytesPoolInstance.Put(bp)
		buffer = *bp
	}

	for ctx.Err() == nil {
		// 在每次读取之前设置读取超时
		if c.timeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
				log.Error("设置读取超时失败", zap.Error(err))
			}
		}
		n, addr, err := c.conn.ReadFromUDP(buffer)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				continue // 继续等待新的数据包
			}
			if errors.Is(err, net.ErrClosed) {
				log.Info("UDP 连接已关闭")
				return
			}
			pkg.GetPerformanceMetrics().IncErrorCount()
			log.Error("从 UDP 接收数据失败", zap.Error(err))
			continue
		}

		channel := connector.DefaultChannel
		if c.settings.Mode == ModeServer {
			var ok bool
			if channel, ok = c.deviceID(addr); !ok {
				log.Warn("白名单启用，拒绝未在白名单中的数据", zap.String("remote", addr.String()))
				continue
			}
		}
		c.deliver(ctx, datagram{channel: channel, data: pkg.CopyOf(buffer[:n])})
	}
}

// deviceID 由 IP 别名确定来源，白名单启用时未配置别名的来源被拒绝
func (c *Connector) deviceID(addr *net.UDPAddr) (string, bool) {
	remote := addr.String()
	id, exists := c.settings.IPAlias[remote]
	if !exists {
		id, exists = c.settings.IPAlias[addr.IP.String()]
	}
	if !exists {
		if c.settings.WhiteList {
			return "", false
		}
		id = remote
	}
	c.mu.Lock()
	if _, known := c.remotes[id]; !known {
		c.Logger().Info("接收到新的数据源", zap.String("remote", remote), zap.String("deviceId", id))
	}
	c.remotes[id] = addr
	c.mu.Unlock()
	return id, true
}

func (c *Connector) deliver(ctx context.Context, d datagram) {
	if c.push {
		if _, err := c.Received(ctx, d.channel, d.data, true); err != nil {
			c.Logger().Error("处理 UDP 数据失败", zap.String("channel", d.channel), zap.Error(err))
		}
		return
	}
	select {
	case c.queue <- d:
	default:
		pkg.GetPerformanceMetrics().IncMsgErrors(c.Name())
		c.Logger().Warn("接收队列已满，数据被丢弃", zap.String("channel", d.channel))
	}
}

// ReadChannel 取出一个已接收的数据报，队列为空时没有数据
func (c *Connector) ReadChannel(context.Context) (string, []byte, bool, error) {
	select {
	case d := <-c.queue:
		return d.channel, d.data, true, nil
	default:
		return "", nil, false, nil
	}
}

func (c *Connector) Read(ctx context.Context) ([]byte, bool, error) {
	_, data, ok, err := c.ReadChannel(ctx)
	return data, ok, err
}

// WriteImpl 客户端发往服务器；服务端发往通道对应的来源，通道为空且只有一个来源时发往该来源
func (c *Connector) WriteImpl(_ context.Context, data []byte, channel string) error {
	if c.settings.Mode == ModeClient {
		_, err := c.conn.Write(data)
		return err
	}
	addr, err := c.target(channel)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(data, addr)
	return err
}

func (c *Connector) target(channel string) (*net.UDPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr, ok := c.remotes[channel]; ok {
		return addr, nil
	}
	if channel == connector.DefaultChannel {
		if len(c.remotes) == 1 {
			for _, addr := range c.remotes {
				return addr, nil
			}
		}
		return nil, fmt.Errorf("未指定目标，已知来源 %d 个", len(c.remotes))
	}
	return net.ResolveUDPAddr("udp", channel)
}

func (c *Connector) DisconnectImpl(context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.conn != nil {
		if err = c.conn.Close(); err != nil {
			err = fmt.Errorf("UDP连接关闭失败: %w", err)
		}
	}
	c.wg.Wait()
	c.conn = nil
	c.Logger().Info("UDP连接已关闭")
	return err
}
