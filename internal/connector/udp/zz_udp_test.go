package udp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	values []any
}

func (r *collector) add(v any) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *collector) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newStringConnector(t *testing.T, adapters ...pkg.AdapterConfig) *Connector {
	t.Helper()
	if len(adapters) == 0 {
		adapters = []pkg.AdapterConfig{{Type: "string"}}
	}
	as, err := parser.NewAdapters(adapters)
	require.NoError(t, err)
	sel, err := parser.NewSelector("channel")
	require.NoError(t, err)
	c, err := New(as, sel, connector.WithMetrics(pkg.NewPerformanceMetrics()))
	require.NoError(t, err)
	return c
}

func params(port int, interval time.Duration, settings map[string]any) *connector.Parameter {
	b := connector.NewParameterBuilder("127.0.0.1", port).
		SetNotificationInterval(interval).
		SetRequestTimeout(50 * time.Millisecond)
	for k, v := range settings {
		b.SetSpecificSetting(k, v)
	}
	return b.Build()
}

func dial(t *testing.T, addr net.Addr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestUdpServer(t *testing.T) {
	Convey("测试 UDP 服务端", t, func() {
		ctx := context.Background()

		Convey("推送模式下收到的数据报直接交给回调", func() {
			c := newStringConnector(t)
			got := &collector{}
			c.Listen(got.add)
			So(c.Connect(ctx, params(0, 0, nil)), ShouldBeNil)
			defer c.Disconnect(ctx)
			So(c.IsPolling(), ShouldBeFalse)

			client := dial(t, c.LocalAddr())
			_, err := client.Write([]byte("hello"))
			So(err, ShouldBeNil)
			So(eventually(func() bool { return len(got.all()) == 1 }), ShouldBeTrue)
			So(got.all()[0], ShouldEqual, "hello")

			Convey("只有一个来源时写入默认通道发回该来源", func() {
				So(c.WriteValue(ctx, "ack"), ShouldBeNil)
				buf := make([]byte, 16)
				So(client.SetReadDeadline(time.Now().Add(time.Second)), ShouldBeNil)
				n, err := client.Read(buf)
				So(err, ShouldBeNil)
				So(string(buf[:n]), ShouldEqual, "ack")
			})
		})

		Convey("轮询模式下数据报进入队列，由轮询取出", func() {
			c := newStringConnector(t)
			got := &collector{}
			c.Listen(got.add)
			So(c.Connect(ctx, params(0, 10*time.Millisecond, nil)), ShouldBeNil)
			defer c.Disconnect(ctx)
			So(c.IsPolling(), ShouldBeTrue)

			client := dial(t, c.LocalAddr())
			for _, m := range []string{"a", "b", "c"} {
				_, err := client.Write([]byte(m))
				So(err, ShouldBeNil)
			}
			So(eventually(func() bool { return len(got.all()) == 3 }), ShouldBeTrue)
			So(got.all(), ShouldResemble, []any{"a", "b", "c"})
		})

		Convey("IP 别名作为通道，白名单拒绝未知来源", func() {
			c := newStringConnector(t,
				pkg.AdapterConfig{Type: "string", OutputChannel: "other"},
				pkg.AdapterConfig{Type: "json", OutputChannel: "dev-1"},
			)
			got := &collector{}
			c.Listen(got.add)
			So(c.Connect(ctx, params(0, 0, map[string]any{
				"whiteList": true,
				"ipAlias":   map[string]any{"127.0.0.1": "dev-1"},
			})), ShouldBeNil)
			defer c.Disconnect(ctx)

			client := dial(t, c.LocalAddr())
			_, err := client.Write([]byte(`{"v":1}`))
			So(err, ShouldBeNil)
			So(eventually(func() bool { return len(got.all()) == 1 }), ShouldBeTrue)
			So(got.all()[0], ShouldResemble, map[string]any{"v": float64(1)})

			Convey("写入别名通道发往对应来源", func() {
				addr, err := c.target("dev-1")
				So(err, ShouldBeNil)
				So(addr.String(), ShouldEqual, client.LocalAddr().String())
			})
		})

		Convey("断开后连接关闭，接收协程退出", func() {
			c := newStringConnector(t)
			So(c.Connect(ctx, params(0, 0, nil)), ShouldBeNil)
			So(c.Disconnect(ctx), ShouldBeNil)
			So(c.LocalAddr(), ShouldBeNil)
			So(c.ConnectorState(), ShouldEqual, connector.Disconnected)
		})

		Convey("未知模式是配置错误", func() {
			c := newStringConnector(t)
			err := c.Connect(ctx, params(0, 0, map[string]any{"mode": "multicast"}))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "未知的 UDP 模式")
		})
	})
}

func TestUdpClient(t *testing.T) {
	Convey("测试 UDP 客户端", t, func() {
		ctx := context.Background()
		server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		So(err, ShouldBeNil)
		defer server.Close()
		port := server.LocalAddr().(*net.UDPAddr).Port

		c := newStringConnector(t)
		got := &collector{}
		c.Listen(got.add)
		So(c.Connect(ctx, params(port, 0, map[string]any{"mode": ModeClient})), ShouldBeNil)
		defer c.Disconnect(ctx)

		So(c.WriteValue(ctx, "ping"), ShouldBeNil)
		buf := make([]byte, 16)
		So(server.SetReadDeadline(time.Now().Add(time.Second)), ShouldBeNil)
		n, from, err := server.ReadFromUDP(buf)
		So(err, ShouldBeNil)
		So(string(buf[:n]), ShouldEqual, "ping")

		_, err = server.WriteToUDP([]byte("pong"), from)
		So(err, ShouldBeNil)
		So(eventually(func() bool { return len(got.all()) == 1 }), ShouldBeTrue)
		So(got.all()[0], ShouldEqual, "pong")
	})
}
