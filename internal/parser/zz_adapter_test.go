package parser

import (
	"context"
	"errors"
	"testing"

	"linkgate/internal/cache"
	"linkgate/internal/connector"
	"linkgate/internal/pkg"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSV(t *testing.T) {
	Convey("csv 适配器", t, func() {
		Convey("数字转换为 int64 和 float64", func() {
			a, err := New(pkg.AdapterConfig{Type: "csv"})
			So(err, ShouldBeNil)
			v, err := a.AdaptOutput("", []byte("10, 2.5,abc\n"))
			So(err, ShouldBeNil)
			So(v, ShouldResemble, []any{int64(10), 2.5, "abc"})

			raw, err := a.AdaptInput([]any{int64(10), 2.5, "abc"})
			So(err, ShouldBeNil)
			So(string(raw), ShouldEqual, "10,2.5,abc")
		})

		Convey("按 fields 输出 map", func() {
			a, err := New(pkg.AdapterConfig{Type: "csv", Separator: ";", Fields: []string{"x", "y"}})
			So(err, ShouldBeNil)
			v, err := a.AdaptOutput("", []byte("1;2"))
			So(err, ShouldBeNil)
			So(v, ShouldResemble, map[string]any{"x": int64(1), "y": int64(2)})

			raw, err := a.AdaptInput(map[string]any{"y": 4, "x": 3})
			So(err, ShouldBeNil)
			So(string(raw), ShouldEqual, "3;4")

			_, err = a.AdaptOutput("", []byte("1;2;3"))
			So(err, ShouldNotBeNil)
		})

		Convey("空数据报错", func() {
			a, _ := New(pkg.AdapterConfig{Type: "csv"})
			_, err := a.AdaptOutput("", []byte("  \n"))
			So(err, ShouldNotBeNil)
			_, err = a.AdaptInput(3.5)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestJSONAndText(t *testing.T) {
	a, err := New(pkg.AdapterConfig{Type: "json"})
	require.NoError(t, err)
	v, err := a.AdaptOutput("", []byte(`{"x":1,"tags":["a"]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0, "tags": []any{"a"}}, v)
	raw, err := a.AdaptInput(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1,"tags":["a"]}`, string(raw))
	_, err = a.AdaptOutput("", []byte("{"))
	assert.Error(t, err)

	p, err := New(pkg.AdapterConfig{})
	require.NoError(t, err)
	src := []byte("abc")
	out, err := p.AdaptOutput("", src)
	require.NoError(t, err)
	src[0] = 'x'
	assert.Equal(t, []byte("abc"), out, "passthrough 输出应为副本")
	raw, err = p.AdaptInput("hi")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), raw)
	_, err = p.AdaptInput(1)
	assert.Error(t, err)

	s, err := New(pkg.AdapterConfig{Type: "STRING", OutputChannel: "a", InputChannel: "b"})
	require.NoError(t, err)
	out, err = s.AdaptOutput("a", []byte("text"))
	require.NoError(t, err)
	assert.Equal(t, "text", out)
	raw, err = s.AdaptInput(12)
	require.NoError(t, err)
	assert.Equal(t, []byte("12"), raw)
	assert.Equal(t, "a", s.OutputChannel())
	assert.Equal(t, "b", s.InputChannel())
}

func TestExpr(t *testing.T) {
	a, err := New(pkg.AdapterConfig{
		Type:            "expr",
		Expression:      `{"channel": channel, "parts": split(data, ",")}`,
		InputExpression: `upper(value)`,
	})
	require.NoError(t, err)

	v, err := a.AdaptOutput("sensor", []byte("a,b"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"channel": "sensor", "parts": []string{"a", "b"}}, v)

	raw, err := a.AdaptInput("abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(raw))

	b, err := New(pkg.AdapterConfig{Type: "expr", Expression: `len(bytes)`})
	require.NoError(t, err)
	v, err = b.AdaptOutput("", []byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	raw, err = b.AdaptInput(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(raw))

	_, err = New(pkg.AdapterConfig{Type: "expr"})
	assert.Error(t, err)
	_, err = New(pkg.AdapterConfig{Type: "expr", Expression: "data +"})
	assert.Error(t, err)
}

func TestNewAdapters(t *testing.T) {
	adapters, err := NewAdapters(nil)
	require.NoError(t, err)
	assert.Len(t, adapters, 1)

	_, err = NewAdapters([]pkg.AdapterConfig{{Type: "csv"}, {Type: "protobuf"}})
	assert.True(t, errors.Is(err, connector.ErrConfiguration))
	assert.Contains(t, err.Error(), "第 1 个适配器")

	adapters, selector, err := FromConfig(pkg.ConnectorConfig{
		Selector: "channel",
		Adapters: []pkg.AdapterConfig{{Type: "string"}, {Type: "csv", OutputChannel: "a.csv"}},
	})
	require.NoError(t, err)
	assert.Len(t, adapters, 2)
	_, ok := selector.(*connector.ChannelSelector[[]byte, []byte, any, any])
	assert.True(t, ok)

	_, _, err = FromConfig(pkg.ConnectorConfig{Selector: "random"})
	assert.Error(t, err)
	assert.Contains(t, Types(), "expr")
}

type lineDriver struct{ written [][]byte }

func (d *lineDriver) ConnectImpl(context.Context, *connector.Parameter) error { return nil }
func (d *lineDriver) DisconnectImpl(context.Context) error                   { return nil }
func (d *lineDriver) Read(context.Context) ([]byte, bool, error)              { return nil, false, nil }
func (d *lineDriver) WriteImpl(_ context.Context, data []byte, _ string) error {
	d.written = append(d.written, data)
	return nil
}

// csv 适配器 + 默认选择器 + Hash 缓存
func TestCSVWithHashCache(t *testing.T) {
	ctx := context.Background()
	a, err := New(pkg.AdapterConfig{Type: "csv"})
	require.NoError(t, err)
	d := &lineDriver{}
	b, err := connector.NewBase[[]byte, []byte, any, any](d, nil, []Adapter{a}, connector.WithMetrics(pkg.NewPerformanceMetrics()))
	require.NoError(t, err)

	var got []any
	b.SetReceptionCallback(connector.ReceptionFunc[any](func(v any) { got = append(got, v) }))
	p := connector.NewParameterBuilder("", 0).SetNotificationInterval(0).SetCacheMode(cache.Hash).Build()
	require.NoError(t, b.Connect(ctx, p))
	defer b.Disconnect(ctx)

	v, err := b.Received(ctx, connector.DefaultChannel, []byte("10,20"), true)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(20)}, v)
	assert.Len(t, got, 1)

	v, err = b.Received(ctx, connector.DefaultChannel, []byte("10,20"), true)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(20)}, v)
	assert.Len(t, got, 1)

	_, err = b.Received(ctx, connector.DefaultChannel, []byte("10,21"), true)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// 写入后原样读回
	require.NoError(t, b.Write(ctx, []any{int64(10), int64(21)}))
	back, err := b.Received(ctx, connector.DefaultChannel, d.written[0], false)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(21)}, back)
}
