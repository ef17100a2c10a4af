package connector

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"linkgate/internal/pkg"
)

// fakeDriver 记录写入，按队列返回读取结果
type fakeDriver struct {
	mu         sync.Mutex
	queue      []string
	always     string
	readErrs   []error
	written    []string
	channels   []string
	connectErr error
	discErr    error

	connects    atomic.Int32
	disconnects atomic.Int32
	reads       atomic.Int32
}

func (d *fakeDriver) ConnectImpl(context.Context, *Parameter) error {
	d.connects.Add(1)
	return d.connectErr
}

func (d *fakeDriver) DisconnectImpl(context.Context) error {
	d.disconnects.Add(1)
	return d.discErr
}

func (d *fakeDriver) Read(context.Context) (string, bool, error) {
	d.reads.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.readErrs) > 0 {
		err := d.readErrs[0]
		d.readErrs = d.readErrs[1:]
		return "", false, err
	}
	if len(d.queue) > 0 {
		v := d.queue[0]
		d.queue = d.queue[1:]
		return v, true, nil
	}
	if d.always != "" {
		return d.always, true, nil
	}
	return "", false, nil
}

func (d *fakeDriver) WriteImpl(_ context.Context, data string, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, data)
	d.channels = append(d.channels, channel)
	return nil
}

func (d *fakeDriver) push(values ...string) {
	d.mu.Lock()
	d.queue = append(d.queue, values...)
	d.mu.Unlock()
}

func (d *fakeDriver) lastWritten() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.written) == 0 {
		return "", ""
	}
	return d.written[len(d.written)-1], d.channels[len(d.channels)-1]
}

type stringAdapter = ProtocolAdapter[string, string, string, string]

func identity(opts ...AdapterOption) stringAdapter {
	return NewIdentityAdapter[string](opts...)
}

// csvAdapter 把 "10,20" 转换为 []int64{10, 20}
func csvAdapter() ProtocolAdapter[string, string, []int64, []int64] {
	return NewTranslatingAdapter[string, string, []int64, []int64](
		func(_ string, data string) ([]int64, error) {
			parts := strings.Split(data, ",")
			out := make([]int64, 0, len(parts))
			for _, p := range parts {
				n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
				if err != nil {
					return nil, err
				}
				out = append(out, n)
			}
			return out, nil
		},
		func(data []int64) (string, error) {
			parts := make([]string, len(data))
			for i, n := range data {
				parts[i] = strconv.FormatInt(n, 10)
			}
			return strings.Join(parts, ","), nil
		},
	)
}

// collector 收集回调值
type collector[T any] struct {
	mu     sync.Mutex
	values []T
}

func (c *collector[T]) Received(v T) {
	c.mu.Lock()
	c.values = append(c.values, v)
	c.mu.Unlock()
}

func (c *collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func (c *collector[T]) All() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.values...)
}

func newStringBase(d *fakeDriver, opts ...Option) *Base[string, string, string, string] {
	opts = append([]Option{WithName("fake"), WithMetrics(pkg.NewPerformanceMetrics())}, opts...)
	b, err := NewBase[string, string, string, string](d, nil, []stringAdapter{identity()}, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

func params(interval time.Duration) *Parameter {
	return NewParameterBuilder("localhost", 0).SetNotificationInterval(interval).Build()
}

func registered(c Info) int {
	n := 0
	for _, e := range Connectors() {
		if e == c {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
