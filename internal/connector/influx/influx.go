package influx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"
	"linkgate/internal/worker"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

// Name 连接器名称
const Name = "InfluxDB"

const defaultBatchSize = 100

func init() {
	connector.Register(connector.Descriptor{
		ID:   "influxdb",
		Name: Name,
		Capabilities: connector.Capabilities{
			SpecificSettings: []string{"org", "bucket", "measurement", "tags", "batchSize", "timeField", "query"},
			SupportedQueries: []string{"flux", "timeseries"},
		},
		Factory: NewFromContext,
	})
}

// Settings InfluxDB 连接器的专有配置
type Settings struct {
	Org         string   `mapstructure:"org"`
	Bucket      string   `mapstructure:"bucket"`
	Measurement string   `mapstructure:"measurement"` // 默认通道写入的 measurement
	Tags        []string `mapstructure:"tags"`        // 作为 tag 写入的字段
	BatchSize   int      `mapstructure:"batchSize"`   // 每个工作者缓存的点数，达到后写入
	TimeField   string   `mapstructure:"timeField"`   // 时间字段，unix 纳秒或 RFC3339，默认 ts
	Query       string   `mapstructure:"query"`       // 轮询时执行的 flux，为空时读取 measurement 的最新记录
}

// PointWriter api.WriteAPIBlocking 中用到的方法
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Backend InfluxDB 的读写入口
type Backend interface {
	PointWriter
	Query(ctx context.Context, flux string) ([]map[string]any, error)
	Close()
}

// BackendFactory 根据地址、令牌和配置创建 Backend
type BackendFactory func(url, token string, s Settings) Backend

type clientBackend struct {
	client influxdb2.Client
	api.WriteAPIBlocking
	query api.QueryAPI
}

// NewClientBackend 使用 influxdb2 客户端创建 Backend
func NewClientBackend(url, token string, s Settings) Backend {
	client := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions().SetBatchSize(uint(s.BatchSize)))
	return &clientBackend{
		client:           client,
		WriteAPIBlocking: client.WriteAPIBlocking(s.Org, s.Bucket),
		query:            client.QueryAPI(s.Org),
	}
}

func (b *clientBackend) Query(ctx context.Context, flux string) ([]map[string]any, error) {
	result, err := b.query.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer result.Close()
	var records []map[string]any
	for result.Next() {
		records = append(records, result.Record().Values())
	}
	return records, result.Err()
}

func (b *clientBackend) Close() { b.client.Close() }

// session 工作者独占的点缓存
type session struct {
	mu     sync.Mutex
	points []*write.Point
	writer PointWriter
	batch  int
}

func (s *session) add(ctx context.Context, points ...*write.Point) error {
	s.mu.Lock()
	s.points = append(s.points, points...)
	if len(s.points) < s.batch {
		s.mu.Unlock()
		return nil
	}
	pending := s.points
	s.points = nil
	s.mu.Unlock()
	return s.writer.WritePoint(ctx, pending...)
}

func (s *session) flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.points
	s.points = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return s.writer.WritePoint(ctx, pending...)
}

// Dispose 写入剩余的点
func (s *session) Dispose() error {
	ctx, cancel := context.WithTimeout(context.Background(), connector.DefaultRequestTimeout)
	defer cancel()
	return s.flush(ctx)
}

// Connector InfluxDB 连接器。写入的 JSON 对象转换为点，携带工作者的写入按工作者缓存成批；
// 读取执行 flux 查询，结果以 JSON 数组交给适配器
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	newBackend BackendFactory
	workers    *worker.Manager[*session]

	settings Settings
	timeout  time.Duration
	interval time.Duration
	backend  Backend
	tags     map[string]struct{}
}

// Option 配置 InfluxDB 连接器
type Option func(*Connector)

// WithBackendFactory 替换 Backend 的创建方式
func WithBackendFactory(f BackendFactory) Option {
	return func(c *Connector) { c.newBackend = f }
}

// WithWorkerOptions 配置按工作者的点缓存管理器
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(c *Connector) {
		c.workers = worker.NewManager[*session](c.newSession, opts...)
	}
}

// New 创建 InfluxDB 连接器
func New(adapters []parser.Adapter, selector parser.Selector, opts []Option, baseOpts ...connector.Option) (*Connector, error) {
	c := &Connector{newBackend: NewClientBackend}
	c.workers = worker.NewManager[*session](c.newSession)
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

// NewFromContext 使用 context 中的配置创建 InfluxDB 连接器
func NewFromContext(ctx context.Context) (connector.Instance, error) {
	cfg := pkg.ConfigFromContext(ctx).Connector
	adapters, selector, err := parser.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithWorkerOptions(worker.WithLogger(pkg.LoggerFromContext(ctx)))}
	c, err := New(adapters, selector, opts, connector.OptionsFromConfig(cfg)...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connector) newSession(context.Context, *worker.Worker) (*session, error) {
	if c.backend == nil {
		return nil, connector.ErrNotConnected
	}
	return &session{writer: c.backend, batch: c.settings.BatchSize}, nil
}

// Workers 实现 connector.WorkerScoped
func (c *Connector) Workers() connector.Sweeper { return c.workers }

// ServerURL 由连接参数得到服务地址，https/ssl 使用 https
func ServerURL(params *connector.Parameter) string {
	scheme := "http"
	if s := params.Schema(); s == connector.SchemaHTTPS || s == connector.SchemaSSL {
		scheme = "https"
	}
	u := fmt.Sprintf("%s://%s", scheme, params.Host())
	if params.Port() > 0 {
		u += ":" + strconv.Itoa(params.Port())
	}
	if p := params.EndpointPath(); p != "" {
		u += "/" + strings.TrimPrefix(p, "/")
	}
	return u
}

// token issued 身份直接作为令牌，username 身份使用 1.x 兼容的 user:password
func token(params *connector.Parameter, url string) string {
	id, ok := params.IdentityToken(url)
	if !ok {
		return ""
	}
	switch id.Type {
	case connector.IdentityIssued:
		return id.Token
	case connector.IdentityUsername:
		return id.User + ":" + id.Token
	default:
		return ""
	}
}

func (c *Connector) ConnectImpl(ctx context.Context, params *connector.Parameter) error {
	var s Settings
	if err := params.DecodeSettings(&s); err != nil {
		return err
	}
	if s.Bucket == "" {
		return fmt.Errorf("%w: 未配置 bucket", connector.ErrConfiguration)
	}
	// 检查 BatchSize 是否为零或未设置，否则会出现 /0 的panic
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.TimeField == "" {
		s.TimeField = "ts"
	}
	c.settings = s
	c.timeout = params.RequestTimeout()
	c.interval = params.NotificationInterval()
	c.tags = make(map[string]struct{}, len(s.Tags))
	for _, tag := range s.Tags {
		c.tags[tag] = struct{}{}
	}

	url := ServerURL(params)
	c.backend = c.newBackend(url, token(params, url), s)
	pkg.LoggerFromContext(ctx).Debug("InfluxDB配置", zap.String("url", url), zap.Any("settings", s))
	return nil
}

func (c *Connector) DisconnectImpl(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	// 客户端关闭前写入所有工作者缓存的点
	var err error
	c.workers.Range(func(id worker.ID, s *session) bool {
		if e := s.flush(ctx); e != nil {
			err = fmt.Errorf("写入工作者 %d 缓存的点失败: %w", id, e)
		}
		return true
	})
	c.backend.Close()
	c.backend = nil
	return err
}

// WriteImpl 通道为 measurement，默认通道使用配置的 measurement
func (c *Connector) WriteImpl(ctx context.Context, data []byte, channel string) error {
	measurement := channel
	if measurement == "" {
		measurement = c.settings.Measurement
	}
	if measurement == "" {
		return fmt.Errorf("未指定 measurement")
	}
	points, err := c.toPoints(measurement, data)
	if err != nil {
		return err
	}
	if _, ok := worker.FromContext(ctx); ok {
		s, err := c.workers.Obtain(ctx)
		if err != nil {
			return err
		}
		return s.add(ctx, points...)
	}
	return c.backend.WritePoint(ctx, points...)
}

// toPoints 将 JSON 对象或对象数组转换为点
func (c *Connector) toPoints(measurement string, data []byte) ([]*write.Point, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("解析写入数据失败: %w", err)
	}
	var objects []map[string]any
	switch t := v.(type) {
	case map[string]any:
		objects = append(objects, t)
	case []any:
		for _, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("写入数据的元素不是对象: %T", item)
			}
			objects = append(objects, obj)
		}
	default:
		return nil, fmt.Errorf("写入数据不是对象: %T", v)
	}

	points := make([]*write.Point, 0, len(objects))
	for _, obj := range objects {
		p, err := c.toPoint(measurement, obj)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func (c *Connector) toPoint(measurement string, obj map[string]any) (*write.Point, error) {
	ts := time.Now()
	tags := make(map[string]string)
	fields := make(map[string]any)
	for key, value := range obj {
		if value == nil {
			continue // 如果值为 nil，直接跳过
		}
		if key == c.settings.TimeField {
			t, err := parseTime(value)
			if err != nil {
				return nil, err
			}
			ts = t
			continue
		}
		if _, isTag := c.tags[key]; isTag {
			tags[key] = tagValue(value)
			continue
		}
		fields[key] = fieldValue(value)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("点 %s 没有字段", measurement)
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts), nil
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("时间字段不是整数: %w", err)
		}
		return time.Unix(0, n), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, fmt.Errorf("不支持的时间字段类型 %T", v)
	}
}

func tagValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func fieldValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Read 执行配置的 flux，未配置时读取 measurement 的最新记录
func (c *Connector) Read(ctx context.Context) ([]byte, bool, error) {
	flux := c.settings.Query
	if flux == "" {
		if c.settings.Measurement == "" {
			return nil, false, nil
		}
		flux = fmt.Sprintf(`from(bucket: %q) |> range(start: 0) |> filter(fn: (r) => r._measurement == %q) |> last()`,
			c.settings.Bucket, c.settings.Measurement)
	}
	return c.query(ctx, flux)
}

// ReadQuery 实现 connector.QueryReader，StringQuery 为 flux 原文
func (c *Connector) ReadQuery(ctx context.Context, q connector.Query) ([]byte, bool, error) {
	switch t := q.(type) {
	case connector.StringQuery:
		return c.query(ctx, t.Query)
	case *connector.StringQuery:
		return c.query(ctx, t.Query)
	case connector.TimeseriesQuery:
		return c.query(ctx, c.TimeseriesFlux(t, time.Now()))
	case *connector.TimeseriesQuery:
		return c.query(ctx, c.TimeseriesFlux(*t, time.Now()))
	default:
		return c.Read(ctx)
	}
}

// TimeseriesFlux 将时间范围查询转换为 flux，未指定开始时从最早的记录开始，未指定结束时到 now()
func (c *Connector) TimeseriesFlux(q connector.TimeseriesQuery, now time.Time) string {
	start := "0"
	if t, ok := q.StartTime(now); ok {
		start = t.UTC().Format(time.RFC3339Nano)
	}
	stop := "now()"
	if t, ok := q.EndTime(now); ok {
		stop = t.UTC().Format(time.RFC3339Nano)
	}
	flux := fmt.Sprintf(`from(bucket: %q) |> range(start: %s, stop: %s)`, c.settings.Bucket, start, stop)
	if c.settings.Measurement != "" {
		flux += fmt.Sprintf(` |> filter(fn: (r) => r._measurement == %q)`, c.settings.Measurement)
	}
	return flux
}

func (c *Connector) query(ctx context.Context, flux string) ([]byte, bool, error) {
	if c.backend == nil {
		return nil, false, connector.ErrNotConnected
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	timer := pkg.GetPerformanceMetrics().NewTimer("influxdb_query")
	records, err := c.backend.Query(ctx, flux)
	timer.StopAndLog(c.Logger())
	if err != nil {
		return nil, false, fmt.Errorf("执行 flux 查询失败: %w", err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Connector) SupportedEncryption() string { return "TLS" }

func (c *Connector) EnabledEncryption() string {
	if p := c.Parameter(); p != nil && strings.HasPrefix(ServerURL(p), "https") {
		return "TLS"
	}
	return ""
}
