package mongo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Name 连接器名称
const Name = "MongoDB"

func init() {
	connector.Register(connector.Descriptor{
		ID:   "mongodb",
		Name: Name,
		Capabilities: connector.Capabilities{
			SpecificSettings: []string{"uri", "database", "collections", "writeCollection"},
		},
		Factory: NewFromContext,
	})
}

// Settings MongoDB 连接器的专有配置
type Settings struct {
	URI             string   `mapstructure:"uri"` // 为空时使用 mongodb://host:port
	Database        string   `mapstructure:"database"`
	Collections     []string `mapstructure:"collections"`     // 轮询读取的集合，每个集合是一个通道
	WriteCollection string   `mapstructure:"writeCollection"` // 默认通道写入的集合
}

// Store 按 _id 顺序读取与写入文档
type Store interface {
	// FindAfter 返回 _id 大于 after 的第一个文档，after 为 nil 时从头开始，没有时返回 nil
	FindAfter(ctx context.Context, collection string, after *bson.RawValue) (bson.Raw, error)
	Insert(ctx context.Context, collection string, doc bson.D) error
	Close(ctx context.Context) error
}

// StoreFactory 根据客户端选项创建 Store
type StoreFactory func(ctx context.Context, opts *options.ClientOptions, database string) (Store, error)

type clientStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewClientStore 连接 MongoDB 并检查连接
func NewClientStore(ctx context.Context, opts *options.ClientOptions, database string) (Store, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	// 检查连接
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB 失败: %w", err)
	}
	return &clientStore{client: client, db: client.Database(database)}, nil
}

func (s *clientStore) FindAfter(ctx context.Context, collection string, after *bson.RawValue) (bson.Raw, error) {
	filter := bson.M{}
	if after != nil {
		filter = bson.M{"_id": bson.M{"$gt": *after}}
	}
	res := s.db.Collection(collection).FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}}))
	raw, err := res.Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return raw, err
}

func (s *clientStore) Insert(ctx context.Context, collection string, doc bson.D) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	return err
}

func (s *clientStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Connector MongoDB 连接器。每次轮询按集合轮转读取下一个新文档（按 _id 递增），文档以
// relaxed extended JSON 交给适配器；写入的 extended JSON 作为文档插入通道对应的集合
type Connector struct {
	*connector.Base[[]byte, []byte, any, any]

	newStore StoreFactory

	settings Settings
	timeout  time.Duration
	store    Store

	mu   sync.Mutex
	last map[string]bson.RawValue // 集合 -> 已读取的最后一个 _id
	next int
}

// Option 配置 MongoDB 连接器
type Option func(*Connector)

// WithStoreFactory 替换 Store 的创建方式
func WithStoreFactory(f StoreFactory) Option {
	return func(c *Connector) { c.newStore = f }
}

// New 创建 MongoDB 连接器
func New(adapters []parser.Adapter, selector parser.Selector, opts []Option, baseOpts ...connector.Option) (*Connector, error) {
	c := &Connector{newStore: NewClientStore}
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

// NewFromContext 使用 context 中的配置创建 MongoDB 连接器
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

// ClientOptions 由连接参数和配置得到客户端选项
func ClientOptions(params *connector.Parameter, s Settings) *options.ClientOptions {
	uri := s.URI
	if uri == "" {
		uri = fmt.Sprintf("mongodb://%s", params.Address())
	}
	opts := options.Client().ApplyURI(uri).
		SetConnectTimeout(params.RequestTimeout()).
		SetServerSelectionTimeout(params.RequestTimeout())
	if id, ok := params.IdentityToken(uri); ok && id.Type == connector.IdentityUsername {
		opts.SetAuth(options.Credential{Username: id.User, Password: id.Token})
	}
	if params.Schema() == connector.SchemaSSL {
		opts.SetTLSConfig(&tls.Config{ServerName: params.Host(), InsecureSkipVerify: !params.HostnameVerification()})
	}
	return opts
}

func (c *Connector) ConnectImpl(ctx context.Context, params *connector.Parameter) error {
	var s Settings
	if err := params.DecodeSettings(&s); err != nil {
		return err
	}
	if s.Database == "" {
		return fmt.Errorf("%w: 未配置 database", connector.ErrConfiguration)
	}
	c.settings = s
	c.timeout = params.RequestTimeout()
	if c.timeout <= 0 {
		c.timeout = connector.DefaultRequestTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	store, err := c.newStore(connectCtx, ClientOptions(params, s), s.Database)
	if err != nil {
		return err
	}
	c.store = store

	c.mu.Lock()
	c.last = make(map[string]bson.RawValue)
	c.next = 0
	c.mu.Unlock()
	pkg.LoggerFromContext(ctx).Info("成功连接到 MongoDB", zap.String("database", s.Database), zap.Strings("collections", s.Collections))
	return nil
}

func (c *Connector) DisconnectImpl(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	err := c.store.Close(closeCtx)
	c.store = nil
	if err != nil {
		return fmt.Errorf("关闭 MongoDB 连接失败: %w", err)
	}
	return nil
}

// ReadChannel 从下一个集合开始轮转，返回第一个读到的新文档
func (c *Connector) ReadChannel(ctx context.Context) (string, []byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.settings.Collections)
	for i := 0; i < n; i++ {
		coll := c.settings.Collections[(c.next+i)%n]
		data, ok, err := c.readNext(ctx, coll)
		if err != nil {
			return "", nil, false, err
		}
		if ok {
			c.next = (c.next + i + 1) % n
			return coll, data, true, nil
		}
	}
	return "", nil, false, nil
}

// readNext 读取集合中上次 _id 之后的文档，调用方持有 c.mu
func (c *Connector) readNext(ctx context.Context, coll string) ([]byte, bool, error) {
	var after *bson.RawValue
	if v, ok := c.last[coll]; ok {
		after = &v
	}
	readCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	doc, err := c.store.FindAfter(readCtx, coll, after)
	if err != nil {
		return nil, false, fmt.Errorf("读取集合 %s 失败: %w", coll, err)
	}
	if doc == nil {
		return nil, false, nil
	}
	id, err := doc.LookupErr("_id")
	if err != nil {
		return nil, false, fmt.Errorf("集合 %s 的文档没有 _id: %w", coll, err)
	}
	c.last[coll] = id
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Connector) Read(ctx context.Context) ([]byte, bool, error) {
	_, data, ok, err := c.ReadChannel(ctx)
	return data, ok, err
}

// WriteImpl 插入通道对应的集合，默认通道使用 writeCollection
func (c *Connector) WriteImpl(ctx context.Context, data []byte, channel string) error {
	coll := channel
	if coll == "" {
		coll = c.settings.WriteCollection
	}
	if coll == "" {
		return fmt.Errorf("未指定写入集合")
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return fmt.Errorf("解析 extended JSON 失败: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.Insert(writeCtx, coll, doc); err != nil {
		return fmt.Errorf("插入集合 %s 失败: %w", coll, err)
	}
	return nil
}

func (c *Connector) SupportedEncryption() string { return "TLS" }

func (c *Connector) EnabledEncryption() string {
	if p := c.Parameter(); p != nil && p.Schema() == connector.SchemaSSL {
		return "TLS"
	}
	return ""
}
