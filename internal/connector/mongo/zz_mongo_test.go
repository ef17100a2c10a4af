package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// memStore 按插入顺序保存文档，_id 为递增的 int64
type memStore struct {
	mu       sync.Mutex
	docs     map[string][]bson.Raw
	inserted map[string][]bson.D
	opts     *options.ClientOptions
	findErr  error
	closed   bool
}

func newMemStore() *memStore {
	return &memStore{docs: map[string][]bson.Raw{}, inserted: map[string][]bson.D{}}
}

func (s *memStore) add(t *testing.T, coll string, doc bson.D) {
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	s.mu.Lock()
	s.docs[coll] = append(s.docs[coll], raw)
	s.mu.Unlock()
}

func (s *memStore) FindAfter(_ context.Context, coll string, after *bson.RawValue) (bson.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, doc := range s.docs[coll] {
		if after == nil || doc.Lookup("_id").AsInt64() > after.AsInt64() {
			return doc, nil
		}
	}
	return nil, nil
}

func (s *memStore) Insert(_ context.Context, coll string, doc bson.D) error {
	s.mu.Lock()
	s.inserted[coll] = append(s.inserted[coll], doc)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close(context.Context) error {
	s.closed = true
	return nil
}

func newConnector(t *testing.T, store *memStore) *Connector {
	t.Helper()
	as, err := parser.NewAdapters([]pkg.AdapterConfig{
		{Type: "json", OutputChannel: "readings", InputChannel: "commands"},
		{Type: "string", OutputChannel: "events"},
	})
	require.NoError(t, err)
	sel, err := parser.NewSelector("channel")
	require.NoError(t, err)
	c, err := New(as, sel, []Option{WithStoreFactory(func(_ context.Context, opts *options.ClientOptions, _ string) (Store, error) {
		store.opts = opts
		return store, nil
	})}, connector.WithMetrics(pkg.NewPerformanceMetrics()))
	require.NoError(t, err)
	return c
}

func params(settings map[string]any) *connector.Parameter {
	b := connector.NewParameterBuilder("db", 27017).
		SetNotificationInterval(0).
		SetRequestTimeout(time.Second).
		SetIdentities(map[string]connector.IdentityToken{
			connector.AnyEndpoint: {Type: connector.IdentityUsername, User: "root", Token: "pw"},
		}).
		SetSpecificSetting("database", "plant").
		SetSpecificSetting("collections", []any{"readings", "events"})
	for k, v := range settings {
		b.SetSpecificSetting(k, v)
	}
	return b.Build()
}

func TestMongoConnector(t *testing.T) {
	Convey("给定读取两个集合的 MongoDB 连接器", t, func() {
		ctx := context.Background()
		store := newMemStore()
		c := newConnector(t, store)
		var got []any
		c.Listen(func(v any) { got = append(got, v) })
		So(c.Connect(ctx, params(nil)), ShouldBeNil)
		Reset(func() { _ = c.Disconnect(ctx) })

		Convey("客户端选项来自连接参数", func() {
			So(store.opts.Hosts, ShouldResemble, []string{"db:27017"})
			So(store.opts.Auth.Username, ShouldEqual, "root")
			So(store.opts.Auth.Password, ShouldEqual, "pw")
		})

		Convey("按集合轮转读取，每个文档只读取一次", func() {
			store.add(t, "readings", bson.D{{Key: "_id", Value: int64(1)}, {Key: "t", Value: 20.5}})
			store.add(t, "readings", bson.D{{Key: "_id", Value: int64(2)}, {Key: "t", Value: 21.5}})
			store.add(t, "events", bson.D{{Key: "_id", Value: int64(1)}, {Key: "e", Value: "start"}})

			for i := 0; i < 4; i++ {
				So(c.Trigger(ctx), ShouldBeNil)
			}
			So(got, ShouldHaveLength, 3)
			So(got[0], ShouldResemble, map[string]any{"_id": float64(1), "t": 20.5})
			So(got[1], ShouldEqual, `{"_id":1,"e":"start"}`)
			So(got[2], ShouldResemble, map[string]any{"_id": float64(2), "t": 21.5})
		})

		Convey("读取失败返回错误", func() {
			store.findErr = errors.New("timeout")
			err := c.Trigger(ctx)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "读取集合 readings 失败")
		})

		Convey("写入的 extended JSON 插入输入通道对应的集合", func() {
			So(c.WriteValue(ctx, map[string]any{"cmd": "stop", "n": 2}), ShouldBeNil)
			docs := store.inserted["commands"]
			So(docs, ShouldHaveLength, 1)
			So(docs[0].Map()["cmd"], ShouldEqual, "stop")
		})

		Convey("断开时关闭连接", func() {
			So(c.Disconnect(ctx), ShouldBeNil)
			So(store.closed, ShouldBeTrue)
		})
	})
}

func TestMongoConfiguration(t *testing.T) {
	c := newConnector(t, newMemStore())
	err := c.Connect(context.Background(), connector.NewParameterBuilder("db", 27017).Build())
	require.Error(t, err)
	assert.True(t, errors.Is(err, connector.ErrConfiguration))

	opts := ClientOptions(connector.NewParameterBuilderWithSchema("db", 27017, connector.SchemaSSL).Build(),
		Settings{URI: "mongodb://a:1,b:2/?replicaSet=rs0"})
	assert.Equal(t, []string{"a:1", "b:2"}, opts.Hosts)
	assert.NotNil(t, opts.TLSConfig)
	assert.Nil(t, opts.Auth)
}
