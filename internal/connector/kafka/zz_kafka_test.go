package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"linkgate/internal/connector"
	"linkgate/internal/parser"
	"linkgate/internal/pkg"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReader struct {
	mock.Mock
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

func (m *MockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockReader) Close() error {
	return m.Called().Error(0)
}

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

type fixture struct {
	c          *Connector
	reader     *MockReader
	writer     *MockWriter
	readerCfg  kafka.ReaderConfig
	realWriter *kafka.Writer

	mu  sync.Mutex
	got []any
}

func (f *fixture) values() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.got...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reader: new(MockReader), writer: new(MockWriter)}
	as, err := parser.NewAdapters([]pkg.AdapterConfig{
		{Type: "string", OutputChannel: "events", InputChannel: "commands"},
		{Type: "json", OutputChannel: "metrics"},
	})
	require.NoError(t, err)
	sel, err := parser.NewSelector("channel")
	require.NoError(t, err)
	c, err := New(as, sel, []Option{
		WithReaderFactory(func(cfg kafka.ReaderConfig) MessageReader {
			f.readerCfg = cfg
			return f.reader
		}),
		WithWriterFactory(func(w *kafka.Writer) MessageWriter {
			f.realWriter = w
			return f.writer
		}),
	}, connector.WithMetrics(pkg.NewPerformanceMetrics()))
	require.NoError(t, err)
	c.Listen(func(v any) {
		f.mu.Lock()
		f.got = append(f.got, v)
		f.mu.Unlock()
	})
	f.c = c
	return f
}

func params(settings map[string]any) *connector.Parameter {
	b := connector.NewParameterBuilder("broker", 9092).
		SetNotificationInterval(0).
		SetRequestTimeout(20 * time.Millisecond).
		SetIdentities(map[string]connector.IdentityToken{
			connector.AnyEndpoint: {Type: connector.IdentityUsername, User: "u", Token: "p"},
		})
	for k, v := range settings {
		b.SetSpecificSetting(k, v)
	}
	return b.Build()
}

func TestKafkaConnector(t *testing.T) {
	Convey("给定消费组读取两个主题的 Kafka 连接器", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		So(f.c.Connect(ctx, params(map[string]any{
			"topics":     []any{"events", "metrics"},
			"groupID":    "linkgate",
			"writeTopic": "out",
		})), ShouldBeNil)
		f.reader.On("Close").Return(nil)
		f.writer.On("Close").Return(nil)
		Reset(func() { _ = f.c.Disconnect(ctx) })

		Convey("reader 和 writer 的配置来自连接参数", func() {
			So(f.readerCfg.Brokers, ShouldResemble, []string{"broker:9092"})
			So(f.readerCfg.GroupTopics, ShouldResemble, []string{"events", "metrics"})
			So(f.readerCfg.GroupID, ShouldEqual, "linkgate")
			So(f.readerCfg.Dialer.SASLMechanism, ShouldResemble, plain.Mechanism{Username: "u", Password: "p"})
			So(f.realWriter.RequiredAcks, ShouldEqual, kafka.RequireOne)
		})

		Convey("触发时拉取一条消息，主题决定适配器，并提交位移", func() {
			msg := kafka.Message{Topic: "metrics", Value: []byte(`{"t":21.5}`), Offset: 7}
			f.reader.On("FetchMessage", mock.Anything).Return(msg, nil).Once()
			f.reader.On("CommitMessages", mock.Anything, []kafka.Message{msg}).Return(nil)

			So(f.c.Trigger(ctx), ShouldBeNil)
			So(f.values(), ShouldResemble, []any{map[string]any{"t": 21.5}})
			f.reader.AssertCalled(t, "CommitMessages", mock.Anything, []kafka.Message{msg})
		})

		Convey("超时内没有消息时没有数据", func() {
			f.reader.On("FetchMessage", mock.Anything).Return(kafka.Message{}, context.DeadlineExceeded).Once()
			So(f.c.Trigger(ctx), ShouldBeNil)
			So(f.values(), ShouldBeEmpty)
		})

		Convey("拉取失败返回错误", func() {
			f.reader.On("FetchMessage", mock.Anything).Return(kafka.Message{}, errors.New("broker down")).Once()
			err := f.c.Trigger(ctx)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "拉取 Kafka 消息失败")
		})

		Convey("写入发往输入通道对应的主题", func() {
			f.writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
				return len(msgs) == 1 && msgs[0].Topic == "commands" && string(msgs[0].Value) == "start"
			})).Return(nil)
			So(f.c.WriteValue(ctx, "start"), ShouldBeNil)
			f.writer.AssertNumberOfCalls(t, "WriteMessages", 1)
		})

		Convey("断开时关闭 reader 和 writer", func() {
			So(f.c.Disconnect(ctx), ShouldBeNil)
			f.reader.AssertCalled(t, "Close")
			f.writer.AssertCalled(t, "Close")
		})
	})
}

func TestKafkaWithoutGroupReadsOneTopic(t *testing.T) {
	f := newFixture(t)
	err := f.c.Connect(context.Background(), params(map[string]any{"topics": []any{"a", "b"}}))
	require.Error(t, err)
	require.True(t, errors.Is(err, connector.ErrConfiguration))

	f = newFixture(t)
	require.NoError(t, f.c.Connect(context.Background(), params(map[string]any{"topics": "events", "requiredAcks": -1})))
	require.Equal(t, "events", f.readerCfg.Topic)
	require.Empty(t, f.readerCfg.GroupTopics)
	require.Equal(t, kafka.RequireAll, f.realWriter.RequiredAcks)

	// 未消费组读取时不提交位移
	f.reader.On("FetchMessage", mock.Anything).Return(kafka.Message{Topic: "events", Value: []byte("x")}, nil).Once()
	require.NoError(t, f.c.Trigger(context.Background()))
	f.reader.AssertNotCalled(t, "CommitMessages", mock.Anything, mock.Anything)
	require.Equal(t, []any{"x"}, f.values())

	f.reader.On("Close").Return(nil)
	f.writer.On("Close").Return(nil)
	require.NoError(t, f.c.Disconnect(context.Background()))
}

func TestKafkaWriteWithoutTopic(t *testing.T) {
	as, err := parser.NewAdapters(nil)
	require.NoError(t, err)
	c, err := New(as, nil, []Option{
		WithReaderFactory(func(kafka.ReaderConfig) MessageReader { return new(MockReader) }),
		WithWriterFactory(func(*kafka.Writer) MessageWriter { return new(MockWriter) }),
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), params(nil)))
	err = c.WriteValue(context.Background(), []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "未指定写入主题")
}
