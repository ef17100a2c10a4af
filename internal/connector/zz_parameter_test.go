package connector

import (
	"testing"
	"time"

	"linkgate/internal/cache"
	"linkgate/internal/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterDefaults(t *testing.T) {
	p := NewParameterBuilder("localhost", 4840).Build()

	assert.Equal(t, SchemaTCP, p.Schema())
	assert.Equal(t, DefaultRequestTimeout, p.RequestTimeout())
	assert.Equal(t, DefaultNotificationInterval, p.NotificationInterval())
	assert.Equal(t, DefaultKeepAlive, p.KeepAlive())
	assert.Equal(t, cache.None, p.CacheMode())
	assert.True(t, p.AutoApplicationID())
	assert.NotEmpty(t, p.ApplicationID())
	assert.True(t, p.IsAnonymousIdentity())
	assert.Equal(t, "localhost:4840", p.Address())
	assert.Equal(t, "tcp://localhost:4840", p.URL())
}

func TestParameterBuilder(t *testing.T) {
	b := NewParameterBuilderWithSchema("broker", 1883, SchemaMQTT).
		SetEndpointPath("data").
		SetRequestTimeout(time.Second).
		SetNotificationInterval(-1).
		SetKeepAlive(3*time.Second).
		SetApplicationInformation("app", "test app").
		SetKeyAlias("key").
		SetHostnameVerification(true).
		SetCacheMode(cache.Equals).
		SetIdentities(map[string]IdentityToken{
			AnyEndpoint:      {Type: IdentityUsername, User: "u", Token: "p"},
			"mqtt://special": {Type: IdentityIssued, Token: "t"},
		}).
		SetSpecificSetting("READ_FILES", "a.csv").
		SetSpecificSetting("BATCH", "20")
	p := b.Build()

	// 构造后的修改不影响已构造的参数
	b.SetSpecificSetting("LATE", 1)
	_, ok := p.SpecificSetting("LATE")
	assert.False(t, ok)

	assert.Equal(t, "mqtt://broker:1883/data", p.URL())
	assert.Equal(t, time.Second, p.RequestTimeout())
	assert.Equal(t, time.Duration(-1), p.NotificationInterval())
	assert.Equal(t, "app", p.ApplicationID())
	assert.Equal(t, "test app", p.ApplicationDescription())
	assert.Equal(t, "key", p.KeyAlias())
	assert.True(t, p.HostnameVerification())
	assert.Equal(t, cache.Equals, p.CacheMode())

	id, ok := p.IdentityToken("mqtt://special")
	require.True(t, ok)
	assert.Equal(t, IdentityIssued, id.Type)
	id, ok = p.IdentityToken("mqtt://other")
	require.True(t, ok)
	assert.Equal(t, "u", id.User)
	assert.False(t, p.IsAnonymousIdentity())

	assert.Equal(t, "a.csv", p.SpecificStringSetting("read_files"))
	assert.Equal(t, 20, p.SpecificIntSetting("batch"))
	assert.Equal(t, 0, p.SpecificIntSetting("READ_FILES"))
	assert.Equal(t, "", p.SpecificStringSetting("missing"))

	var s struct {
		ReadFiles string `mapstructure:"READ_FILES"`
		Batch     int    `mapstructure:"BATCH"`
	}
	require.NoError(t, p.DecodeSettings(&s))
	assert.Equal(t, "a.csv", s.ReadFiles)
	assert.Equal(t, 20, s.Batch)
}

func TestParameterFromConfig(t *testing.T) {
	interval, timeout := 50, 100
	cfg := pkg.ConnectorConfig{
		Type:                 "file",
		Host:                 "127.0.0.1",
		Port:                 8080,
		Schema:               "HTTP",
		NotificationInterval: &interval,
		RequestTimeout:       &timeout,
		CacheMode:            "hash",
		Identities: []pkg.IdentityConfig{
			{Endpoint: "", Type: "username", User: "admin", Token: "secret"},
		},
		Settings: map[string]interface{}{"read_files": "a.csv"},
	}
	p, err := ParameterFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, SchemaHTTP, p.Schema())
	assert.Equal(t, 50*time.Millisecond, p.NotificationInterval())
	assert.Equal(t, 100*time.Millisecond, p.RequestTimeout())
	assert.Equal(t, DefaultKeepAlive, p.KeepAlive())
	assert.Equal(t, cache.Hash, p.CacheMode())
	id, ok := p.IdentityToken("http://127.0.0.1:8080")
	require.True(t, ok)
	assert.Equal(t, IdentityUsername, id.Type)
	assert.Equal(t, "a.csv", p.SpecificStringSetting("READ_FILES"))

	cfg.CacheMode = "sometimes"
	_, err = ParameterFromConfig(cfg)
	assert.Error(t, err)

	cfg.CacheMode = ""
	cfg.Schema = "gopher"
	_, err = ParameterFromConfig(cfg)
	assert.EqualError(t, err, "未知的连接协议: gopher")
}

func TestTimeseriesQuery(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	q := TimeseriesQuery{Start: -2, StartKind: RelativeHours, End: now.UnixMilli(), EndKind: Absolute}

	start, ok := q.StartTime(now)
	assert.True(t, ok)
	assert.Equal(t, now.Add(-2*time.Hour), start)
	end, ok := q.EndTime(now)
	assert.True(t, ok)
	assert.True(t, end.Equal(now))

	_, ok = TimeseriesQuery{}.StartTime(now)
	assert.False(t, ok)
	assert.Equal(t, 7*24*time.Hour, RelativeWeeks.Unit())
	assert.Equal(t, time.Duration(0), Absolute.Unit())
}
