package admin

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"linkgate/internal/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStartShutdown(t *testing.T) {
	ctx := context.Background()
	s := NewServer(ctx, pkg.AdminConfig{Enable: true, Addr: "127.0.0.1:0"}, pkg.NewPerformanceMetrics())
	require.NoError(t, s.Start(ctx))

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(shutdownCtx))

	_, err = http.Get("http://" + s.Addr() + "/health")
	assert.Error(t, err)
}

func TestServerDefaults(t *testing.T) {
	s := NewServer(context.Background(), pkg.AdminConfig{}, nil)
	assert.Equal(t, DefaultAddr, s.Addr())
	// 未启动时关闭不报错
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestServerListenFailure(t *testing.T) {
	ctx := context.Background()
	first := NewServer(ctx, pkg.AdminConfig{Addr: "127.0.0.1:0"}, pkg.NewPerformanceMetrics())
	require.NoError(t, first.Start(ctx))
	defer first.Shutdown(ctx)

	second := NewServer(ctx, pkg.AdminConfig{Addr: first.Addr()}, pkg.NewPerformanceMetrics())
	assert.Error(t, second.Start(ctx))
}
