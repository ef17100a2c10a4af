package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"linkgate/internal/admin/router"
	"linkgate/internal/pkg"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultAddr 未配置监听地址时使用
const DefaultAddr = ":8080"

// Server 管理接口
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
	done     chan struct{}
}

// NewServer 创建管理接口，metrics 为 nil 时使用全局指标
func NewServer(ctx context.Context, cfg pkg.AdminConfig, metrics *pkg.PerformanceMetrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	if metrics == nil {
		metrics = pkg.GetPerformanceMetrics()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := pkg.LoggerFromContext(ctx)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router.SetupRouter(logger, metrics),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start 监听并在后台提供服务，运行期间的错误投递到 context 的错误通道
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("管理接口监听 %s 失败: %w", s.srv.Addr, err)
	}
	s.listener = l
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("管理接口异常退出", zap.Error(err))
			pkg.ReportError(ctx, fmt.Errorf("管理接口异常退出: %w", err))
		}
	}()
	s.logger.Info("管理接口已启动", zap.String("addr", l.Addr().String()))
	return nil
}

// Addr 返回实际监听地址，未启动时返回配置的地址
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	s.logger.Info("管理接口已关闭")
	return err
}
