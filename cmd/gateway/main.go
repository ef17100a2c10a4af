package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"linkgate/internal"
	"linkgate/internal/admin"
	_ "linkgate/internal/connector/all"
	"linkgate/internal/pkg"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// syncLog 安全地同步日志，忽略与标准输出相关的错误
func syncLog(log *zap.Logger) {
	// Windows平台上，同步标准输出时会出现"The handle is invalid"错误
	err := log.Sync()
	if err != nil && !strings.Contains(err.Error(), "The handle is invalid") {
		log.Error("程序退出时同步日志失败", zap.Error(err))
	}
}

func main() {
	configDir := "config"
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	// 1. 加载配置
	config, err := pkg.InitCommon(configDir)
	if err != nil {
		fmt.Printf("[main] 加载配置失败: %s\n", err)
		os.Exit(1)
	}

	// 2. 初始化log
	log := pkg.NewLogger(&config.Log)
	log.Info("程序启动", zap.String("version", config.Version))
	log.Info("配置信息", zap.Any("common", config))
	log.Info("==== 初始化流程开始 ====")

	// 3. 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 10)
	ctx = pkg.WithErrChan(ctx, errChan)
	ctx = pkg.WithConfig(ctx, config)
	ctx = pkg.WithLogger(ctx, log)

	pipeline, err := internal.NewPipeline(ctx)
	if err != nil {
		log.Error("创建管道失败", zap.Error(err))
		cancel()
		syncLog(log)
		os.Exit(1)
	}

	var adminServer *admin.Server
	if config.Admin.Enable {
		adminServer = admin.NewServer(pkg.WithLoggerAndModule(ctx, log, "Admin"), config.Admin, nil)
		if err := adminServer.Start(ctx); err != nil {
			log.Error("启动管理接口失败", zap.Error(err))
			cancel()
			syncLog(log)
			os.Exit(1)
		}
	}

	printStartupLogo()
	// 4. 启动管道，失败会通过 errChan 送达
	_ = pipeline.Start(ctx)

	// 5. 主线程监听终止信号
	si := make(chan os.Signal, 1)
	signal.Notify(si, os.Interrupt, syscall.SIGTERM)
	code := 0
	select {
	case <-si:
		log.Info("收到退出信号，正在退出...")
	case bad := <-errChan:
		log.Error("Error occurred", zap.Error(bad))
		code = 1
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(pkg.WithLogger(context.Background(), log), 5*time.Second)
	defer stopCancel()
	err = pipeline.Stop(stopCtx)
	if adminServer != nil {
		err = multierr.Append(err, adminServer.Shutdown(stopCtx))
	}
	if err != nil {
		log.Error("退出时清理失败", zap.Error(err))
	}
	// 停止过程中可能产生的错误
drain:
	for {
		select {
		case e := <-errChan:
			log.Error("Error occurred before shutdown", zap.Error(e))
		default:
			break drain
		}
	}
	pkg.GetPerformanceMetrics().LogMetrics(log)
	syncLog(log)
	os.Exit(code)
}

func printStartupLogo() {
	logo := `
	 _      _       _     ____       _
	| |    (_)_ __ | | __/ ___| __ _| |_ ___
	| |    | | '_ \| |/ / |  _ / _' | __/ _ \
	| |___ | | | | |   <| |_| | (_| | ||  __/
	|_____||_|_| |_|_|\_\\____|\__,_|\__\___|

`
	fmt.Print(logo)
}
