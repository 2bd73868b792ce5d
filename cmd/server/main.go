package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wfunc/drawchain/internal/config"
	"github.com/wfunc/drawchain/internal/logger"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "drawchain",
		Short:         "Party drawing and guessing relay server.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       fmt.Sprintf("%s (build %s, commit %s)", Version, BuildTime, GitCommit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, cmd.Flags())
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认 ./config/config.yaml)")
	fs.IntP("port", "p", 8080, "监听端口 (env: DRAWCHAIN_SERVER_PORT)")
	fs.String("host", "0.0.0.0", "监听地址 (env: DRAWCHAIN_SERVER_HOST)")
	fs.String("log-level", "info", "日志级别 debug/info/warn/error (env: DRAWCHAIN_LOG_LEVEL)")
	fs.String("mode", "debug", "运行模式 debug/release/test (env: DRAWCHAIN_SERVER_MODE)")

	return cmd
}

func run(ctx context.Context, configPath string, flags *pflag.FlagSet) error {
	if err := config.Init(configPath, flags); err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Cleanup()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Error("服务器启动失败", zap.Error(err))
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("收到退出信号")
	case err := <-server.Errors():
		logger.Error("HTTP服务异常退出", zap.Error(err))
	}

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		return err
	}
	logger.Info("服务器已安全关闭")
	return nil
}
