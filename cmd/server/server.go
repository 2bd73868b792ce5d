package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/drawchain/internal/api"
	"github.com/wfunc/drawchain/internal/config"
	"github.com/wfunc/drawchain/internal/database"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/logger"
	"github.com/wfunc/drawchain/internal/service"
	"github.com/wfunc/drawchain/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *gorm.DB
	registry *game.Registry
	services *service.Services
	hub      *websocket.Hub
	http     *http.Server

	errCh  chan error
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		errCh:  make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Errors HTTP 服务异常退出时收到错误
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动画作接龙服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "初始化组件失败")
	}
	s.startServices()

	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.cfg.Server.Address()),
		zap.String("websocket", s.cfg.WebSocket.Path),
		zap.String("public_url", s.cfg.Server.PublicURL),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initDatabase(); err != nil {
		return err
	}

	s.services = service.NewServices(s.db, &s.cfg.Security, logger.GetModuleLogger("service"))

	opts := []game.Option{game.WithLogger(logger.GetModuleLogger("game"))}
	if s.services.Results != nil {
		opts = append(opts, game.WithArchiver(s.services.Results))
	}
	s.registry = game.NewRegistry(s.cfg.Game, opts...)
	s.hub = websocket.NewHub(logger.GetModuleLogger("websocket"))

	gin.SetMode(ginMode(s.cfg.Server.Mode))
	router := api.NewRouter(s.cfg, s.db, s.registry, s.services, s.hub, logger.GetModuleLogger("api"))
	s.http = &http.Server{
		Addr:    s.cfg.Server.Address(),
		Handler: router.Handler(),
		// 不设置 WriteTimeout，升级后的连接由 websocket.write_timeout 控制
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化归档数据库，关闭时跳过
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库已禁用，对局不归档")
		return nil
	}

	s.logger.Info("初始化数据库...")
	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	s.db = database.GetDB()

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(s.db); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// startServices 启动 HTTP 服务与房间回收
func (s *Server) startServices() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.Run(s.ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP服务监听", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停止接收新连接，再关闭房间，房间会以 1001 断开玩家
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}
	s.cancel()
	if err := s.registry.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("房间关闭超时", zap.Error(err))
	}
	s.hub.CloseAll(game.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return apperrors.New(apperrors.ErrTimeout, "关闭超时")
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
	return nil
}

// reloadConfig 只应用日志级别与游戏参数，其余配置需要重启
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.registry.UpdateConfig(newCfg.Game)

	if newCfg.Server.Address() != s.cfg.Server.Address() {
		s.logger.Warn("监听地址变更需要重启生效",
			zap.String("current", s.cfg.Server.Address()),
			zap.String("configured", newCfg.Server.Address()))
	}
	s.logger.Info("配置重新加载完成",
		zap.String("log_level", newCfg.Log.Level),
		zap.Duration("round_timeout", newCfg.Game.RoundTimeout()))
}

func ginMode(mode string) string {
	switch mode {
	case gin.ReleaseMode, gin.TestMode:
		return mode
	default:
		return gin.DebugMode
	}
}
