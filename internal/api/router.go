package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/drawchain/internal/config"
	"github.com/wfunc/drawchain/internal/database"
	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/middleware"
	"github.com/wfunc/drawchain/internal/service"
	"github.com/wfunc/drawchain/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// Router API路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	db       *gorm.DB
	registry *game.Registry
	services *service.Services
	hub      *websocket.Hub

	roomHandler    *RoomHandler
	resultHandler  *ResultHandler
	wsHandler      *websocket.Handler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器，db 可为 nil
func NewRouter(cfg *config.Config, db *gorm.DB, registry *game.Registry, services *service.Services, hub *websocket.Hub, log *zap.Logger) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(log))

	cookieName := cfg.Security.JWT.CookieName
	r := &Router{
		engine:         engine,
		cfg:            cfg,
		db:             db,
		registry:       registry,
		services:       services,
		hub:            hub,
		roomHandler:    NewRoomHandler(registry, services.Sessions, cookieName, publicURL(cfg), log),
		resultHandler:  NewResultHandler(services.Results),
		wsHandler:      websocket.NewHandler(cfg.WebSocket, cookieName, services.Sessions, registry, hub),
		authMiddleware: middleware.NewAuthMiddleware(services.Sessions, cookieName),
		log:            log,
	}
	r.setupRoutes()
	return r
}

// publicURL 未配置时使用监听地址
func publicURL(cfg *config.Config) string {
	if cfg.Server.PublicURL != "" {
		return cfg.Server.PublicURL
	}
	return "http://" + cfg.Server.Address()
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		rooms := v1.Group("/rooms")
		{
			rooms.POST("", r.roomHandler.CreateRoom)
			rooms.POST("/join", r.roomHandler.JoinRoom)
			rooms.GET("/:code", r.roomHandler.GetRoom)
			rooms.GET("/:code/qr", r.roomHandler.RoomQR)
		}

		session := v1.Group("/session")
		session.Use(r.authMiddleware.RequireSession())
		{
			session.GET("", r.currentSession)
		}

		results := v1.Group("/results")
		{
			results.GET("", r.resultHandler.ListResults)
			results.GET("/:room_id", r.resultHandler.GetResult)
		}
	}

	// 身份在升级之后校验，以便用 1008 关闭码拒绝
	r.engine.GET(r.cfg.WebSocket.Path, r.wsHandler.Handle)

	if r.cfg.Docs.Enabled {
		registerOpenAPIRoutes(r.engine)
		registerSwaggerRoutes(r.engine)
	}

	r.engine.NoRoute(notFound)
}

// currentSession 返回令牌对应的房间与玩家，客户端据此恢复页面
func (r *Router) currentSession(c *gin.Context) {
	playerID, _ := middleware.GetPlayerID(c)
	roomID, _ := middleware.GetRoomID(c)
	username, _ := c.Get(middleware.ContextUsername)

	_, active := r.registry.FindByID(roomID)
	c.JSON(http.StatusOK, gin.H{
		"player_id": playerID,
		"room_id":   roomID,
		"username":  username,
		"active":    active,
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":      "healthy",
		"rooms":       r.registry.Len(),
		"connections": r.hub.Count(),
		"database":    "disabled",
	}

	if r.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := database.Ping(ctx, r.db); err != nil {
			r.log.Warn("数据库ping失败", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
