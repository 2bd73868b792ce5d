package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/drawchain/internal/config"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/logger"
	"github.com/wfunc/drawchain/internal/middleware"
	"github.com/wfunc/drawchain/internal/utils"
	"go.uber.org/zap"
)

const attachTimeout = 5 * time.Second

// RoomLookup 按房间ID查找房间
type RoomLookup interface {
	FindByID(id string) (*game.Room, bool)
}

// Handler 升级连接并把消息路由到房间
type Handler struct {
	cfg        config.WebSocketConfig
	cookieName string
	verifier   middleware.SessionVerifier
	rooms      RoomLookup
	hub        *Hub
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(cfg config.WebSocketConfig, cookieName string, verifier middleware.SessionVerifier, rooms RoomLookup, hub *Hub) *Handler {
	return &Handler{
		cfg:        cfg,
		cookieName: cookieName,
		verifier:   verifier,
		rooms:      rooms,
		hub:        hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.GetModuleLogger("websocket"),
	}
}

// Handle gin 路由入口
func (h *Handler) Handle(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP 先完成升级，再校验身份，拒绝时以 1008 关闭
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r, h.cookieName)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket升级失败", zap.Error(apperrors.Wrap(err, apperrors.ErrWebSocketUpgrade)))
		return
	}

	client := NewClient(conn, h.cfg, h.logger)
	go client.WritePump()

	room, session, reason := h.resolve(token)
	if reason != "" {
		h.refuse(client, reason)
		return
	}
	client.PlayerID = session.PlayerID
	client.RoomID = session.RoomID

	ctx, cancel := context.WithTimeout(context.Background(), attachTimeout)
	err = room.Attach(ctx, session.PlayerID, client)
	cancel()
	if err != nil {
		// 绑定事件可能已入队，超时后仍会被房间处理
		room.Detach(session.PlayerID, client)
		h.refuse(client, refusalReason(err))
		return
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	h.logger.Info("玩家已连接",
		zap.String("room_id", session.RoomID),
		zap.String("player_id", session.PlayerID),
		zap.String("username", session.Username))

	router := NewRouter(session.PlayerID, h.cfg, h.logger)
	client.ReadPump(func(data []byte) {
		cmd, err := router.Decode(data)
		if err != nil {
			h.logger.Debug("丢弃客户端消息",
				zap.String("player_id", session.PlayerID),
				zap.Int("size", len(data)),
				zap.Error(err))
			return
		}
		room.Dispatch(session.PlayerID, client, cmd)
	})

	room.Detach(session.PlayerID, client)
	h.logger.Info("玩家连接关闭",
		zap.String("room_id", session.RoomID),
		zap.String("player_id", session.PlayerID))
}

// resolve 校验令牌并定位房间，失败时返回关闭原因
func (h *Handler) resolve(token string) (*game.Room, utils.Session, string) {
	if token == "" {
		return nil, utils.Session{}, "unauthenticated"
	}
	session, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Debug("令牌校验失败", zap.Error(err))
		return nil, utils.Session{}, "unauthenticated"
	}
	room, ok := h.rooms.FindByID(session.RoomID)
	if !ok {
		return nil, utils.Session{}, "room not found"
	}
	return room, session, ""
}

func refusalReason(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrPlayerNotFound:
		return "player not found"
	case apperrors.ErrGameAlreadyStarted:
		return "game already started"
	case apperrors.ErrRoomNotFound, apperrors.ErrRoomClosed:
		return "room not found"
	default:
		return "attach failed"
	}
}

func (h *Handler) refuse(client *Client, reason string) {
	h.logger.Info("拒绝连接", zap.String("reason", reason))
	_ = client.Close(websocket.ClosePolicyViolation, reason)
}
