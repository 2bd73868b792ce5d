package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/utils"
	"go.uber.org/zap"
)

const (
	roomRequestTimeout = 5 * time.Second
	qrSize             = 320
)

// CreateRoomRequest 创建房间请求
type CreateRoomRequest struct {
	Username string `json:"username" binding:"required"`
}

// JoinRoomRequest 加入房间请求
type JoinRoomRequest struct {
	JoinCode string `json:"join_code" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// SessionResponse 创建或加入房间后返回的会话
type SessionResponse struct {
	RoomID   string `json:"room_id"`
	JoinCode string `json:"join_code"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Host     bool   `json:"host"`
	Token    string `json:"token"`
}

// RoomHandler 房间相关接口
type RoomHandler struct {
	registry   *game.Registry
	sessions   *utils.JWTManager
	cookieName string
	publicURL  string
	logger     *zap.Logger
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(registry *game.Registry, sessions *utils.JWTManager, cookieName, publicURL string, log *zap.Logger) *RoomHandler {
	return &RoomHandler{
		registry:   registry,
		sessions:   sessions,
		cookieName: cookieName,
		publicURL:  strings.TrimRight(publicURL, "/"),
		logger:     log,
	}
}

// CreateRoom 创建房间，调用者成为房主
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), roomRequestTimeout)
	defer cancel()

	_, res, err := h.registry.CreateRoom(ctx, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issue(c, http.StatusCreated, res)
}

// JoinRoom 通过房间码加入大厅中的房间
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), roomRequestTimeout)
	defer cancel()

	_, res, err := h.registry.JoinRoom(ctx, strings.TrimSpace(req.JoinCode), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issue(c, http.StatusOK, res)
}

// issue 签发会话令牌并写入 Cookie
func (h *RoomHandler) issue(c *gin.Context, status int, res game.JoinResult) {
	token, err := h.sessions.Issue(res.PlayerID, res.RoomID, res.Username)
	if err != nil {
		h.logger.Error("签发令牌失败", zap.String("room_id", res.RoomID), zap.Error(err))
		respondError(c, apperrors.Wrap(err, apperrors.ErrUnknown, "issue token"))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, int(h.sessions.Expiry().Seconds()), "/", "", false, true)
	c.JSON(status, SessionResponse{
		RoomID:   res.RoomID,
		JoinCode: res.JoinCode,
		PlayerID: res.PlayerID,
		Username: res.Username,
		Host:     res.Host,
		Token:    token,
	})
}

// GetRoom 房间摘要
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, ok := h.registry.FindByJoinCode(c.Param("code"))
	if !ok {
		respondError(c, apperrors.New(apperrors.ErrRoomNotFound, c.Param("code")))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), roomRequestTimeout)
	defer cancel()

	snap, err := room.Snapshot(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RoomQR 加入链接的二维码
func (h *RoomHandler) RoomQR(c *gin.Context) {
	code := c.Param("code")
	if _, ok := h.registry.FindByJoinCode(code); !ok {
		respondError(c, apperrors.New(apperrors.ErrRoomNotFound, code))
		return
	}

	png, err := qrcode.Encode(h.JoinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrUnknown, "encode qr"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// JoinURL 玩家扫码后打开的加入链接
func (h *RoomHandler) JoinURL(code string) string {
	return h.publicURL + "/join?code=" + url.QueryEscape(code)
}
