package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/utils"
)

// 上下文键
const (
	ContextPlayerID = "playerID"
	ContextRoomID   = "roomID"
	ContextUsername = "username"
)

// SessionVerifier 会话令牌校验
type SessionVerifier interface {
	Verify(token string) (utils.Session, error)
}

// AuthMiddleware 会话认证中间件
type AuthMiddleware struct {
	verifier   SessionVerifier
	cookieName string
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(verifier SessionVerifier, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:   verifier,
		cookieName: cookieName,
	}
}

// RequireSession 需要有效会话的中间件
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request, m.cookieName)
		if token == "" {
			abort(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		session, err := m.verifier.Verify(token)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(ContextPlayerID, session.PlayerID)
		c.Set(ContextRoomID, session.RoomID)
		c.Set(ContextUsername, session.Username)
		c.Next()
	}
}

// OptionalSession 令牌有效时写入上下文，不强制要求
func (m *AuthMiddleware) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFromRequest(c.Request, m.cookieName); token != "" {
			if session, err := m.verifier.Verify(token); err == nil {
				c.Set(ContextPlayerID, session.PlayerID)
				c.Set(ContextRoomID, session.RoomID)
				c.Set(ContextUsername, session.Username)
			}
		}
		c.Next()
	}
}

// TokenFromRequest 依次从 Cookie、Authorization 头和 token 查询参数中读取令牌
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return r.URL.Query().Get("token")
}

// GetPlayerID 从上下文获取玩家ID
func GetPlayerID(c *gin.Context) (string, bool) {
	return getString(c, ContextPlayerID)
}

// GetRoomID 从上下文获取房间ID
func GetRoomID(c *gin.Context) (string, bool) {
	return getString(c, ContextRoomID)
}

func getString(c *gin.Context, key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func abort(c *gin.Context, err error) {
	code := apperrors.GetCode(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), gin.H{
		"code":    code,
		"message": err.Error(),
	})
}
