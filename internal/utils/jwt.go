package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/wfunc/drawchain/internal/errors"
)

const tokenIssuer = "drawchain"

// SessionClaims 玩家会话令牌，绑定玩家与房间
type SessionClaims struct {
	PlayerID string `json:"player_id"`
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Session 校验通过后的会话身份
type Session struct {
	PlayerID string
	RoomID   string
	Username string
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey []byte
	expiry    time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secretKey),
		expiry:    expiry,
	}
}

// Issue 为已加入房间的玩家签发会话令牌
func (j *JWTManager) Issue(playerID, roomID, username string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		PlayerID: playerID,
		RoomID:   roomID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   playerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrUnknown, "签发令牌失败")
	}
	return signed, nil
}

// Verify 校验令牌并返回会话身份
func (j *JWTManager) Verify(tokenString string) (Session, error) {
	if tokenString == "" {
		return Session{}, apperrors.New(apperrors.ErrAuthentication, "缺少令牌")
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, apperrors.Wrap(err, apperrors.ErrTokenExpired)
		}
		return Session{}, apperrors.Wrap(err, apperrors.ErrTokenInvalid)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return Session{}, apperrors.New(apperrors.ErrTokenInvalid)
	}
	if claims.PlayerID == "" || claims.RoomID == "" {
		return Session{}, apperrors.New(apperrors.ErrTokenInvalid, "令牌缺少玩家或房间信息")
	}

	return Session{PlayerID: claims.PlayerID, RoomID: claims.RoomID, Username: claims.Username}, nil
}

// Expiry 令牌有效期
func (j *JWTManager) Expiry() time.Duration {
	return j.expiry
}
