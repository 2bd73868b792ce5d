package websocket

import (
	"bytes"
	"encoding/json"

	"github.com/wfunc/drawchain/internal/config"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// inbound 客户端原始消息，字段缺失与零值需要区分
type inbound struct {
	Type    game.CommandType `json:"type"`
	Round   *int             `json:"round"`
	Prompt  *string          `json:"prompt"`
	Guess   *string          `json:"guess"`
	Drawing json.RawMessage  `json:"drawing"`
}

// Router 单个连接的消息解码与限流
type Router struct {
	playerID string
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewRouter 创建消息路由
func NewRouter(playerID string, cfg config.WebSocketConfig, log *zap.Logger) *Router {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Router{
		playerID: playerID,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log,
	}
}

// Decode 校验消息结构并转换为房间命令
func (r *Router) Decode(data []byte) (game.Command, error) {
	if !r.limiter.Allow() {
		return game.Command{}, apperrors.New(apperrors.ErrRateLimited, r.playerID)
	}

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return game.Command{}, apperrors.Wrap(err, apperrors.ErrMessageFormat, "invalid json")
	}
	logger.LogWebSocketMessage(r.log, "receive", string(in.Type), r.playerID)

	cmd := game.Command{Type: in.Type}
	switch in.Type {
	case game.CmdPlayerListRequest, game.CmdStartGame, game.CmdEndGame:

	case game.CmdSetPrompt:
		if in.Prompt == nil {
			return game.Command{}, missing(in.Type, "prompt")
		}
		cmd.Prompt = *in.Prompt

	case game.CmdSetGuess:
		if in.Round == nil {
			return game.Command{}, missing(in.Type, "round")
		}
		if in.Guess == nil {
			return game.Command{}, missing(in.Type, "guess")
		}
		cmd.Round = *in.Round
		cmd.Guess = *in.Guess

	case game.CmdSetDrawing:
		if in.Round == nil {
			return game.Command{}, missing(in.Type, "round")
		}
		if !isDrawing(in.Drawing) {
			return game.Command{}, missing(in.Type, "drawing")
		}
		cmd.Round = *in.Round
		cmd.Drawing = in.Drawing

	case "":
		return game.Command{}, apperrors.New(apperrors.ErrMessageFormat, "missing type")

	default:
		return game.Command{}, apperrors.Newf(apperrors.ErrMessageFormat, "unknown type %q", in.Type)
	}
	return cmd, nil
}

func missing(typ game.CommandType, field string) error {
	return apperrors.Newf(apperrors.ErrMessageFormat, "%s requires %s", typ, field)
}

// isDrawing 画作对服务端不透明，只要求是 JSON 对象或数组
func isDrawing(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
