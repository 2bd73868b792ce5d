package game

import (
	"encoding/json"
	"time"
)

// Stage 房间阶段
type Stage string

const (
	StageLobby    Stage = "lobby"
	StagePrompt   Stage = "prompt"
	StageDrawing  Stage = "drawing"
	StageGuessing Stage = "guessing"
	StageResults  Stage = "results"
)

// 关闭码与 RFC 6455 保持一致
const (
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// Conn 玩家的实时消息通道
type Conn interface {
	// Send 不得阻塞房间循环，失败即视为该玩家断线
	Send(data []byte) error
	Close(code int, reason string) error
}

// CommandType 客户端消息类型
type CommandType string

const (
	CmdPlayerListRequest CommandType = "player-list-request"
	CmdStartGame         CommandType = "start-game"
	CmdSetPrompt         CommandType = "set-prompt"
	CmdSetGuess          CommandType = "set-guess"
	CmdSetDrawing        CommandType = "set-drawing"
	CmdEndGame           CommandType = "end-game"
)

// Command 经过结构校验的客户端消息
type Command struct {
	Type    CommandType
	Round   int
	Prompt  string
	Guess   string
	Drawing json.RawMessage
}

// 服务端消息类型
const (
	MsgPlayerList         = "player-list"
	MsgPlayerConnected    = "player-connected"
	MsgPlayerDisconnected = "player-disconnected"
	MsgStartGame          = "start-game"
	MsgDrawingStage       = "drawing-stage"
	MsgGuessingStage      = "guessing-stage"
	MsgResultsStage       = "results-stage"
)

// PlayerRef 只暴露用户名的玩家引用
type PlayerRef struct {
	Username string `json:"username"`
}

// PlayerListMessage 在线玩家列表
type PlayerListMessage struct {
	Type    string      `json:"type"`
	Players []PlayerRef `json:"players"`
}

// PlayerEventMessage 玩家上线/下线通知
type PlayerEventMessage struct {
	Type   string    `json:"type"`
	Player PlayerRef `json:"player"`
}

// StartGameMessage 游戏开始通知
type StartGameMessage struct {
	Type string `json:"type"`
}

// DrawingStageMessage 绘画回合
type DrawingStageMessage struct {
	Type      string `json:"type"`
	Prompt    string `json:"prompt"`
	Round     int    `json:"round"`
	StartTime int64  `json:"startTime"`
}

// GuessingStageMessage 猜词回合
type GuessingStageMessage struct {
	Type      string          `json:"type"`
	Drawing   json.RawMessage `json:"drawing"`
	Round     int             `json:"round"`
	StartTime int64           `json:"startTime"`
}

// ResultsStageMessage 结算广播
type ResultsStageMessage struct {
	Type    string         `json:"type"`
	Players []PlayerResult `json:"players"`
	Chains  []Chain        `json:"chains"`
}

// PlayerResult 玩家完整记录
type PlayerResult struct {
	ID             string            `json:"id"`
	Username       string            `json:"username"`
	StartingPrompt string            `json:"startingPrompt"`
	Drawings       []json.RawMessage `json:"drawings"`
	Guesses        []string          `json:"guesses"`
}

// Chain 以某玩家起始提示词为起点的完整传递链
type Chain struct {
	Owner          string      `json:"owner"`
	StartingPrompt string      `json:"startingPrompt"`
	Steps          []ChainStep `json:"steps"`
}

// ChainStep 链中的一步
type ChainStep struct {
	Round    int             `json:"round"`
	Kind     Stage           `json:"kind"`
	Username string          `json:"username"`
	Drawing  json.RawMessage `json:"drawing,omitempty"`
	Guess    string          `json:"guess,omitempty"`
}

// Results 对局结束时交给归档钩子的快照
type Results struct {
	RoomID     string
	JoinCode   string
	Rounds     int
	EndedEarly bool
	StartedAt  time.Time
	FinishedAt time.Time
	Players    []PlayerResult
	Chains     []Chain
}

// PlayerStatus 房间摘要中的玩家状态
type PlayerStatus struct {
	ID        string `json:"-"`
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
	Host      bool   `json:"host"`
}

// Snapshot 房间只读摘要
type Snapshot struct {
	RoomID       string         `json:"room_id"`
	JoinCode     string         `json:"join_code"`
	Stage        Stage          `json:"stage"`
	Round        int            `json:"round"`
	Players      []PlayerStatus `json:"players"`
	LastActivity time.Time      `json:"-"`
	FinishedAt   time.Time      `json:"-"`
}

// JoinResult 加入房间的结果
type JoinResult struct {
	RoomID   string
	JoinCode string
	PlayerID string
	Username string
	Host     bool
}
