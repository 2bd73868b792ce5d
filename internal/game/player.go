package game

import (
	"encoding/json"
	"time"
)

// Player 房间内的玩家会话
type Player struct {
	ID       string
	Username string
	JoinedAt time.Time

	StartingPrompt string
	Guesses        []string
	Drawings       []json.RawMessage

	conn Conn
}

// Connected 是否有活跃连接
func (p *Player) Connected() bool {
	return p.conn != nil
}

// allocateSlots 按人数分配猜词与绘画槽位
func (p *Player) allocateSlots(n int) {
	if p.Drawings == nil {
		p.Drawings = make([]json.RawMessage, (n+1)/2)
	}
	if p.Guesses == nil {
		p.Guesses = make([]string, n/2)
	}
}

func (p *Player) hasDrawing(slot int) bool {
	return slot >= 0 && slot < len(p.Drawings) && p.Drawings[slot] != nil
}

func (p *Player) hasGuess(slot int) bool {
	return slot >= 0 && slot < len(p.Guesses) && p.Guesses[slot] != ""
}

func (p *Player) result() PlayerResult {
	drawings := make([]json.RawMessage, len(p.Drawings))
	copy(drawings, p.Drawings)
	guesses := make([]string, len(p.Guesses))
	copy(guesses, p.Guesses)
	return PlayerResult{
		ID:             p.ID,
		Username:       p.Username,
		StartingPrompt: p.StartingPrompt,
		Drawings:       drawings,
		Guesses:        guesses,
	}
}
