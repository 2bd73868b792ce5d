package service

import (
	"context"
	"time"

	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/repository"
)

// ResultService 对局归档服务接口，同时作为房间结束时的归档钩子
type ResultService interface {
	game.Archiver
	ListResults(ctx context.Context, page, pageSize int) ([]*ResultSummary, *repository.Pagination, error)
	GetResult(ctx context.Context, roomID string) (*ResultDetail, error)
}

// ResultSummary 归档列表项
type ResultSummary struct {
	RoomID      string    `json:"room_id"`
	JoinCode    string    `json:"join_code"`
	Rounds      int       `json:"rounds"`
	EndedEarly  bool      `json:"ended_early"`
	PlayerCount int       `json:"player_count"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// ResultDetail 单局完整归档
type ResultDetail struct {
	ResultSummary
	Players []game.PlayerResult `json:"players"`
	Chains  []game.Chain        `json:"chains"`
}
