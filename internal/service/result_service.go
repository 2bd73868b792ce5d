package service

import (
	"context"
	"encoding/json"

	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/game"
	"github.com/wfunc/drawchain/internal/logger"
	"github.com/wfunc/drawchain/internal/models"
	"github.com/wfunc/drawchain/internal/repository"
	"go.uber.org/zap"
)

type resultService struct {
	repo   repository.GameRecordRepository
	logger *zap.Logger
}

// NewResultService 创建对局归档服务
func NewResultService(repo repository.GameRecordRepository, log *zap.Logger) ResultService {
	return &resultService{
		repo:   repo,
		logger: log,
	}
}

// Archive 持久化结算快照
func (s *resultService) Archive(ctx context.Context, res game.Results) error {
	record, err := toRecord(res)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInvalidParam, "encode results")
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("对局归档失败", zap.String("room_id", res.RoomID), zap.Error(err))
		return err
	}

	logger.LogGameEvent(s.logger, "results_archived", res.RoomID,
		zap.Uint("record_id", record.ID),
		zap.Int("players", len(res.Players)),
		zap.Bool("ended_early", res.EndedEarly))
	return nil
}

// ListResults 分页读取归档
func (s *resultService) ListResults(ctx context.Context, page, pageSize int) ([]*ResultSummary, *repository.Pagination, error) {
	p := repository.NewPagination(page, pageSize)
	records, err := s.repo.List(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*ResultSummary, 0, len(records))
	for _, r := range records {
		summary := toSummary(r)
		out = append(out, &summary)
	}
	return out, p, nil
}

// GetResult 读取单局归档
func (s *resultService) GetResult(ctx context.Context, roomID string) (*ResultDetail, error) {
	record, err := s.repo.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	detail := &ResultDetail{
		ResultSummary: toSummary(record),
		Players:       make([]game.PlayerResult, 0, len(record.Players)),
	}
	for _, p := range record.Players {
		pr := game.PlayerResult{
			ID:             p.PlayerID,
			Username:       p.Username,
			StartingPrompt: p.StartingPrompt,
		}
		if err := p.Drawings.Decode(&pr.Drawings); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "decode drawings")
		}
		if err := p.Guesses.Decode(&pr.Guesses); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "decode guesses")
		}
		detail.Players = append(detail.Players, pr)
	}
	if err := record.Chains.Decode(&detail.Chains); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "decode chains")
	}
	return detail, nil
}

func toRecord(res game.Results) (*models.GameRecord, error) {
	chains, err := json.Marshal(res.Chains)
	if err != nil {
		return nil, err
	}

	record := &models.GameRecord{
		RoomID:      res.RoomID,
		JoinCode:    res.JoinCode,
		Rounds:      res.Rounds,
		EndedEarly:  res.EndedEarly,
		PlayerCount: len(res.Players),
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Chains:      models.JSON(chains),
	}
	for seat, p := range res.Players {
		drawings, err := models.NewJSON(p.Drawings)
		if err != nil {
			return nil, err
		}
		guesses, err := models.NewJSON(p.Guesses)
		if err != nil {
			return nil, err
		}
		record.Players = append(record.Players, models.PlayerRecord{
			Seat:           seat,
			PlayerID:       p.ID,
			Username:       p.Username,
			StartingPrompt: p.StartingPrompt,
			Drawings:       drawings,
			Guesses:        guesses,
		})
	}
	return record, nil
}

func toSummary(r *models.GameRecord) ResultSummary {
	return ResultSummary{
		RoomID:      r.RoomID,
		JoinCode:    r.JoinCode,
		Rounds:      r.Rounds,
		EndedEarly:  r.EndedEarly,
		PlayerCount: r.PlayerCount,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
