package repository

import (
	"context"
	"errors"

	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/models"
	"gorm.io/gorm"
)

// GameRecordRepository 对局归档仓储接口
type GameRecordRepository interface {
	BaseRepository
	Create(ctx context.Context, record *models.GameRecord) error
	FindByRoomID(ctx context.Context, roomID string) (*models.GameRecord, error)
	List(ctx context.Context, p *Pagination) ([]*models.GameRecord, error)
}

type gameRecordRepo struct {
	*BaseRepo
}

// NewGameRecordRepository 创建对局归档仓储
func NewGameRecordRepository(db *gorm.DB) GameRecordRepository {
	return &gameRecordRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 在一个事务中写入对局与全部玩家记录
func (r *gameRecordRepo) Create(ctx context.Context, record *models.GameRecord) error {
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		players := record.Players
		record.Players = nil
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		for i := range players {
			players[i].GameRecordID = record.ID
		}
		if len(players) > 0 {
			if err := tx.Create(&players).Error; err != nil {
				return err
			}
		}
		record.Players = players
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, record.RoomID)
	}
	return nil
}

// FindByRoomID 按房间ID查找，玩家按座位排序
func (r *gameRecordRepo) FindByRoomID(ctx context.Context, roomID string) (*models.GameRecord, error) {
	var record models.GameRecord
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("seat ASC")
		}).
		Where("room_id = ?", roomID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrNotFound, roomID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return &record, nil
}

// List 按结束时间倒序分页，不含玩家明细
func (r *gameRecordRepo) List(ctx context.Context, p *Pagination) ([]*models.GameRecord, error) {
	if p == nil {
		p = NewPagination(1, DefaultPageSize)
	}

	query := r.db.WithContext(ctx).Model(&models.GameRecord{})
	if err := query.Count(&p.Total).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	var records []*models.GameRecord
	err := query.
		Order("finished_at DESC, id DESC").
		Scopes(Paginate(p)).
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return records, nil
}
