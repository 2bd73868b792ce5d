package service

import (
	"time"

	"github.com/wfunc/drawchain/internal/config"
	"github.com/wfunc/drawchain/internal/repository"
	"github.com/wfunc/drawchain/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	// Results 数据库关闭时为 nil
	Results  ResultService
	Sessions *utils.JWTManager
}

// NewServices 创建服务集合，db 可为 nil
func NewServices(db *gorm.DB, cfg *config.SecurityConfig, log *zap.Logger) *Services {
	s := &Services{
		Sessions: utils.NewJWTManager(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpireHours)*time.Hour),
	}
	if db != nil {
		s.Results = NewResultService(repository.NewGameRecordRepository(db), log)
	}
	return s
}
