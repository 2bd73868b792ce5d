package models

import (
	"time"
)

// GameRecord 已结束对局的归档
type GameRecord struct {
	BaseModel
	RoomID      string    `gorm:"uniqueIndex;size:64;not null" json:"room_id"`
	JoinCode    string    `gorm:"size:6;index" json:"join_code"`
	Rounds      int       `json:"rounds"`
	EndedEarly  bool      `json:"ended_early"`
	PlayerCount int       `json:"player_count"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `gorm:"index" json:"finished_at"`
	Chains      JSON      `json:"chains"`

	// 关联
	Players []PlayerRecord `gorm:"foreignKey:GameRecordID" json:"players,omitempty"`
}

// PlayerRecord 对局中单个玩家的完整记录
type PlayerRecord struct {
	BaseModel
	GameRecordID   uint   `gorm:"not null;index" json:"game_record_id"`
	Seat           int    `json:"seat"`
	PlayerID       string `gorm:"size:64;not null" json:"player_id"`
	Username       string `gorm:"size:64;not null" json:"username"`
	StartingPrompt string `gorm:"size:255" json:"starting_prompt"`
	Drawings       JSON   `json:"drawings"`
	Guesses        JSON   `json:"guesses"`
}

// TableName 表名
func (GameRecord) TableName() string {
	return "game_records"
}

// TableName 表名
func (PlayerRecord) TableName() string {
	return "player_records"
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&GameRecord{},
		&PlayerRecord{},
	}
}
