package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/drawchain/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 创建独立的测试数据库，测试结束时关闭
func TestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateTestGameRecord 构造一条含玩家记录的对局归档
func CreateTestGameRecord(t *testing.T, roomID string, finishedAt time.Time, usernames ...string) *models.GameRecord {
	t.Helper()
	chains, err := models.NewJSON([]map[string]string{{"owner": usernames[0]}})
	require.NoError(t, err)

	record := &models.GameRecord{
		RoomID:      roomID,
		JoinCode:    "123456",
		Rounds:      len(usernames) - 1,
		PlayerCount: len(usernames),
		StartedAt:   finishedAt.Add(-10 * time.Minute),
		FinishedAt:  finishedAt,
		Chains:      chains,
	}
	for i, name := range usernames {
		drawings, err := models.NewJSON([]map[string]string{{"by": name}})
		require.NoError(t, err)
		guesses, err := models.NewJSON([]string{name + "-guess"})
		require.NoError(t, err)
		record.Players = append(record.Players, models.PlayerRecord{
			Seat:           i,
			PlayerID:       roomID + "-" + name,
			Username:       name,
			StartingPrompt: name + "-prompt",
			Drawings:       drawings,
			Guesses:        guesses,
		})
	}
	return record
}

// AssertGameRecord 比较归档的主要字段
func AssertGameRecord(t *testing.T, expected, actual *models.GameRecord) {
	t.Helper()
	assert.Equal(t, expected.RoomID, actual.RoomID)
	assert.Equal(t, expected.JoinCode, actual.JoinCode)
	assert.Equal(t, expected.Rounds, actual.Rounds)
	assert.Equal(t, expected.EndedEarly, actual.EndedEarly)
	assert.Equal(t, expected.PlayerCount, actual.PlayerCount)
	assert.WithinDuration(t, expected.FinishedAt, actual.FinishedAt, time.Second)
	assert.JSONEq(t, string(expected.Chains), string(actual.Chains))
}
