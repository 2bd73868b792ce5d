package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/drawchain/internal/config"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/logger"
	"go.uber.org/zap"
)

const (
	joinCodeMin         = 100000
	joinCodeMax         = 999999
	maxJoinCodeAttempts = 64
	snapshotTimeout     = 2 * time.Second
)

// Option 注册表可选项
type Option func(*Registry)

// WithClock 替换时钟
func WithClock(c Clock) Option {
	return func(g *Registry) { g.clock = c }
}

// WithArchiver 设置对局结束钩子
func WithArchiver(a Archiver) Option {
	return func(g *Registry) { g.archiver = a }
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(g *Registry) { g.log = l }
}

// WithCodeGenerator 替换房间码生成器
func WithCodeGenerator(gen func() string) Option {
	return func(g *Registry) { g.codeGen = gen }
}

// Registry 进程内房间注册表，按房间ID与房间码索引
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Room
	byCode map[string]*Room

	cfgMu sync.RWMutex
	cfg   config.GameConfig

	clock    Clock
	archiver Archiver
	log      *zap.Logger
	codeGen  func() string

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	archives sync.WaitGroup
}

// NewRegistry 创建注册表
func NewRegistry(cfg config.GameConfig, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Registry{
		byID:    make(map[string]*Room),
		byCode:  make(map[string]*Room),
		cfg:     cfg,
		clock:   SystemClock(),
		log:     logger.GetModuleLogger("game"),
		codeGen: RandomJoinCode,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RandomJoinCode 在 [100000, 999999] 内均匀取值
func RandomJoinCode() string {
	return fmt.Sprintf("%06d", joinCodeMin+rand.IntN(joinCodeMax-joinCodeMin+1))
}

// UpdateConfig 热更新游戏配置，只影响之后创建的房间
func (g *Registry) UpdateConfig(cfg config.GameConfig) {
	g.cfgMu.Lock()
	g.cfg = cfg
	g.cfgMu.Unlock()
}

// Config 当前游戏配置
func (g *Registry) Config() config.GameConfig {
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()
	return g.cfg
}

// CreateRoom 创建房间，房主为唯一成员
func (g *Registry) CreateRoom(ctx context.Context, hostUsername string) (*Room, JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, JoinResult{}, err
	}

	cfg := g.Config()
	name, err := NormalizeUsername(hostUsername, cfg.MaxUsernameLength)
	if err != nil {
		return nil, JoinResult{}, err
	}

	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.mu.Unlock()
		return nil, JoinResult{}, apperrors.New(apperrors.ErrRoomClosed, "registry stopped")
	}
	code, err := g.allocateCode()
	if err != nil {
		g.mu.Unlock()
		return nil, JoinResult{}, err
	}

	host := &Player{ID: uuid.NewString(), Username: name, JoinedAt: g.clock.Now()}
	room := newRoom(uuid.NewString(), code, host, cfg, g.clock, g.log, g.archiver)
	room.archives = &g.archives
	// 房间对外可见之前读取，之后玩家列表只归房间循环所有
	res := room.joinResult(host)
	g.byID[room.id] = room
	g.byCode[code] = room
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		room.Run(g.ctx)
	}()

	logger.LogGameEvent(g.log, "room_created", room.id,
		zap.String("join_code", code),
		zap.String("host", name))

	return room, res, nil
}

// allocateCode 调用方持有写锁
func (g *Registry) allocateCode() (string, error) {
	for i := 0; i < maxJoinCodeAttempts; i++ {
		code := g.codeGen()
		if _, taken := g.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrJoinCodeExhausted, "%d 次尝试均冲突", maxJoinCodeAttempts)
}

// JoinRoom 通过房间码加入
func (g *Registry) JoinRoom(ctx context.Context, joinCode, username string) (*Room, JoinResult, error) {
	room, ok := g.FindByJoinCode(joinCode)
	if !ok {
		return nil, JoinResult{}, apperrors.New(apperrors.ErrRoomNotFound, joinCode)
	}
	res, err := room.Join(ctx, username)
	if err != nil {
		return nil, JoinResult{}, err
	}
	return room, res, nil
}

// FindByJoinCode 按房间码查找
func (g *Registry) FindByJoinCode(code string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.byCode[code]
	return room, ok
}

// FindByID 按房间ID查找
func (g *Registry) FindByID(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.byID[id]
	return room, ok
}

// Len 当前房间数
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Remove 注销并关闭房间，释放房间码
func (g *Registry) Remove(id, reason string) bool {
	g.mu.Lock()
	room, ok := g.byID[id]
	if ok {
		delete(g.byID, id)
		delete(g.byCode, room.joinCode)
	}
	g.mu.Unlock()

	if ok {
		room.Close(reason)
	}
	return ok
}

func (g *Registry) rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rooms := make([]*Room, 0, len(g.byID))
	for _, room := range g.byID {
		rooms = append(rooms, room)
	}
	return rooms
}

// Reap 回收空闲超时或结算后超时的房间，返回回收数量
func (g *Registry) Reap(ctx context.Context, now time.Time) int {
	cfg := g.Config()
	reaped := 0
	for _, room := range g.rooms() {
		sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		snap, err := room.Snapshot(sctx)
		cancel()

		var reason string
		switch {
		case err != nil && apperrors.Is(err, apperrors.ErrRoomClosed):
			reason = "room closed"
		case err != nil:
			g.log.Warn("读取房间状态失败", zap.String("room_id", room.id), zap.Error(err))
			continue
		case snap.Stage == StageResults && cfg.ResultsTTL > 0 && now.Sub(snap.FinishedAt) > cfg.ResultsTTL:
			reason = "results expired"
		case cfg.RoomTTL > 0 && now.Sub(snap.LastActivity) > cfg.RoomTTL:
			reason = "room idle"
		default:
			continue
		}

		if g.Remove(room.id, reason) {
			reaped++
			logger.LogGameEvent(g.log, "room_reaped", room.id, zap.String("reason", reason))
		}
	}
	return reaped
}

// Run 定期回收房间，直到 ctx 结束
func (g *Registry) Run(ctx context.Context) {
	interval := g.Config().ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Reap(ctx, g.clock.Now()); n > 0 {
				g.log.Info("房间回收完成", zap.Int("reaped", n), zap.Int("remaining", g.Len()))
			}
		}
	}
}

// Shutdown 关闭所有房间，等待房间循环与进行中的归档结束
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.cancel()
	g.byID = make(map[string]*Room)
	g.byCode = make(map[string]*Room)
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		// 房间循环全部退出后不会再有新的归档
		g.archives.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
