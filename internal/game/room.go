package game

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/wfunc/drawchain/internal/config"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/logger"
	"go.uber.org/zap"
)

const (
	inboxSize      = 256
	archiveTimeout = 10 * time.Second
)

// Archiver 对局结束钩子
type Archiver interface {
	Archive(ctx context.Context, res Results) error
}

type event interface{}

type joinEvent struct {
	username string
	reply    chan joinReply
}

type joinReply struct {
	res JoinResult
	err error
}

type attachEvent struct {
	ctx      context.Context
	playerID string
	conn     Conn
	reply    chan error
}

type detachEvent struct {
	playerID string
	conn     Conn
}

type commandEvent struct {
	playerID string
	conn     Conn
	cmd      Command
}

type timeoutEvent struct {
	seq uint64
}

type snapshotEvent struct {
	reply chan Snapshot
}

type closeEvent struct {
	reason string
}

type outbound struct {
	to  []*Player
	msg any
}

type closeOp struct {
	conn   Conn
	code   int
	reason string
}

type timerOp int

const (
	timerNone timerOp = iota
	timerArm
	timerCancel
)

// effects 一次状态转移产生的副作用，由 apply 统一执行
type effects struct {
	messages   []outbound
	closes     []closeOp
	timer      timerOp
	timerAfter time.Duration
	timerSeq   uint64
	archive    *Results
}

// Room 单个房间的状态机，所有状态只在 Run 所在的 goroutine 中修改
type Room struct {
	id       string
	joinCode string

	cfg      config.GameConfig
	clock    Clock
	log      *zap.Logger
	archiver Archiver
	archives *sync.WaitGroup

	players []*Player
	stage   Stage
	round   int

	timer    Timer
	timerSeq uint64

	startedAt    time.Time
	finishedAt   time.Time
	lastActivity time.Time
	endedEarly   bool

	inbox chan event
	done  chan struct{}
}

func newRoom(id, joinCode string, host *Player, cfg config.GameConfig, clock Clock, log *zap.Logger, archiver Archiver) *Room {
	return &Room{
		id:           id,
		joinCode:     joinCode,
		cfg:          cfg,
		clock:        clock,
		log:          log.With(zap.String("join_code", joinCode)),
		archiver:     archiver,
		archives:     &sync.WaitGroup{},
		players:      []*Player{host},
		stage:        StageLobby,
		lastActivity: clock.Now(),
		inbox:        make(chan event, inboxSize),
		done:         make(chan struct{}),
	}
}

// ID 房间ID
func (r *Room) ID() string { return r.id }

// JoinCode 六位房间码
func (r *Room) JoinCode() string { return r.joinCode }

// Done 房间循环退出后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

// Run 房间事件循环，每个事件处理完毕后才处理下一个
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.apply(r.shutdown("server shutting down"))
			return
		case ev := <-r.inbox:
			if c, ok := ev.(closeEvent); ok {
				r.apply(r.shutdown(c.reason))
				logger.LogGameEvent(r.log, "room_closed", r.id, zap.String("reason", c.reason))
				return
			}
			r.apply(r.handle(ev))
		}
	}
}

// Join 以用户名加入大厅中的房间
func (r *Room) Join(ctx context.Context, username string) (JoinResult, error) {
	reply := make(chan joinReply, 1)
	if err := r.send(ctx, joinEvent{username: username, reply: reply}); err != nil {
		return JoinResult{}, err
	}
	rep, err := await(ctx, r, reply)
	if err != nil {
		return JoinResult{}, err
	}
	return rep.res, rep.err
}

// Attach 绑定玩家的实时连接，只允许在大厅阶段。
// 返回错误时调用方应再调用 Detach，超时后才被处理的绑定会随之撤销
func (r *Room) Attach(ctx context.Context, playerID string, conn Conn) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, attachEvent{ctx: ctx, playerID: playerID, conn: conn, reply: reply}); err != nil {
		return err
	}
	attachErr, err := await(ctx, r, reply)
	if err != nil {
		return err
	}
	return attachErr
}

// Detach 连接关闭时调用，仅当 conn 仍是该玩家的当前连接时生效
func (r *Room) Detach(playerID string, conn Conn) {
	r.post(detachEvent{playerID: playerID, conn: conn})
}

// Dispatch 投递一条已校验的客户端消息
func (r *Room) Dispatch(playerID string, conn Conn, cmd Command) {
	r.post(commandEvent{playerID: playerID, conn: conn, cmd: cmd})
}

// Snapshot 读取房间摘要
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := r.send(ctx, snapshotEvent{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return await(ctx, r, reply)
}

// Close 关闭房间，断开所有连接
func (r *Room) Close(reason string) {
	r.post(closeEvent{reason: reason})
}

func (r *Room) post(ev event) bool {
	select {
	case r.inbox <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) send(ctx context.Context, ev event) error {
	select {
	case r.inbox <- ev:
		return nil
	case <-r.done:
		return apperrors.New(apperrors.ErrRoomClosed, r.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, r *Room, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, apperrors.New(apperrors.ErrRoomClosed, r.id)
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// handle 状态转移入口，只修改房间状态并描述副作用
func (r *Room) handle(ev event) effects {
	switch e := ev.(type) {
	case joinEvent:
		res, err := r.join(e.username)
		e.reply <- joinReply{res: res, err: err}
	case attachEvent:
		// 调用方已放弃等待，不再绑定连接
		if err := e.ctx.Err(); err != nil {
			e.reply <- err
			return effects{}
		}
		fx, err := r.attach(e.playerID, e.conn)
		e.reply <- err
		return fx
	case detachEvent:
		return r.detach(e.playerID, e.conn)
	case commandEvent:
		return r.command(e.playerID, e.conn, e.cmd)
	case timeoutEvent:
		return r.timeout(e.seq)
	case snapshotEvent:
		e.reply <- r.snapshot()
	}
	return effects{}
}

// apply 执行副作用：定时器、消息投递、关闭连接、归档
func (r *Room) apply(fx effects) {
	switch fx.timer {
	case timerCancel:
		r.stopTimer()
	case timerArm:
		r.stopTimer()
		seq := fx.timerSeq
		r.timer = r.clock.AfterFunc(fx.timerAfter, func() {
			r.post(timeoutEvent{seq: seq})
		})
	}

	r.deliver(fx.messages)

	for _, c := range fx.closes {
		_ = c.conn.Close(c.code, c.reason)
	}

	if fx.archive != nil && r.archiver != nil {
		res := *fx.archive
		r.archives.Add(1)
		go func() {
			defer r.archives.Done()
			r.archive(res)
		}()
	}
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// deliver 发送失败的玩家视为断线，并通知其余在线玩家
func (r *Room) deliver(msgs []outbound) {
	for len(msgs) > 0 {
		var dropped []*Player
		for _, m := range msgs {
			data, err := json.Marshal(m.msg)
			if err != nil {
				r.log.Error("消息序列化失败", zap.Error(err))
				continue
			}
			for _, p := range m.to {
				if p.conn == nil {
					continue
				}
				if err := p.conn.Send(data); err != nil {
					r.log.Warn("消息发送失败，按断线处理",
						zap.String("player_id", p.ID),
						zap.String("username", p.Username),
						zap.Error(err))
					_ = p.conn.Close(CloseGoingAway, "send failed")
					p.conn = nil
					dropped = append(dropped, p)
				}
			}
		}

		msgs = nil
		for _, p := range dropped {
			msgs = append(msgs, outbound{to: r.players, msg: playerEvent(MsgPlayerDisconnected, p)})
		}
	}
}

func (r *Room) archive(res Results) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.archiver.Archive(ctx, res); err != nil {
		r.log.Error("对局归档失败", zap.String("room_id", r.id), zap.Error(err))
	}
}

func (r *Room) join(username string) (JoinResult, error) {
	if r.stage != StageLobby {
		return JoinResult{}, apperrors.New(apperrors.ErrGameAlreadyStarted)
	}
	name, err := NormalizeUsername(username, r.cfg.MaxUsernameLength)
	if err != nil {
		return JoinResult{}, err
	}
	for _, p := range r.players {
		if strings.EqualFold(p.Username, name) {
			return JoinResult{}, apperrors.New(apperrors.ErrUsernameTaken, name)
		}
	}
	if r.cfg.MaxPlayers > 0 && len(r.players) >= r.cfg.MaxPlayers {
		return JoinResult{}, apperrors.New(apperrors.ErrRoomFull)
	}

	p := &Player{ID: uuid.NewString(), Username: name, JoinedAt: r.clock.Now()}
	r.players = append(r.players, p)
	r.touch()

	logger.LogGameEvent(r.log, "player_joined", r.id,
		zap.String("player_id", p.ID),
		zap.String("username", p.Username),
		zap.Int("players", len(r.players)))

	return r.joinResult(p), nil
}

func (r *Room) joinResult(p *Player) JoinResult {
	return JoinResult{
		RoomID:   r.id,
		JoinCode: r.joinCode,
		PlayerID: p.ID,
		Username: p.Username,
		Host:     r.isHost(p),
	}
}

func (r *Room) attach(playerID string, conn Conn) (effects, error) {
	var fx effects
	p := r.find(playerID)
	if p == nil {
		return fx, apperrors.New(apperrors.ErrPlayerNotFound, playerID)
	}
	if r.stage != StageLobby {
		return fx, apperrors.New(apperrors.ErrGameAlreadyStarted)
	}

	if p.conn != nil && p.conn != conn {
		fx.closes = append(fx.closes, closeOp{conn: p.conn, code: ClosePolicyViolation, reason: "replaced"})
	}
	p.conn = conn
	r.touch()

	fx.messages = append(fx.messages, outbound{to: r.others(p), msg: playerEvent(MsgPlayerConnected, p)})
	logger.LogGameEvent(r.log, "player_connected", r.id, zap.String("username", p.Username))
	return fx, nil
}

func (r *Room) detach(playerID string, conn Conn) effects {
	p := r.find(playerID)
	if p == nil || p.conn == nil || p.conn != conn {
		return effects{}
	}
	p.conn = nil
	r.touch()

	logger.LogGameEvent(r.log, "player_disconnected", r.id,
		zap.String("username", p.Username),
		zap.String("stage", string(r.stage)))

	return effects{messages: []outbound{{to: r.players, msg: playerEvent(MsgPlayerDisconnected, p)}}}
}

func (r *Room) command(playerID string, conn Conn, cmd Command) effects {
	p := r.find(playerID)
	if p == nil || p.conn == nil || p.conn != conn {
		return effects{}
	}
	r.touch()

	switch cmd.Type {
	case CmdPlayerListRequest:
		return effects{messages: []outbound{{to: []*Player{p}, msg: r.playerList()}}}
	case CmdStartGame:
		return r.startGame(p)
	case CmdSetPrompt:
		return r.setPrompt(p, cmd.Prompt)
	case CmdSetGuess:
		return r.setGuess(p, cmd)
	case CmdSetDrawing:
		return r.setDrawing(p, cmd)
	case CmdEndGame:
		return r.endGame(p)
	}
	return r.ignore(p, cmd, "unknown command")
}

func (r *Room) ignore(p *Player, cmd Command, reason string) effects {
	r.log.Debug("忽略消息",
		zap.String("username", p.Username),
		zap.String("type", string(cmd.Type)),
		zap.String("stage", string(r.stage)),
		zap.Int("round", r.round),
		zap.String("reason", reason))
	return effects{}
}

func (r *Room) startGame(p *Player) effects {
	cmd := Command{Type: CmdStartGame}
	if !r.isHost(p) {
		return r.ignore(p, cmd, "not host")
	}
	if r.stage != StageLobby {
		return r.ignore(p, cmd, "already started")
	}
	if len(r.players) < r.cfg.MinPlayers {
		return r.ignore(p, cmd, "not enough players")
	}

	var fx effects
	r.stage = StagePrompt
	r.startedAt = r.clock.Now()
	fx.messages = append(fx.messages, outbound{to: r.players, msg: StartGameMessage{Type: MsgStartGame}})
	if r.cfg.PromptTimeout > 0 {
		r.arm(&fx, r.cfg.PromptTimeout)
	}

	logger.LogGameEvent(r.log, "game_started", r.id, zap.Int("players", len(r.players)))
	return fx
}

func (r *Room) setPrompt(p *Player, prompt string) effects {
	cmd := Command{Type: CmdSetPrompt}
	if r.stage != StagePrompt {
		return r.ignore(p, cmd, "wrong stage")
	}
	if p.StartingPrompt != "" {
		return r.ignore(p, cmd, "prompt already set")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" || tooLong(prompt, r.cfg.MaxPromptLength) {
		return r.ignore(p, cmd, "invalid prompt")
	}

	p.StartingPrompt = prompt
	for _, other := range r.players {
		if other.StartingPrompt == "" {
			return effects{}
		}
	}
	return r.beginRound()
}

func (r *Room) setGuess(p *Player, cmd Command) effects {
	if r.stage != StageGuessing || cmd.Round != r.round {
		return r.ignore(p, cmd, "stage or round mismatch")
	}
	slot := guessSlot(r.round)
	if p.hasGuess(slot) {
		return r.ignore(p, cmd, "guess already set")
	}
	guess := strings.TrimSpace(cmd.Guess)
	if guess == "" || tooLong(guess, r.cfg.MaxGuessLength) {
		return r.ignore(p, cmd, "invalid guess")
	}

	p.Guesses[slot] = guess
	return r.checkAdvance()
}

func (r *Room) setDrawing(p *Player, cmd Command) effects {
	if r.stage != StageDrawing || cmd.Round != r.round {
		return r.ignore(p, cmd, "stage or round mismatch")
	}
	slot := drawingSlot(r.round)
	if p.hasDrawing(slot) {
		return r.ignore(p, cmd, "drawing already set")
	}
	if len(cmd.Drawing) == 0 {
		return r.ignore(p, cmd, "empty drawing")
	}

	p.Drawings[slot] = append(json.RawMessage(nil), cmd.Drawing...)
	return r.checkAdvance()
}

func (r *Room) endGame(p *Player) effects {
	cmd := Command{Type: CmdEndGame}
	if !r.isHost(p) {
		return r.ignore(p, cmd, "not host")
	}
	switch r.stage {
	case StagePrompt, StageDrawing, StageGuessing:
		return r.finish(effects{}, true)
	}
	return r.ignore(p, cmd, "wrong stage")
}

// checkAdvance 本回合所有玩家都已提交时提前进入下一回合
func (r *Room) checkAdvance() effects {
	for _, p := range r.players {
		switch r.stage {
		case StageDrawing:
			if !p.hasDrawing(drawingSlot(r.round)) {
				return effects{}
			}
		case StageGuessing:
			if !p.hasGuess(guessSlot(r.round)) {
				return effects{}
			}
		}
	}
	return r.beginRound()
}

func (r *Room) timeout(seq uint64) effects {
	if seq != r.timerSeq {
		return effects{}
	}

	switch r.stage {
	case StagePrompt:
		filled := 0
		for _, p := range r.players {
			if p.StartingPrompt == "" {
				p.StartingPrompt = FallbackPrompt()
				filled++
			}
		}
		logger.LogGameEvent(r.log, "prompt_timeout", r.id, zap.Int("fallback_prompts", filled))
		return r.beginRound()
	case StageDrawing, StageGuessing:
		logger.LogGameEvent(r.log, "round_timeout", r.id,
			zap.Int("round", r.round),
			zap.String("stage", string(r.stage)))
		return r.beginRound()
	}
	return effects{}
}

// beginRound 推进回合，向每位玩家单独下发本回合要处理的内容
func (r *Room) beginRound() effects {
	var fx effects
	r.disarm(&fx)

	n := len(r.players)
	if r.round == 0 {
		for _, p := range r.players {
			p.allocateSlots(n)
		}
	}

	r.round++
	if r.round >= n {
		return r.finish(fx, false)
	}

	r.stage = stageForRound(r.round)
	startTime := r.clock.Now().UnixMilli()
	for i, p := range r.players {
		src := r.players[source(i, n)]
		var msg any
		if r.stage == StageDrawing {
			prompt := src.StartingPrompt
			if r.round > 1 {
				prompt = src.Guesses[guessSlot(r.round-1)]
			}
			msg = DrawingStageMessage{Type: MsgDrawingStage, Prompt: prompt, Round: r.round, StartTime: startTime}
		} else {
			msg = GuessingStageMessage{
				Type:      MsgGuessingStage,
				Drawing:   src.Drawings[drawingSlot(r.round-1)],
				Round:     r.round,
				StartTime: startTime,
			}
		}
		fx.messages = append(fx.messages, outbound{to: []*Player{p}, msg: msg})
	}
	r.arm(&fx, r.cfg.RoundTimeout())

	logger.LogGameEvent(r.log, "round_started", r.id,
		zap.Int("round", r.round),
		zap.String("stage", string(r.stage)))
	return fx
}

// finish 进入结算阶段并广播全部记录，结算为终态
func (r *Room) finish(fx effects, early bool) effects {
	r.disarm(&fx)

	n := len(r.players)
	for _, p := range r.players {
		p.allocateSlots(n)
	}

	played := r.round
	if !early {
		played = r.round - 1
	}
	if played > n-1 {
		played = n - 1
	}
	if played < 0 {
		played = 0
	}

	r.stage = StageResults
	r.finishedAt = r.clock.Now()
	r.endedEarly = early

	res := Results{
		RoomID:     r.id,
		JoinCode:   r.joinCode,
		Rounds:     played,
		EndedEarly: early,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Players:    make([]PlayerResult, 0, n),
		Chains:     r.chains(played),
	}
	for _, p := range r.players {
		res.Players = append(res.Players, p.result())
	}

	fx.messages = append(fx.messages, outbound{
		to:  r.players,
		msg: ResultsStageMessage{Type: MsgResultsStage, Players: res.Players, Chains: res.Chains},
	})
	fx.archive = &res

	logger.LogGameEvent(r.log, "game_finished", r.id,
		zap.Int("rounds", played),
		zap.Bool("ended_early", early))
	return fx
}

// chains 按起始玩家还原每条链
func (r *Room) chains(played int) []Chain {
	n := len(r.players)
	chains := make([]Chain, 0, n)
	for c, owner := range r.players {
		chain := Chain{
			Owner:          owner.Username,
			StartingPrompt: owner.StartingPrompt,
			Steps:          make([]ChainStep, 0, played),
		}
		for round := 1; round <= played; round++ {
			w := r.players[worker(c, round, n)]
			step := ChainStep{Round: round, Kind: stageForRound(round), Username: w.Username}
			if step.Kind == StageDrawing {
				if slot := drawingSlot(round); slot < len(w.Drawings) {
					step.Drawing = w.Drawings[slot]
				}
			} else if slot := guessSlot(round); slot < len(w.Guesses) {
				step.Guess = w.Guesses[slot]
			}
			chain.Steps = append(chain.Steps, step)
		}
		chains = append(chains, chain)
	}
	return chains
}

func (r *Room) shutdown(reason string) effects {
	var fx effects
	r.disarm(&fx)
	for _, p := range r.players {
		if p.conn != nil {
			fx.closes = append(fx.closes, closeOp{conn: p.conn, code: CloseGoingAway, reason: reason})
			p.conn = nil
		}
	}
	return fx
}

func (r *Room) snapshot() Snapshot {
	s := Snapshot{
		RoomID:       r.id,
		JoinCode:     r.joinCode,
		Stage:        r.stage,
		Round:        r.round,
		Players:      make([]PlayerStatus, 0, len(r.players)),
		LastActivity: r.lastActivity,
		FinishedAt:   r.finishedAt,
	}
	for _, p := range r.players {
		s.Players = append(s.Players, PlayerStatus{
			ID:        p.ID,
			Username:  p.Username,
			Connected: p.Connected(),
			Host:      r.isHost(p),
		})
	}
	return s
}

// arm 新定时器的序号使之前挂起的超时全部失效
func (r *Room) arm(fx *effects, d time.Duration) {
	r.timerSeq++
	fx.timer = timerArm
	fx.timerAfter = d
	fx.timerSeq = r.timerSeq
}

func (r *Room) disarm(fx *effects) {
	r.timerSeq++
	fx.timer = timerCancel
}

func (r *Room) touch() {
	r.lastActivity = r.clock.Now()
}

func (r *Room) isHost(p *Player) bool {
	return len(r.players) > 0 && r.players[0] == p
}

func (r *Room) find(playerID string) *Player {
	for _, p := range r.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (r *Room) others(p *Player) []*Player {
	others := make([]*Player, 0, len(r.players))
	for _, o := range r.players {
		if o != p {
			others = append(others, o)
		}
	}
	return others
}

func (r *Room) playerList() PlayerListMessage {
	msg := PlayerListMessage{Type: MsgPlayerList, Players: []PlayerRef{}}
	for _, p := range r.players {
		if p.conn != nil {
			msg.Players = append(msg.Players, PlayerRef{Username: p.Username})
		}
	}
	return msg
}

func playerEvent(typ string, p *Player) PlayerEventMessage {
	return PlayerEventMessage{Type: typ, Player: PlayerRef{Username: p.Username}}
}

// NormalizeUsername 去除首尾空白并校验长度
func NormalizeUsername(username string, maxLen int) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", apperrors.New(apperrors.ErrInvalidUsername, "用户名不能为空")
	}
	if tooLong(name, maxLen) {
		return "", apperrors.Newf(apperrors.ErrInvalidUsername, "用户名最长 %d 个字符", maxLen)
	}
	return name, nil
}

func tooLong(s string, maxLen int) bool {
	return maxLen > 0 && utf8.RuneCountInString(s) > maxLen
}
