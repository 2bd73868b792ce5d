package game

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"go.uber.org/zap"
)

func TestThreePlayerGame(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")

	h.start()
	assert.Equal(t, StagePrompt, h.room.stage)
	for _, c := range h.conns {
		assert.Len(t, c.ofType(MsgStartGame), 1)
	}

	h.prompts("cat", "dog", "fish")
	require.Equal(t, StageDrawing, h.room.stage)
	require.Equal(t, 1, h.room.round)

	// 玩家 i 画 players[(i+1) mod n] 的提示词
	want := []string{"dog", "fish", "cat"}
	for i, c := range h.conns {
		msgs := c.ofType(MsgDrawingStage)
		require.Len(t, msgs, 1, "player %d", i)
		assert.Equal(t, want[i], msgs[0]["prompt"])
		assert.EqualValues(t, 1, msgs[0]["round"])
		assert.EqualValues(t, h.clock.Now().UnixMilli(), msgs[0]["startTime"])
	}
	for _, p := range h.room.players {
		assert.Len(t, p.Drawings, 2)
		assert.Len(t, p.Guesses, 1)
	}

	for i, label := range []string{"A1", "B1", "C1"} {
		h.send(i, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf(label)})
	}
	require.Equal(t, StageGuessing, h.room.stage)
	require.Equal(t, 2, h.room.round)

	// 猜的是下一位玩家上一回合的画
	wantDrawing := []string{"B1", "C1", "A1"}
	for i, c := range h.conns {
		var msg GuessingStageMessage
		require.True(t, c.decodeLast(MsgGuessingStage, &msg))
		assert.Equal(t, 2, msg.Round)
		assert.JSONEq(t, string(drawingOf(wantDrawing[i])), string(msg.Drawing))
	}

	for i, guess := range []string{"a fish", "a cat", "a dog"} {
		h.send(i, Command{Type: CmdSetGuess, Round: 2, Guess: guess})
	}

	assert.Equal(t, StageResults, h.room.stage)
	assert.Equal(t, 3, h.room.round)
	assert.Zero(t, h.clock.active())

	for _, c := range h.conns {
		var res ResultsStageMessage
		require.True(t, c.decodeLast(MsgResultsStage, &res))
		require.Len(t, res.Players, 3)
		assert.Equal(t, "A", res.Players[0].Username)
		assert.Equal(t, "cat", res.Players[0].StartingPrompt)
		assert.Equal(t, h.ids[0], res.Players[0].ID)
		require.Len(t, res.Players[0].Drawings, 2)
		assert.JSONEq(t, string(drawingOf("A1")), string(res.Players[0].Drawings[0]))
		assert.Equal(t, []string{"a fish"}, res.Players[0].Guesses)

		require.Len(t, res.Chains, 3)
		chain := res.Chains[0]
		assert.Equal(t, "A", chain.Owner)
		assert.Equal(t, "cat", chain.StartingPrompt)
		require.Len(t, chain.Steps, 2)
		assert.Equal(t, "C", chain.Steps[0].Username)
		assert.Equal(t, StageDrawing, chain.Steps[0].Kind)
		assert.JSONEq(t, string(drawingOf("C1")), string(chain.Steps[0].Drawing))
		assert.Equal(t, "B", chain.Steps[1].Username)
		assert.Equal(t, "a cat", chain.Steps[1].Guess)
	}

	// 终态下不再接受任何玩法消息
	h.resetMessages()
	h.send(0, Command{Type: CmdSetGuess, Round: 3, Guess: "late"})
	h.send(0, Command{Type: CmdStartGame})
	h.advance(5 * time.Minute)
	assert.Equal(t, StageResults, h.room.stage)
	for _, c := range h.conns {
		assert.Empty(t, c.messages())
	}
}

func TestNonHostStartIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")
	h.resetMessages()

	h.send(1, Command{Type: CmdStartGame})

	assert.Equal(t, StageLobby, h.room.stage)
	for _, c := range h.conns {
		assert.Empty(t, c.messages())
	}
}

func TestStartRequiresMinPlayers(t *testing.T) {
	cfg := testConfig()
	cfg.MinPlayers = 3
	h := newHarness(t, cfg, "A", "B")

	h.start()
	assert.Equal(t, StageLobby, h.room.stage)
}

func TestPromptFirstSubmissionWins(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")
	h.start()

	h.send(0, Command{Type: CmdSetPrompt, Prompt: "  cat  "})
	h.send(0, Command{Type: CmdSetPrompt, Prompt: "dog"})
	h.send(1, Command{Type: CmdSetPrompt, Prompt: "   "})

	assert.Equal(t, "cat", h.player(0).StartingPrompt)
	assert.Empty(t, h.player(1).StartingPrompt)
	assert.Equal(t, StagePrompt, h.room.stage)
}

func TestPromptOutsidePromptStageIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")
	h.send(0, Command{Type: CmdSetPrompt, Prompt: "cat"})
	assert.Empty(t, h.player(0).StartingPrompt)
}

func TestMismatchedRoundIsNoop(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.start()
	h.prompts("cat", "dog", "fish")
	h.resetMessages()
	seq := h.room.timerSeq

	h.send(0, Command{Type: CmdSetDrawing, Round: 2, Drawing: drawingOf("x")})
	h.send(0, Command{Type: CmdSetDrawing, Round: 0, Drawing: drawingOf("x")})
	h.send(0, Command{Type: CmdSetGuess, Round: 1, Guess: "wrong stage"})

	assert.Nil(t, h.player(0).Drawings[0])
	assert.Empty(t, h.player(0).Guesses[0])
	assert.Equal(t, 1, h.room.round)
	assert.Equal(t, seq, h.room.timerSeq)
	for _, c := range h.conns {
		assert.Empty(t, c.messages())
	}
}

func TestDuplicateDrawingIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.start()
	h.prompts("cat", "dog", "fish")

	h.send(0, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("first")})
	h.send(0, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("second")})

	assert.JSONEq(t, string(drawingOf("first")), string(h.player(0).Drawings[0]))
}

func TestTimeoutAdvancesWithDisconnectedPlayer(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.start()
	h.prompts("cat", "dog", "fish")

	// B 在绘画阶段断线
	h.step(detachEvent{playerID: h.ids[1], conn: h.conns[1]})
	assert.False(t, h.player(1).Connected())
	assert.Equal(t, "B", h.conns[0].last(MsgPlayerDisconnected)["player"].(map[string]any)["username"])
	assert.Equal(t, "B", h.conns[2].last(MsgPlayerDisconnected)["player"].(map[string]any)["username"])

	h.send(0, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("A1")})
	h.send(2, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("C1")})
	assert.Equal(t, StageDrawing, h.room.stage)

	h.advance(2*time.Minute + 29*time.Second)
	assert.Equal(t, 1, h.room.round)

	h.advance(time.Second)
	assert.Equal(t, StageGuessing, h.room.stage)
	assert.Equal(t, 2, h.room.round)
	assert.Len(t, h.player(1).Drawings, 2, "disconnected player keeps its slots")

	// A 猜 B 的画，B 没有提交
	var msg GuessingStageMessage
	require.True(t, h.conns[0].decodeLast(MsgGuessingStage, &msg))
	assert.Equal(t, "null", string(msg.Drawing))
	assert.Empty(t, h.conns[1].ofType(MsgGuessingStage))
}

func TestEarlyCompletionCancelsTimer(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.start()
	h.prompts("cat", "dog", "fish")
	staleSeq := h.room.timerSeq

	h.advance(time.Minute)
	for i := range h.ids {
		h.send(i, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("d")})
	}
	require.Equal(t, 2, h.room.round)
	assert.Equal(t, 1, h.clock.active(), "only the round 2 timer is pending")

	// 第一回合的截止时间已过，不应再次推进
	h.advance(time.Minute + 31*time.Second)
	assert.Equal(t, 2, h.room.round)

	// 迟到的旧超时事件同样无效
	h.step(timeoutEvent{seq: staleSeq})
	assert.Equal(t, 2, h.room.round)
	assert.Equal(t, StageGuessing, h.room.stage)

	// 新回合按自己的截止时间推进
	h.advance(time.Minute)
	assert.Equal(t, 3, h.room.round)
	assert.Equal(t, StageResults, h.room.stage)
}

func TestTimeoutThenLateSubmissionDropped(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.start()
	h.prompts("cat", "dog", "fish")

	h.advance(testConfig().RoundTimeout())
	require.Equal(t, 2, h.room.round)

	h.send(0, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("late")})
	assert.Nil(t, h.player(0).Drawings[0])
}

func TestSendFailureTreatedAsDisconnect(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.resetMessages()
	h.conns[2].failSend = true

	h.start()

	assert.Equal(t, StagePrompt, h.room.stage)
	assert.False(t, h.player(2).Connected())
	assert.True(t, h.conns[2].closed)
	for _, c := range h.conns[:2] {
		assert.Len(t, c.ofType(MsgStartGame), 1)
		require.NotNil(t, c.last(MsgPlayerDisconnected))
		assert.Equal(t, "C", c.last(MsgPlayerDisconnected)["player"].(map[string]any)["username"])
	}

	// 游戏照常进行，C 仍在轮转中
	h.prompts("cat", "dog")
	assert.Equal(t, StagePrompt, h.room.stage)
	h.advance(time.Hour)
	assert.Equal(t, StagePrompt, h.room.stage, "prompt stage is untimed by default")
}

func TestAttachReplacesConnection(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")
	old := h.conns[1]
	replacement := &fakeConn{}

	fx, err := h.room.attach(h.ids[1], replacement)
	require.NoError(t, err)
	h.room.apply(fx)

	assert.True(t, old.closed)
	assert.Equal(t, ClosePolicyViolation, old.code)
	assert.Equal(t, "replaced", old.reason)

	// 旧连接的消息与断线都不再生效
	h.step(commandEvent{playerID: h.ids[1], conn: old, cmd: Command{Type: CmdPlayerListRequest}})
	assert.Empty(t, replacement.messages())
	h.step(detachEvent{playerID: h.ids[1], conn: old})
	assert.True(t, h.player(1).Connected())

	h.step(commandEvent{playerID: h.ids[1], conn: replacement, cmd: Command{Type: CmdPlayerListRequest}})
	var list PlayerListMessage
	require.True(t, replacement.decodeLast(MsgPlayerList, &list))
	assert.Equal(t, []PlayerRef{{Username: "A"}, {Username: "B"}}, list.Players)
}

func TestAttachRefused(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")

	_, err := h.room.attach("nobody", &fakeConn{})
	assert.True(t, apperrors.Is(err, apperrors.ErrPlayerNotFound))

	h.start()
	_, err = h.room.attach(h.ids[1], &fakeConn{})
	assert.True(t, apperrors.Is(err, apperrors.ErrGameAlreadyStarted))
}

func TestPlayerConnectedBroadcast(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")
	msgs := h.conns[0].ofType(MsgPlayerConnected)
	require.Len(t, msgs, 1)
	assert.Equal(t, "B", msgs[0]["player"].(map[string]any)["username"])
	assert.Empty(t, h.conns[1].ofType(MsgPlayerConnected))
}

func TestPlayerListOnlyConnected(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.step(detachEvent{playerID: h.ids[2], conn: h.conns[2]})

	h.send(0, Command{Type: CmdPlayerListRequest})

	var list PlayerListMessage
	require.True(t, h.conns[0].decodeLast(MsgPlayerList, &list))
	assert.Equal(t, []PlayerRef{{Username: "A"}, {Username: "B"}}, list.Players)
	assert.Empty(t, h.conns[1].ofType(MsgPlayerList))
}

func TestJoinValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlayers = 3
	h := newHarness(t, cfg, "Alice", "Bob")

	_, err := h.room.join("alice")
	assert.True(t, apperrors.Is(err, apperrors.ErrUsernameTaken))

	_, err = h.room.join("   ")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidUsername))

	_, err = h.room.join("this-name-is-way-too-long-for-a-room")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidUsername))

	res, err := h.room.join(" Carol ")
	require.NoError(t, err)
	assert.Equal(t, "Carol", res.Username)
	assert.False(t, res.Host)

	_, err = h.room.join("Dave")
	assert.True(t, apperrors.Is(err, apperrors.ErrRoomFull))

	h.start()
	_, err = h.room.join("Erin")
	assert.True(t, apperrors.Is(err, apperrors.ErrGameAlreadyStarted))
}

func TestHostEndGame(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C")
	h.start()
	h.prompts("cat", "dog", "fish")
	h.send(0, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("A1")})

	h.send(1, Command{Type: CmdEndGame})
	assert.Equal(t, StageDrawing, h.room.stage)

	h.send(0, Command{Type: CmdEndGame})
	assert.Equal(t, StageResults, h.room.stage)
	assert.True(t, h.room.endedEarly)
	assert.Zero(t, h.clock.active())

	var res ResultsStageMessage
	require.True(t, h.conns[1].decodeLast(MsgResultsStage, &res))
	require.Len(t, res.Chains, 3)
	// B 的链第一步由 A 绘制
	require.Len(t, res.Chains[1].Steps, 1)
	assert.Equal(t, "A", res.Chains[1].Steps[0].Username)
	assert.JSONEq(t, string(drawingOf("A1")), string(res.Chains[1].Steps[0].Drawing))
}

func TestEndGameDuringPrompt(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B")
	h.start()
	h.send(0, Command{Type: CmdEndGame})

	assert.Equal(t, StageResults, h.room.stage)
	var res ResultsStageMessage
	require.True(t, h.conns[0].decodeLast(MsgResultsStage, &res))
	assert.Len(t, res.Players[0].Drawings, 1)
	assert.Len(t, res.Players[0].Guesses, 1)
	assert.Empty(t, res.Chains[0].Steps)
}

func TestEndGameInLobbyIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), "A")
	h.send(0, Command{Type: CmdEndGame})
	assert.Equal(t, StageLobby, h.room.stage)
}

func TestPromptTimeoutUsesFallback(t *testing.T) {
	cfg := testConfig()
	cfg.PromptTimeout = time.Minute
	h := newHarness(t, cfg, "A", "B", "C")
	h.start()
	h.send(0, Command{Type: CmdSetPrompt, Prompt: "cat"})

	h.advance(time.Minute)

	assert.Equal(t, StageDrawing, h.room.stage)
	assert.Equal(t, "cat", h.player(0).StartingPrompt)
	assert.Contains(t, fallbackPrompts, h.player(1).StartingPrompt)
	assert.Contains(t, fallbackPrompts, h.player(2).StartingPrompt)
	assert.Equal(t, "cat", h.conns[2].last(MsgDrawingStage)["prompt"])
}

func TestSinglePlayerGoesToResults(t *testing.T) {
	h := newHarness(t, testConfig(), "Solo")
	h.start()
	h.prompts("cat")

	assert.Equal(t, StageResults, h.room.stage)
	assert.Equal(t, 1, h.room.round)
	var res ResultsStageMessage
	require.True(t, h.conns[0].decodeLast(MsgResultsStage, &res))
	assert.Len(t, res.Players[0].Drawings, 1)
	assert.Empty(t, res.Players[0].Guesses)
}

func TestFourPlayerRotation(t *testing.T) {
	h := newHarness(t, testConfig(), "A", "B", "C", "D")
	h.start()
	h.prompts("p0", "p1", "p2", "p3")

	for i := range h.ids {
		h.send(i, Command{Type: CmdSetDrawing, Round: 1, Drawing: drawingOf("d1-" + h.player(i).Username)})
	}
	for i := range h.ids {
		h.send(i, Command{Type: CmdSetGuess, Round: 2, Guess: "g2-" + h.player(i).Username})
	}
	require.Equal(t, 3, h.room.round)

	// 第三回合画的是下一位玩家第二回合的猜测
	want := []string{"g2-B", "g2-C", "g2-D", "g2-A"}
	for i, c := range h.conns {
		assert.Equal(t, want[i], c.last(MsgDrawingStage)["prompt"])
	}
	for i := range h.ids {
		h.send(i, Command{Type: CmdSetDrawing, Round: 3, Drawing: drawingOf("d3-" + h.player(i).Username)})
	}
	assert.Equal(t, StageResults, h.room.stage)

	var res ResultsStageMessage
	require.True(t, h.conns[0].decodeLast(MsgResultsStage, &res))
	// A 的链: D 画 p0，C 猜 D 的画，B 画 C 的猜测
	steps := res.Chains[0].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, "D", steps[0].Username)
	assert.Equal(t, "C", steps[1].Username)
	assert.Equal(t, "g2-C", steps[1].Guess)
	assert.Equal(t, "B", steps[2].Username)
	assert.JSONEq(t, string(drawingOf("d3-B")), string(steps[2].Drawing))
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, res Results) error {
	return m.Called(ctx, res).Error(0)
}

func TestRunLoopArchivesResults(t *testing.T) {
	archived := make(chan Results, 1)
	arch := &mockArchiver{}
	arch.On("Archive", mock.Anything, mock.AnythingOfType("game.Results")).
		Run(func(args mock.Arguments) { archived <- args.Get(1).(Results) }).
		Return(nil).Once()

	clock := newFakeClock()
	host := &Player{ID: "host", Username: "A", JoinedAt: clock.Now()}
	room := newRoom("room-run", "654321", host, testConfig(), clock, zap.NewNop(), arch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go room.Run(ctx)

	res, err := room.Join(ctx, "B")
	require.NoError(t, err)
	connA, connB := &fakeConn{}, &fakeConn{}
	require.NoError(t, room.Attach(ctx, "host", connA))
	require.NoError(t, room.Attach(ctx, res.PlayerID, connB))

	room.Dispatch("host", connA, Command{Type: CmdStartGame})
	room.Dispatch("host", connA, Command{Type: CmdSetPrompt, Prompt: "cat"})
	room.Dispatch(res.PlayerID, connB, Command{Type: CmdSetPrompt, Prompt: "dog"})
	room.Dispatch("host", connA, Command{Type: CmdSetDrawing, Round: 1, Drawing: json.RawMessage(`{"actions":[]}`)})
	room.Dispatch(res.PlayerID, connB, Command{Type: CmdSetDrawing, Round: 1, Drawing: json.RawMessage(`{"actions":[]}`)})

	select {
	case got := <-archived:
		assert.Equal(t, "room-run", got.RoomID)
		assert.Equal(t, 1, got.Rounds)
		assert.False(t, got.EndedEarly)
		assert.Len(t, got.Players, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("results were not archived")
	}

	snap, err := room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StageResults, snap.Stage)
	arch.AssertExpectations(t)

	room.Close("test done")
	<-room.Done()
	assert.True(t, connA.closed)
	assert.Equal(t, CloseGoingAway, connA.code)

	_, err = room.Snapshot(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrRoomClosed))
}

func TestAbandonedAttachLeavesPlayerOffline(t *testing.T) {
	clock := newFakeClock()
	host := &Player{ID: "host", Username: "A", JoinedAt: clock.Now()}
	room := newRoom("room-late", "111111", host, testConfig(), clock, zap.NewNop(), nil)

	// 循环尚未运行，绑定事件入队后等待超时
	stale := &fakeConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err := room.Attach(ctx, "host", stale)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	room.Detach("host", stale)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go room.Run(runCtx)

	snap, err := room.Snapshot(runCtx)
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.False(t, snap.Players[0].Connected)
	stale.mu.Lock()
	assert.Empty(t, stale.msgs)
	stale.mu.Unlock()

	fresh := &fakeConn{}
	require.NoError(t, room.Attach(runCtx, "host", fresh))
	snap, err = room.Snapshot(runCtx)
	require.NoError(t, err)
	assert.True(t, snap.Players[0].Connected)
	assert.False(t, stale.closed)
}
