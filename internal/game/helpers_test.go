package game

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wfunc/drawchain/internal/config"
	"go.uber.org/zap"
)

func testConfig() config.GameConfig {
	return config.GameConfig{
		RoundDuration:     2 * time.Minute,
		RoundGrace:        30 * time.Second,
		MinPlayers:        1,
		MaxPlayers:        16,
		MaxUsernameLength: 24,
		MaxPromptLength:   120,
		MaxGuessLength:    120,
		RoomTTL:           2 * time.Hour,
		ResultsTTL:        30 * time.Minute,
		ReapInterval:      time.Minute,
	}
}

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance 推进时间并触发到期的定时器
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// active 尚未触发也未取消的定时器数量
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeConn 记录收到的消息
type fakeConn struct {
	mu       sync.Mutex
	msgs     [][]byte
	closed   bool
	code     int
	reason   string
	failSend bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("broken pipe")
	}
	if c.closed {
		return errors.New("closed")
	}
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
	return nil
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, raw := range c.msgs {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) ofType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range c.messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) last(typ string) map[string]any {
	msgs := c.ofType(typ)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// decodeLast 将最后一条指定类型的消息解码到 v
func (c *fakeConn) decodeLast(typ string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(c.msgs[i], &head) == nil && head.Type == typ {
			return json.Unmarshal(c.msgs[i], v) == nil
		}
	}
	return false
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// harness 不启动事件循环，直接驱动 handle/apply
type harness struct {
	room  *Room
	clock *fakeClock
	ids   []string
	conns []*fakeConn
}

func newHarness(t *testing.T, cfg config.GameConfig, names ...string) *harness {
	t.Helper()
	clock := newFakeClock()
	host := &Player{ID: "p0", Username: names[0], JoinedAt: clock.Now()}
	h := &harness{
		room:  newRoom("room-1", "123456", host, cfg, clock, zap.NewNop(), nil),
		clock: clock,
		ids:   []string{host.ID},
	}
	for _, name := range names[1:] {
		res, err := h.room.join(name)
		require.NoError(t, err)
		h.ids = append(h.ids, res.PlayerID)
	}
	for i := range h.ids {
		conn := &fakeConn{}
		h.conns = append(h.conns, conn)
		fx, err := h.room.attach(h.ids[i], conn)
		require.NoError(t, err)
		h.room.apply(fx)
	}
	return h
}

func (h *harness) send(i int, cmd Command) {
	h.step(commandEvent{playerID: h.ids[i], conn: h.conns[i], cmd: cmd})
}

func (h *harness) step(ev event) {
	h.room.apply(h.room.handle(ev))
}

// drain 处理定时器回调投递到信箱中的事件
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.room.inbox:
			h.step(ev)
		default:
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}

func (h *harness) start() {
	h.send(0, Command{Type: CmdStartGame})
}

func (h *harness) prompts(prompts ...string) {
	for i, p := range prompts {
		h.send(i, Command{Type: CmdSetPrompt, Prompt: p})
	}
}

func (h *harness) player(i int) *Player {
	return h.room.players[i]
}

func (h *harness) resetMessages() {
	for _, c := range h.conns {
		c.reset()
	}
}

func drawingOf(label string) json.RawMessage {
	return json.RawMessage(`{"actions":[{"type":"stroke","label":"` + label + `"}]}`)
}
