package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/drawchain/internal/config"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"go.uber.org/zap"
)

// Client 单个玩家的 WebSocket 连接，实现 game.Conn
type Client struct {
	ID       string
	PlayerID string
	RoomID   string

	conn *websocket.Conn
	cfg  config.WebSocketConfig
	log  *zap.Logger

	send chan []byte

	closeOnce  sync.Once
	closeFrame []byte
	done       chan struct{}
}

// NewClient 创建客户端
func NewClient(conn *websocket.Conn, cfg config.WebSocketConfig, log *zap.Logger) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 64
	}
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Send 非阻塞入队，缓冲区满或连接已关闭时返回错误
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return apperrors.New(apperrors.ErrWebSocketClosed, c.ID)
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return apperrors.New(apperrors.ErrSendBufferFull, c.ID)
	}
}

// Close 请求以指定关闭码关闭连接，写协程负责发送关闭帧
func (c *Client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
		close(c.done)
	})
	return nil
}

// Done 连接关闭后关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump 读取消息直到连接断开
func (c *Client) ReadPump(handle func(data []byte)) {
	defer c.Close(websocket.CloseNormalClosure, "")

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.String("player_id", c.PlayerID),
					zap.Error(err))
			}
			return
		}
		handle(message)
	}
}

// WritePump 写出消息并定期发送 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			// 先把已入队的消息写完，再发送关闭帧
			for {
				select {
				case message := <-c.send:
					if err := c.write(websocket.TextMessage, message); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.conn.WriteControl(websocket.CloseMessage, c.closeFrame, time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}
