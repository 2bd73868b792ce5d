package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Hub 在线连接登记，用于健康检查与停机时统一断开
type Hub struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex

	logger *zap.Logger
}

// NewHub 创建连接登记
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register 登记连接
func (h *Hub) Register(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Debug("客户端已连接",
		zap.String("client_id", c.ID),
		zap.String("player_id", c.PlayerID),
		zap.String("room_id", c.RoomID),
		zap.Int("clients", n))
}

// Unregister 注销连接
func (h *Hub) Unregister(c *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		h.logger.Debug("客户端已断开",
			zap.String("client_id", c.ID),
			zap.String("player_id", c.PlayerID),
			zap.Int("clients", n))
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// CloseAll 以指定关闭码断开全部连接
func (h *Hub) CloseAll(code int, reason string) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		_ = c.Close(code, reason)
	}
}
