// Package ws 通过 WebSocket 向前端推送周期结果。
// 消息格式: {"type": "book"|"alert", "data": ...}
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"funding-depth-monitor/internal/core/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	// sendBuffer 单个客户端待发送消息上限，写不过来的客户端会被断开
	sendBuffer = 64
)

// ErrBroadcastFull 广播队列已满，本次消息被丢弃
var ErrBroadcastFull = errors.New("广播队列已满")

// Message 推送消息
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BookMessage "book" 消息内容
type BookMessage struct {
	Seq       uint64          `json:"seq"`
	UpdatedAt time.Time       `json:"updated_at"`
	NoData    bool            `json:"no_data"`
	Book      *model.BookView `json:"book"`
	Stats     model.BookStats `json:"stats"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub 管理 WebSocket 客户端并广播消息
// 客户端集合只在 Run 所在 goroutine 中修改。
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	count atomic.Int64
}

// NewHub 创建 Hub，需要调用 Run 才会开始分发
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

// Run 分发循环，直到 ctx 取消；退出时关闭所有客户端。只能调用一次。
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.count.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int64(len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("客户端发送缓冲已满，断开连接")
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Publish 实现 cycle.Publisher
// 每个周期推送一条 book 消息；每个需要通知的告警结果追加一条 alert 消息。
func (h *Hub) Publish(_ context.Context, up *model.Update) error {
	if up == nil {
		return nil
	}
	var errs error
	book := BookMessage{
		Seq:       up.Seq,
		UpdatedAt: up.UpdatedAt,
		NoData:    up.NoData,
		Book:      up.Display,
		Stats:     up.Stats,
	}
	errs = multierr.Append(errs, h.send("book", book))
	for _, res := range up.Alerts {
		if !res.Notify {
			continue
		}
		errs = multierr.Append(errs, h.send("alert", res))
	}
	return errs
}

func (h *Hub) send(typ string, data any) error {
	b, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- b:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// ServeHTTP 升级为 WebSocket 连接
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump 只处理控制帧，客户端消息被忽略
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
