package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
	"github.com/zhouzirui/agent-crew/backend/internal/service/crew"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
)

// Handler WebSocket协作处理器
type Handler struct {
	driver   *crew.Driver
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	// pingInterval must stay below readTimeout so pongs keep the read
	// deadline moving while a run is in flight.
	readTimeout  time.Duration
	pingInterval time.Duration
}

// New 创建WebSocket处理器
func New(driver *crew.Driver, logger zerolog.Logger) *Handler {
	return &Handler{
		driver: driver,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runs/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// StartMessage 启动一次新的协作
type StartMessage struct {
	Request string `json:"request"`
}

// FollowUpMessage 向已结束的协作追加用户消息
type FollowUpMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer. At most one
// run is active per connection.
type conn struct {
	*websocket.Conn
	mu     sync.Mutex
	active atomic.Bool
	runs   sync.WaitGroup
}

func (c *conn) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Timestamp = time.Now().Unix()
	return c.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteMessage(websocket.PingMessage, nil)
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &conn{Conn: ws}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	// runs are cancelled first, then awaited before the socket closes
	defer c.runs.Wait()
	defer cancel()

	_ = c.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, c)

	h.sendOrLog(c, outgoingMessage{Type: "connected"})

	// The reader stays on this goroutine for the whole connection so pongs
	// are processed while a run is in flight.
	for {
		var msg inboundMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = c.SetReadDeadline(time.Now().Add(h.readTimeout))

		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, msg *inboundMessage) {
	switch msg.Type {
	case "start":
		var start StartMessage
		if err := json.Unmarshal(msg.Data, &start); err != nil {
			h.sendError(c, "", "invalid start payload")
			return
		}
		h.launch(ctx, c, "", start.Request)
	case "message":
		var followUp FollowUpMessage
		if err := json.Unmarshal(msg.Data, &followUp); err != nil || followUp.Text == "" {
			h.sendError(c, msg.SessionID, "invalid message payload")
			return
		}
		if msg.SessionID == "" {
			h.sendError(c, "", "sessionId is required")
			return
		}
		h.launch(ctx, c, msg.SessionID, followUp.Text)
	default:
		h.sendError(c, msg.SessionID, "unsupported message type: "+msg.Type)
	}
}

// launch starts a run off the reader goroutine, refusing a second one while
// the first is still active on this connection.
func (h *Handler) launch(ctx context.Context, c *conn, sessionID, text string) {
	if !c.active.CompareAndSwap(false, true) {
		h.sendError(c, sessionID, "a run is already active on this connection")
		return
	}

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		result, err := h.drive(ctx, c, sessionID, text)
		// released before the final message so a follow-up sent on "done" is accepted
		c.active.Store(false)
		if err != nil {
			h.sendError(c, sessionID, err.Error())
			return
		}
		h.sendOrLog(c, outgoingMessage{
			Type:      "done",
			SessionID: result.Session.ID,
			Data: map[string]any{
				"session":  result.Session,
				"artifact": result.Artifact,
				"publish":  result.Publish,
			},
		})
	}()
}

// drive runs the crew and pushes every turn to the client as it lands.
func (h *Handler) drive(ctx context.Context, c *conn, sessionID, text string) (*crew.Result, error) {
	onTurn := crew.WithTurnHandler(func(runID string, turn chat.Turn) {
		h.sendOrLog(c, outgoingMessage{
			Type:      "turn",
			SessionID: runID,
			Data:      turn.Record(),
		})
	})

	if sessionID == "" {
		return h.driver.Run(ctx, text, onTurn)
	}
	return h.driver.Resume(ctx, sessionID, text, onTurn)
}

func (h *Handler) sendOrLog(c *conn, msg outgoingMessage) {
	if err := c.send(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("websocket write failed")
	}
}

func (h *Handler) sendError(c *conn, sessionID, message string) {
	h.sendOrLog(c, outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"message": message},
	})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
