package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/paybyt/escrowd/internal/auth"
	"github.com/paybyt/escrowd/internal/config"
	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/rbac"
	"go.uber.org/zap"
)

// WSHub pushes escrow events to connected clients. A party receives events
// for escrows it is buyer or seller on; staff connections receive all.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
	staff       map[*websocket.Conn]struct{}
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
		staff:       make(map[*websocket.Conn]struct{}),
	}
}

// Start subscribes to escrow events; delivery stops when ctx is done.
func (h *WSHub) Start(ctx context.Context) {
	if err := h.subscriber.Subscribe(ctx, events.StreamEscrow, h.broadcast); err != nil {
		h.log.Error("ws hub subscribe failed", zap.Error(err))
	}
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := make(map[*websocket.Conn]bool)
	send := func(conn *websocket.Conn) {
		if sent[conn] {
			return
		}
		sent[conn] = true
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}

	for _, key := range []string{"buyer_id", "seller_id"} {
		if id, ok := event.Payload[key].(string); ok && id != "" {
			for _, conn := range h.connections[id] {
				send(conn)
			}
		}
	}
	for conn := range h.staff {
		send(conn)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	userID := claims.UserID
	isStaff := claims.Role == rbac.RoleMediator || claims.Role == rbac.RoleOperator || h.cfg.IsOperator(userID)

	h.mu.Lock()
	if isStaff {
		h.staff[conn] = struct{}{}
	} else {
		h.connections[userID] = append(h.connections[userID], conn)
	}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.staff, conn)
		conns := h.connections[userID]
		for i, c := range conns {
			if c == conn {
				h.connections[userID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[userID]) == 0 {
			delete(h.connections, userID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
