package notification

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

const adminFeedChannel = "ws:admin_feed"

type feedMessage struct {
	SenderInstanceID string          `json:"sender_instance_id"`
	Payload          json.RawMessage `json:"payload"`
}

// Connection is one admin websocket client.
type Connection struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub pushes events to connected admins. With Redis configured every
// instance republishes through a pub/sub channel so admins see events from
// the whole cluster.
type Hub struct {
	connections map[*Connection]struct{}
	mu          sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		connections: make(map[*Connection]struct{}),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, adminFeedChannel)
	}
	return h
}

// Run processes registrations until Shutdown. Call it in a goroutine.
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
			metrics.WSConnections.Inc()
			log.Debug().Str("user_id", conn.UserID.String()).Msg("Admin connected to feed")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				metrics.WSConnections.Dec()
			}
			h.mu.Unlock()
			log.Debug().Str("user_id", conn.UserID.String()).Msg("Admin disconnected from feed")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var fm feedMessage
			if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
				continue
			}
			if fm.SenderInstanceID == h.instanceID {
				continue
			}
			h.broadcastLocal(fm.Payload)
		}
	}
}

func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Handle broadcasts e to admins on every instance.
func (h *Hub) Handle(ctx context.Context, e Event) error {
	data, err := json.Marshal(map[string]any{"type": "audit:event", "data": e})
	if err != nil {
		return err
	}

	h.broadcastLocal(data)

	if h.redis == nil {
		return nil
	}
	msg, err := json.Marshal(feedMessage{SenderInstanceID: h.instanceID, Payload: data})
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, adminFeedChannel, msg).Err()
}

func (h *Hub) broadcastLocal(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections {
		select {
		case conn.Send <- data:
		default:
			log.Warn().Str("user_id", conn.UserID.String()).Msg("Admin feed send buffer full")
		}
	}
}

// ConnectionCount returns the number of local connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
