package notification

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/craftzone/craftzone-api/internal/domain/admin"
	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/errorhandler"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

type Handler struct {
	audit    *AuditRepository
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(audit *AuditRepository, hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		audit: audit,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				logger.FromContext(r.Context()).Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// ListAudit handles GET /admin/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	page := response.ParsePage(r)
	f := AuditFilter{
		Kind:   r.URL.Query().Get("kind"),
		Limit:  page.Limit,
		Offset: page.Offset(),
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid user ID")
			return
		}
		f.UserID = id
	}

	records, total, err := h.audit.List(r.Context(), f)
	if err != nil {
		errorhandler.HandleUnexpected(r.Context(), w, err)
		return
	}
	response.WithMeta(w, records, response.NewMeta(total, page.Page, page.Limit))
}

// Feed handles WS /admin/ws. Admins only receive; anything they send is
// discarded.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}
	h.hub.Register(client)

	go h.reader(client)
	go h.writer(client)
}

func (h *Handler) reader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writer(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// AdminRoutes mounts /audit and /ws behind authentication.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(admin.RequirePermission(admin.PermViewAuditLogs))
	r.Get("/audit", h.ListAudit)
	r.Get("/ws", h.Feed)
	return r
}
