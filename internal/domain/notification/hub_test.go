package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

func feedServer(t *testing.T, hub *Hub, role string) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	// Same wrapping writers as cmd/api; the upgrade must pass through them.
	router.Use(middleware.Logger)
	router.Use(metrics.Middleware)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), uuid.New(), role)))
		})
	})
	router.Mount("/admin", NewHandler(nil, hub, nil).AdminRoutes())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestAdminFeedReceivesEvents(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	srv := feedServer(t, hub, "admin")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	user := uuid.New()
	ev := NewEvent(KindWithdrawalRequested, user).WithAmount(-50, "withdrawal_x")
	require.NoError(t, hub.Handle(context.Background(), ev))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
		Data Event  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "audit:event", msg.Type)
	assert.Equal(t, KindWithdrawalRequested, msg.Data.Kind)
	assert.Equal(t, ev.ID, msg.Data.ID)
	require.NotNil(t, msg.Data.UserID)
	assert.Equal(t, user, *msg.Data.UserID)
}

func TestAdminFeedRequiresAuditPermission(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	srv := feedServer(t, hub, "user")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	c := &Connection{UserID: uuid.New(), Send: make(chan []byte, 1)}
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ConnectionCount())
}
