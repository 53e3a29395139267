package reconcile

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/craftzone/craftzone-api/internal/domain/admin"
	"github.com/craftzone/craftzone-api/internal/pkg/errorhandler"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
	rdb *redis.Client
}

func NewHandler(svc *Service, rdb *redis.Client) *Handler {
	return &Handler{svc: svc, rdb: rdb}
}

// Run handles POST /admin/ledger/reconcile and returns the report inline.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Run(r.Context())
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			response.Conflict(w, "RECONCILE_RUNNING", "Reconciliation is already running")
			return
		}
		errorhandler.HandleUnexpected(r.Context(), w, err)
		return
	}
	response.OK(w, report)
}

// Wake handles POST /admin/ledger/reconcile/wake: the worker runs instead
// of this request.
func (h *Handler) Wake(w http.ResponseWriter, r *http.Request) {
	if h.rdb == nil {
		response.Error(w, http.StatusServiceUnavailable, "WORKER_UNAVAILABLE", "Background worker is not reachable")
		return
	}
	if err := Wake(r.Context(), h.rdb); err != nil {
		errorhandler.HandleUnexpected(r.Context(), w, err)
		return
	}
	response.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// AdminRoutes mounts under /admin/ledger/reconcile.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(admin.RequirePermission(admin.PermReconcile))
	r.Post("/", h.Run)
	r.Post("/wake", h.Wake)
	return r
}
