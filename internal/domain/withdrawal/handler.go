package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/admin"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/errorhandler"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
	"github.com/craftzone/craftzone-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	PayoutMethod  string `json:"payout_method" validate:"required,payout_method"`
	PayoutDetails string `json:"payout_details" validate:"required,max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type transitionResponse struct {
	Withdrawal Withdrawal `json:"withdrawal"`
	Balance    int64      `json:"balance"`
}

// Create handles POST /withdrawals
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	t, err := h.svc.Request(r.Context(), middleware.GetUserID(r.Context()), req.Amount, req.PayoutMethod, req.PayoutDetails)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, transitionResponse{Withdrawal: t.Withdrawal, Balance: t.Balance})
}

// ListMine handles GET /withdrawals
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	page := response.ParsePage(r)
	items, total, err := h.svc.ListMine(r.Context(), middleware.GetUserID(r.Context()), page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, page.Page, page.Limit))
}

// Cancel handles DELETE /withdrawals/{id}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Cancel(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, transitionResponse{Withdrawal: t.Withdrawal, Balance: t.Balance})
}

// List handles GET /admin/withdrawals
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := response.ParsePage(r)
	f := Filter{Status: Status(r.URL.Query().Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		response.BadRequest(w, "Invalid status")
		return
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid user ID")
			return
		}
		f.UserID = &id
	}

	items, total, err := h.svc.List(r.Context(), f, page.Limit, page.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, page.Page, page.Limit))
}

// PendingCount handles GET /admin/withdrawals/pending-count
func (h *Handler) PendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.PendingCount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, map[string]int{"pending": n})
}

// Approve handles POST /admin/withdrawals/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Approve(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, t.Withdrawal)
}

// Reject handles POST /admin/withdrawals/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	t, err := h.svc.Reject(r.Context(), middleware.GetUserID(r.Context()), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, t.Withdrawal)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid withdrawal ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBelowMinimum):
		response.ErrorWithDetails(w, http.StatusUnprocessableEntity, "BELOW_MINIMUM", "Amount is below the minimum withdrawal",
			map[string]string{"min_amount": strconv.FormatInt(h.svc.MinAmount(), 10)})
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Withdrawal not found")
	case errors.Is(err, ErrAlreadyProcessed):
		response.Conflict(w, "ALREADY_PROCESSED", "Withdrawal has already been processed")
	default:
		ledger.WriteError(w, r, err)
	}
}

// Routes mounts the requester endpoints under /withdrawals.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/", h.ListMine)
	r.Delete("/{id}", h.Cancel)
	return r
}

// AdminRoutes mounts under /admin/withdrawals behind authentication.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(admin.RequirePermission(admin.PermProcessWithdrawals))
	r.Get("/", h.List)
	r.Get("/pending-count", h.PendingCount)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	return r
}
