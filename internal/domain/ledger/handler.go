package ledger

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/admin"
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

type adjustRequest struct {
	UserID    uuid.UUID `json:"user_id" validate:"required"`
	Amount    int64     `json:"amount" validate:"required,ne=0"`
	Reference string    `json:"reference" validate:"max=128"`
	Note      string    `json:"note" validate:"required,max=500"`
}

type penalizeRequest struct {
	UserID    uuid.UUID `json:"user_id" validate:"required"`
	Amount    int64     `json:"amount" validate:"required,gt=0"`
	Reference string    `json:"reference" validate:"max=128"`
	Note      string    `json:"note" validate:"required,max=500"`
}

type mutationResponse struct {
	Entry          Entry `json:"entry"`
	Balance        int64 `json:"balance"`
	AlreadyApplied bool  `json:"already_applied"`
}

// Balance handles GET /wallet/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]int64{"balance": balance})
}

// Entries handles GET /wallet/entries
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	h.listEntries(w, r, middleware.GetUserID(r.Context()))
}

// UserEntries handles GET /admin/ledger/users/{id}/entries
func (h *Handler) UserEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}
	h.listEntries(w, r, userID)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	page := response.ParsePage(r)
	entries, total, err := h.svc.ListEntries(r.Context(), userID, page.Limit, page.Offset())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.WithMeta(w, entries, response.NewMeta(total, page.Page, page.Limit))
}

// Adjust handles POST /admin/ledger/adjust
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.AdminAdjust(r.Context(), middleware.GetUserID(r.Context()), req.UserID, req.Amount, req.Reference, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMutation(w, res)
}

// Penalize handles POST /admin/ledger/penalize
func (h *Handler) Penalize(w http.ResponseWriter, r *http.Request) {
	var req penalizeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.Penalize(r.Context(), middleware.GetUserID(r.Context()), req.UserID, req.Amount, req.Reference, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMutation(w, res)
}

func writeMutation(w http.ResponseWriter, res Result) {
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	response.JSON(w, status, mutationResponse{Entry: res.Entry, Balance: res.Balance, AlreadyApplied: res.Duplicate})
}

// WriteError maps ledger errors to HTTP responses. Other domain handlers
// fall back to it for errors surfaced from the ledger.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		response.Conflict(w, "INSUFFICIENT_FUNDS", "Insufficient coin balance")
	case errors.Is(err, ErrReferenceConflict):
		response.Conflict(w, "REFERENCE_CONFLICT", "Reference already used with a different amount")
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(w, "User not found")
	case errors.Is(err, ErrInvalidAmount):
		response.Unprocessable(w, "INVALID_AMOUNT", "Amount has the wrong sign for this entry type")
	case errors.Is(err, ErrInvalidEntryType), errors.Is(err, ErrMissingReference):
		response.BadRequest(w, err.Error())
	default:
		errorhandler.HandleUnexpected(r.Context(), w, err)
	}
}

// Routes mounts the user wallet endpoints. authMiddleware must set the
// caller identity.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.Get("/entries", h.Entries)
	return r
}

// AdminRoutes mounts under /admin/ledger behind authentication.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(admin.RequirePermission(admin.PermAdjustLedger)).Post("/adjust", h.Adjust)
	r.With(admin.RequirePermission(admin.PermAdjustLedger)).Post("/penalize", h.Penalize)
	r.With(admin.RequirePermission(admin.PermViewLedger)).Get("/users/{id}/entries", h.UserEntries)
	return r
}
