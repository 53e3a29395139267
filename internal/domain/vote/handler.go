package vote

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/abuse"
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

type castRequest struct {
	TargetType string `json:"target_type" validate:"required,vote_target"`
	TargetID   string `json:"target_id" validate:"required,uuid"`
	Value      int    `json:"value" validate:"required,oneof=1 -1"`
}

// Cast handles POST /votes
func (h *Handler) Cast(w http.ResponseWriter, r *http.Request) {
	var req castRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	targetID, _ := uuid.Parse(req.TargetID)

	v, err := h.svc.Cast(r.Context(), middleware.GetUserID(r.Context()), TargetType(req.TargetType), targetID, req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, v)
}

// Tally handles GET /votes/{type}/{id}
func (h *Handler) Tally(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid target ID")
		return
	}

	t, err := h.svc.Tally(r.Context(), TargetType(chi.URLParam(r, "type")), targetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, t)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidValue):
		response.BadRequest(w, err.Error())
	case errors.Is(err, abuse.ErrRateLimited):
		response.RateLimited(w, "You voted on this recently, please wait", abuse.RetryAfter(err))
	default:
		errorhandler.HandleUnexpected(r.Context(), w, err)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/{type}/{id}", h.Tally)
	r.With(authMiddleware).Post("/", h.Cast)
	return r
}
