package settings

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

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

type referralRewardRequest struct {
	Value *int64 `json:"value" validate:"required,gte=0"`
}

// GetReferralReward handles GET /admin/settings/referral-reward
func (h *Handler) GetReferralReward(w http.ResponseWriter, r *http.Request) {
	value, err := h.svc.ReferralReward(r.Context())
	if err != nil {
		errorhandler.HandleUnexpected(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]int64{"value": value})
}

// PutReferralReward handles PUT /admin/settings/referral-reward
func (h *Handler) PutReferralReward(w http.ResponseWriter, r *http.Request) {
	var req referralRewardRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	err := h.svc.SetReferralReward(r.Context(), middleware.GetUserID(r.Context()), *req.Value)
	if errors.Is(err, ErrInvalidValue) {
		response.ValidationError(w, map[string]string{"value": err.Error()})
		return
	}
	if err != nil {
		errorhandler.HandleUnexpected(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]int64{"value": *req.Value})
}

func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(admin.RequirePermission(admin.PermManageSettings))
	r.Get("/referral-reward", h.GetReferralReward)
	r.Put("/referral-reward", h.PutReferralReward)
	return r
}
