package reward

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/abuse"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
	"github.com/craftzone/craftzone-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type applyReferralRequest struct {
	Code string `json:"code" validate:"required,referral_code"`
}

type claimQuizRequest struct {
	Score *int `json:"score" validate:"required,gte=0"`
}

// ApplyReferral handles POST /referrals/apply
func (h *Handler) ApplyReferral(w http.ResponseWriter, r *http.Request) {
	var req applyReferralRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.ApplyReferral(r.Context(), middleware.GetUserID(r.Context()), req.Code, middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.AlreadyApplied {
		response.OK(w, res)
		return
	}
	response.Created(w, res)
}

// Me handles GET /referrals/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, summary)
}

// ClaimQuiz handles POST /quizzes/{id}/claim
func (h *Handler) ClaimQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid quiz ID")
		return
	}

	var req claimQuizRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	claim, err := h.svc.ClaimQuizReward(r.Context(), middleware.GetUserID(r.Context()), quizID, *req.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, claim)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidCode):
		response.Error(w, http.StatusNotFound, "INVALID_CODE", "Referral code not found")
	case errors.Is(err, ErrSelfReferral):
		response.Unprocessable(w, "SELF_REFERRAL", "You cannot use your own referral code")
	case errors.Is(err, ErrAlreadyApplied):
		response.Conflict(w, "ALREADY_APPLIED", "You already used a code from this user")
	case errors.Is(err, abuse.ErrRateLimited):
		response.RateLimited(w, "Too many referral attempts, please try again later", abuse.RetryAfter(err))
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(w, "User not found")
	case errors.Is(err, ErrQuizNotFound):
		response.Error(w, http.StatusNotFound, "QUIZ_NOT_FOUND", "Quiz not found")
	case errors.Is(err, ErrQuizInactive):
		response.Conflict(w, "QUIZ_INACTIVE", "Quiz is closed")
	case errors.Is(err, ErrQuizNotPassed):
		response.Unprocessable(w, "QUIZ_NOT_PASSED", "Score is below the pass mark")
	default:
		ledger.WriteError(w, r, err)
	}
}

// Routes mounts /referrals and /quizzes endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/referrals/apply", h.ApplyReferral)
	r.Get("/referrals/me", h.Me)
	r.Post("/quizzes/{id}/claim", h.ClaimQuiz)
	return r
}
