package store

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/admin"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/errorhandler"
	"github.com/craftzone/craftzone-api/internal/pkg/response"
	"github.com/craftzone/craftzone-api/internal/pkg/validator"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type purchaseRequest struct {
	ItemID   uuid.UUID `json:"item_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gte=1,lte=100"`
}

type checkoutLine struct {
	ItemID   uuid.UUID `json:"item_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gte=1,lte=100"`
}

type checkoutRequest struct {
	Lines []checkoutLine `json:"lines" validate:"required,min=1,max=20,dive"`
}

type orderResponse struct {
	Order    Order `json:"order"`
	Replayed bool  `json:"replayed"`
}

// ListItems handles GET /store/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, items)
}

// Purchase handles POST /store/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Purchase(r.Context(), middleware.GetUserID(r.Context()), req.ItemID, req.Quantity, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, res)
}

// Checkout handles POST /store/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}

	lines := make([]Line, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = Line{ItemID: l.ItemID, Quantity: l.Quantity}
	}
	res, err := h.svc.Checkout(r.Context(), middleware.GetUserID(r.Context()), lines, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, res)
}

// ListOrders handles GET /store/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page := response.ParsePage(r)
	orders, total, err := h.svc.ListOrders(r.Context(), middleware.GetUserID(r.Context()), page.Limit, page.Offset())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.WithMeta(w, orders, response.NewMeta(total, page.Page, page.Limit))
}

// GetOrder handles GET /store/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid order ID")
		return
	}
	order, err := h.svc.GetOrder(r.Context(), middleware.GetUserID(r.Context()), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, order)
}

// Refund handles POST /admin/store/orders/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid order ID")
		return
	}
	res, err := h.svc.RefundOrder(r.Context(), middleware.GetUserID(r.Context()), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, res.Order)
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(idempotencyHeader)
	if len(key) > 128 {
		response.BadRequest(w, "Idempotency-Key is too long (max: 128)")
		return "", false
	}
	return key, true
}

func writeOrder(w http.ResponseWriter, res CheckoutResult) {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	response.JSON(w, status, orderResponse{Order: res.Order, Replayed: res.Replayed})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrItemUnavailable):
		response.Conflict(w, "ITEM_UNAVAILABLE", "Item is not available")
	case errors.Is(err, ErrOutOfStock):
		response.Conflict(w, "OUT_OF_STOCK", "Item is out of stock")
	case errors.Is(err, ErrTotalTooLarge):
		response.Unprocessable(w, "TOTAL_TOO_LARGE", "Order total is too large")
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidQuantity):
		response.Unprocessable(w, "INVALID_QUANTITY", err.Error())
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(w, "Order not found")
	case errors.Is(err, ErrOrderNotRefundable):
		response.Conflict(w, "ORDER_NOT_REFUNDABLE", "Only completed orders can be refunded")
	case errors.Is(err, ErrIdempotencyConflict):
		response.Conflict(w, "IDEMPOTENCY_CONFLICT", "Idempotency-Key was already used for a different purchase")
	default:
		ledger.WriteError(w, r, err)
	}
}

// Routes mounts the storefront under /store.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/items", h.ListItems)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/purchase", h.Purchase)
		r.Post("/checkout", h.Checkout)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
	})
	return r
}

// AdminRoutes mounts under /admin/store behind authentication.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(admin.RequirePermission(admin.PermRefundOrders)).Post("/orders/{id}/refund", h.Refund)
	return r
}
