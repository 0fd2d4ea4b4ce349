package batch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
	"github.com/apotek-pos/apotek-pos/internal/products"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Handler wires HTTP endpoints for batch receiving and maintenance.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers batch routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.receive)
	r.Get("/{id}", h.get)
	r.Post("/{id}/quarantine", h.quarantine)
	r.Get("/product/{productID}", h.listByProduct)
	r.Get("/expiring", h.expiring)
}

type receiveRequest struct {
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	BatchNumber string  `json:"batch_number" validate:"omitempty,max=64"`
	Quantity    int64   `json:"quantity" validate:"required,gt=0"`
	ExpiryDate  *string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var expiry *time.Time
	if req.ExpiryDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.ExpiryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
			return
		}
		expiry = &parsed
	}

	created, err := h.service.Receive(r.Context(), ReceiveInput{
		ProductID:   req.ProductID,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		ExpiryDate:  expiry,
		UnitCost:    req.UnitCost,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

type quarantineRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

func (h *Handler) quarantine(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	var req quarantineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}

	b, err := h.service.Quarantine(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) listByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "productID must be an integer")
		return
	}
	batches, err := h.service.ListByProduct(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (h *Handler) expiring(w http.ResponseWriter, r *http.Request) {
	window := 30 * 24 * time.Hour
	if days, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	batches, err := h.service.ExpiringWithin(r.Context(), window)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "batch not found")
	case errors.Is(err, products.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "product not found")
	case errors.Is(err, ErrBatchNotActive):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrActorRequired):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor id header required")
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("batch request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
