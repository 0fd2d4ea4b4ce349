package pos

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
	"github.com/apotek-pos/apotek-pos/internal/products"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Handler wires HTTP endpoints for the sale lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	receipts  *ReceiptPrinter
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, receipts *ReceiptPrinter) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		receipts:  receipts,
		validator: validator.New(),
	}
}

// MountRoutes registers sale routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/revenue", h.revenue)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.edit)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/undo", h.undo)
	r.Get("/{id}/receipt", h.receipt)
}

type itemRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitType  string  `json:"unit_type" validate:"omitempty,oneof=piece sheet box"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createSaleRequest struct {
	Items          []itemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountType   string        `json:"discount_type" validate:"omitempty,oneof=none percent amount"`
	DiscountPct    float64       `json:"discount_pct" validate:"gte=0,lte=100"`
	DiscountAmount float64       `json:"discount_amount" validate:"gte=0"`
	PaymentMethod  string        `json:"payment_method" validate:"omitempty,max=32"`
	CustomerRef    *string       `json:"customer_ref" validate:"omitempty,max=64"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sale, err := h.service.CreatePending(r.Context(), CreateSaleInput{
		Items:          toItemInputs(req.Items),
		DiscountType:   req.DiscountType,
		DiscountPct:    req.DiscountPct,
		DiscountAmount: req.DiscountAmount,
		PaymentMethod:  req.PaymentMethod,
		CustomerRef:    req.CustomerRef,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SaleFilter{Status: Status(q.Get("status"))}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	sales, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales, "count": len(sales)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.Complete(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

type undoRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
	Refund bool   `json:"refund"`
}

func (h *Handler) undo(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	var req undoRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}

	result, err := h.service.Undo(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason, req.Refund)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type editSaleRequest struct {
	Items          []itemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountType   string        `json:"discount_type" validate:"omitempty,oneof=none percent amount"`
	DiscountPct    float64       `json:"discount_pct" validate:"gte=0,lte=100"`
	DiscountAmount float64       `json:"discount_amount" validate:"gte=0"`
	Reason         string        `json:"reason" validate:"omitempty,max=255"`
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	var req editSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sale, err := h.service.Edit(r.Context(), EditSaleInput{
		SaleID:         id,
		Items:          toItemInputs(req.Items),
		DiscountType:   req.DiscountType,
		DiscountPct:    req.DiscountPct,
		DiscountAmount: req.DiscountAmount,
		Reason:         req.Reason,
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) revenue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}

	total, err := h.service.Revenue(r.Context(), from, to)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "revenue": total})
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	text, err := h.receipts.Render(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (h *Handler) saleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *batch.InsufficientStockError
	var transitionErr *InvalidTransitionError

	switch {
	case errors.As(err, &stockErr):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Insufficient Stock", stockErr.Error(), map[string]any{
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		})
	case errors.As(err, &transitionErr):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Invalid State Transition", transitionErr.Error(), map[string]any{
			"from": string(transitionErr.From),
			"to":   string(transitionErr.To),
		})
	case errors.Is(err, batch.ErrStockConflict):
		httpx.Problem(w, http.StatusConflict, "Stock Conflict", "stock was modified concurrently, retry the operation")
	case errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "sale not found")
	case errors.Is(err, products.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "product not found")
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyItems):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrActorRequired):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor id header required")
	default:
		h.logger.Error("sale request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toItemInputs(items []itemRequest) []ItemInput {
	inputs := make([]ItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitType:  item.UnitType,
			UnitPrice: item.UnitPrice,
		})
	}
	return inputs
}
