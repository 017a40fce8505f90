package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"catalogorders/internal/order/application"
	"catalogorders/internal/order/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

type createOrderReq struct {
	Lines []struct {
		ProductID int64 `json:"productId"`
		Quantity  int   `json:"quantity"`
	} `json:"lines"`
}

type orderLineResp struct {
	ProductID      int64  `json:"productId"`
	ProductName    string `json:"productName"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	TotalCents     int64  `json:"totalCents"`
}

type orderResp struct {
	ID         int64           `json:"id"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	Lines      []orderLineResp `json:"lines"`
	TotalCents int64           `json:"totalCents"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/orders", h.listOrders)
	r.Get("/api/orders/{id}", h.getOrder)
	r.Post("/api/orders", h.createOrder)
	r.Delete("/api/orders/{id}", h.cancelOrder)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(req.Lines) == 0 {
		http.Error(w, "order needs at least one line", http.StatusBadRequest)
		return
	}
	lines := make([]application.LineRequest, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			http.Error(w, "quantity must be positive", http.StatusBadRequest)
			return
		}
		lines = append(lines, application.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	o, err := h.service.CreateOrder(ctx, lines)
	if errors.Is(err, application.ErrProductNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("create order failed", "err", err)
		http.Error(w, "could not create order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	o, err := h.service.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get order failed", "order_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	orders, err := h.service.ListOrders(ctx)
	if err != nil {
		h.log.Error("list orders failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]orderResp, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	err = h.service.CancelOrder(ctx, id)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotCancellable):
		http.Error(w, "only confirmed orders can be cancelled", http.StatusConflict)
	case err != nil:
		h.log.Error("cancel order failed", "order_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func toResp(o domain.Order) orderResp {
	lines := make([]orderLineResp, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineResp{
			ProductID:      l.ProductID,
			ProductName:    l.ProductName,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			TotalCents:     l.TotalCents(),
		})
	}
	return orderResp{
		ID:         o.ID,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		Lines:      lines,
		TotalCents: o.TotalCents(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
