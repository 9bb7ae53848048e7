package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/cache"
	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/service/catalog"
	"github.com/vladislavdragonenkov/farmline/internal/service/ledger"
)

// CallerHeader несёт идентичность вызывающей стороны. Аутентификация
// выполняется выше по стеку (gateway), здесь заголовку доверяем.
const CallerHeader = "X-Caller-Id"

const requestTimeout = 15 * time.Second

// Handler связывает HTTP-маршруты с каталогом, журналом заказов и арбитром.
type Handler struct {
	catalog     *catalog.Service
	engine      *ledger.Engine
	arbiter     *ledger.Arbiter
	cache       *cache.Cache
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
}

// NewHandler конструирует HTTP-обработчик. cache и idempotency могут быть
// nil — соответствующие возможности просто отключаются.
func NewHandler(
	catalogSvc *catalog.Service,
	engine *ledger.Engine,
	arbiter *ledger.Arbiter,
	orderCache *cache.Cache,
	idempotency domain.IdempotencyRepository,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Handler{
		catalog:     catalogSvc,
		engine:      engine,
		arbiter:     arbiter,
		cache:       orderCache,
		idempotency: idempotency,
		logger:      logger.WithField("component", "httpapi"),
	}
}

// Router собирает chi-роутер со всеми маршрутами сервиса.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProductsByProducer)
			r.Get("/{id}", h.getProduct)
			r.Group(func(r chi.Router) {
				r.Use(h.idempotencyMiddleware)
				r.Post("/", h.listProduct)
				r.Put("/{id}", h.updateProduct)
				r.Post("/{id}/deactivate", h.deactivateProduct)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrdersByParty)
			r.Get("/{id}", h.getOrder)
			r.Group(func(r chi.Router) {
				r.Use(h.idempotencyMiddleware)
				r.Post("/", h.createOrder)
				r.Post("/{id}/confirm", h.confirmOrder)
				r.Post("/{id}/ship", h.shipOrder)
				r.Post("/{id}/deliver", h.confirmDelivery)
				r.Post("/{id}/cancel", h.cancelOrder)
				r.Post("/{id}/dispute", h.disputeOrder)
				r.Post("/{id}/resolve", h.resolveDispute)
			})
		})
	})

	return r
}

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
	Category    string `json:"category,omitempty"`
	Location    string `json:"location,omitempty"`
	IsOrganic   bool   `json:"is_organic,omitempty"`
	PriceMinor  int64  `json:"price_minor"`
	Quantity    int64  `json:"quantity"`
}

type productResponse struct {
	ID                int64  `json:"id"`
	ProducerID        string `json:"producer_id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	ImageRef          string `json:"image_ref,omitempty"`
	Category          string `json:"category,omitempty"`
	Location          string `json:"location,omitempty"`
	IsOrganic         bool   `json:"is_organic"`
	PriceMinor        int64  `json:"price_minor"`
	Quantity          int64  `json:"quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	Active            bool   `json:"active"`
	Version           int64  `json:"version"`
}

type createOrderRequest struct {
	ProductID       int64  `json:"product_id"`
	Quantity        int64  `json:"quantity"`
	DeliveryAddress string `json:"delivery_address"`
	PaymentMinor    int64  `json:"payment_minor"`
}

type orderResponse struct {
	ID              int64      `json:"id"`
	ProductID       int64      `json:"product_id"`
	BuyerID         string     `json:"buyer_id"`
	SellerID        string     `json:"seller_id"`
	Quantity        int64      `json:"quantity"`
	TotalMinor      int64      `json:"total_minor"`
	FeeMinor        int64      `json:"fee_minor"`
	Status          string     `json:"status"`
	DeliveryAddress string     `json:"delivery_address"`
	TrackingRef     string     `json:"tracking_ref,omitempty"`
	DisputeReason   string     `json:"dispute_reason,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
}

type createOrderResponse struct {
	Order       orderResponse `json:"order"`
	ChangeMinor int64         `json:"change_minor"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type orderDetailsResponse struct {
	Order    orderResponse           `json:"order"`
	Timeline []timelineEventResponse `json:"timeline"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		ProducerID:        p.ProducerID,
		Name:              p.Name,
		Description:       p.Description,
		ImageRef:          p.ImageRef,
		Category:          p.Category,
		Location:          p.Location,
		IsOrganic:         p.IsOrganic,
		PriceMinor:        p.PriceMinor,
		Quantity:          p.Quantity,
		RemainingQuantity: p.RemainingQuantity,
		Active:            p.Active,
		Version:           p.Version,
	}
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ProductID:       o.ProductID,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		Quantity:        o.Quantity,
		TotalMinor:      o.TotalMinor,
		FeeMinor:        o.FeeMinor,
		Status:          string(o.Status),
		DeliveryAddress: o.DeliveryAddress,
		TrackingRef:     o.TrackingRef,
		DisputeReason:   o.DisputeReason,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		DeliveredAt:     o.DeliveredAt,
	}
}

func (h *Handler) listProduct(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}

	product, err := h.catalog.ListProduct(caller, catalog.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		Category:    req.Category,
		Location:    req.Location,
		IsOrganic:   req.IsOrganic,
		PriceMinor:  req.PriceMinor,
		Quantity:    req.Quantity,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}

	product, err := h.catalog.UpdateProduct(caller, id, catalog.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		Category:    req.Category,
		Location:    req.Location,
		IsOrganic:   req.IsOrganic,
		PriceMinor:  req.PriceMinor,
		Quantity:    req.Quantity,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.cache.InvalidateProduct(r.Context(), id)
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.DeactivateProduct(caller, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.cache.InvalidateProduct(r.Context(), id)
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if product, hit := h.cache.GetProduct(r.Context(), id); hit {
		h.writeJSON(w, http.StatusOK, toProductResponse(product))
		return
	}

	product, err := h.catalog.GetProduct(id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.cache.SetProduct(r.Context(), product)
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) listProductsByProducer(w http.ResponseWriter, r *http.Request) {
	producerID := r.URL.Query().Get("producer_id")
	if producerID == "" {
		h.writeError(w, r, http.StatusBadRequest, errors.New("producer_id query parameter is required"))
		return
	}

	products, err := h.catalog.ListByProducer(producerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}

	order, change, err := h.engine.CreateOrder(caller, ledger.CreateOrderInput{
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMinor:    req.PaymentMinor,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.cache.InvalidateProduct(r.Context(), req.ProductID)
	h.writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:       toOrderResponse(order),
		ChangeMinor: change,
	})
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller string, id int64) (domain.Order, error) {
		return h.engine.ConfirmOrder(caller, id)
	})
}

type shipOrderRequest struct {
	TrackingRef string `json:"tracking_ref"`
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}
	h.transition(w, r, func(caller string, id int64) (domain.Order, error) {
		return h.engine.ShipOrder(caller, id, req.TrackingRef)
	})
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller string, id int64) (domain.Order, error) {
		return h.engine.ConfirmDelivery(caller, id)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller string, id int64) (domain.Order, error) {
		return h.engine.CancelOrder(caller, id)
	})
}

type disputeOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) disputeOrder(w http.ResponseWriter, r *http.Request) {
	var req disputeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}
	h.transition(w, r, func(caller string, id int64) (domain.Order, error) {
		return h.engine.DisputeOrder(caller, id, req.Reason)
	})
}

type resolveDisputeRequest struct {
	FavorBuyer bool `json:"favor_buyer"`
}

func (h *Handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}
	h.transition(w, r, func(caller string, id int64) (domain.Order, error) {
		return h.arbiter.ResolveDispute(caller, id, req.FavorBuyer)
	})
}

// transition обрабатывает общий паттерн мутаций заказа: caller + id из
// запроса, инвалидация кэша после успеха.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(caller string, id int64) (domain.Order, error)) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	order, err := fn(caller, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.cache.InvalidateOrder(r.Context(), id)
	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	order, hit := h.cache.GetOrder(r.Context(), id)
	if !hit {
		var err error
		order, err = h.engine.GetOrder(id)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		h.cache.SetOrder(r.Context(), order)
	}

	timeline, err := h.engine.Timeline(id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	events := make([]timelineEventResponse, 0, len(timeline))
	for _, ev := range timeline {
		events = append(events, timelineEventResponse{
			Type:     ev.Type,
			Reason:   ev.Reason,
			Occurred: ev.Occurred,
		})
	}

	h.writeJSON(w, http.StatusOK, orderDetailsResponse{
		Order:    toOrderResponse(order),
		Timeline: events,
	})
}

func (h *Handler) listOrdersByParty(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	sellerID := r.URL.Query().Get("seller_id")
	if (buyerID == "") == (sellerID == "") {
		h.writeError(w, r, http.StatusBadRequest, errors.New("exactly one of buyer_id or seller_id is required"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, r, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	var (
		orders []domain.Order
		err    error
	)
	if buyerID != "" {
		orders, err = h.engine.ListByBuyer(buyerID, limit)
	} else {
		orders, err = h.engine.ListBySeller(sellerID, limit)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := r.Header.Get(CallerHeader)
	if caller == "" {
		h.writeError(w, r, http.StatusUnauthorized, errors.New("caller identity header is required"))
		return "", false
	}
	return caller, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, http.StatusBadRequest, errors.New("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	h.logger.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": code,
	}).WithError(err).Debug("request rejected")
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}

// writeDomainError транслирует таксономию доменных ошибок в HTTP-статусы.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case domain.IsNotFound(err):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds):
		code = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidStateTransition):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrReentrantCall), domain.IsVersionConflict(err):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrAlreadyInitialized):
		code = http.StatusConflict
	}

	if code == http.StatusInternalServerError {
		h.logger.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("internal error")
	}

	h.writeError(w, r, code, err)
}
