package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	timeout time.Duration
}

func NewCartHandler(timeout time.Duration) *CartHandler {
	return &CartHandler{timeout: timeout}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	Identity  string            `json:"identity"`
	State     string            `json:"state"`
	Lines     []domain.CartLine `json:"lines"`
	Total     float64           `json:"total"`
	ItemCount int               `json:"item_count"`
	UpdatedAt time.Time         `json:"updated_at"`
	Sync      string            `json:"sync,omitempty"`
	Warning   string            `json:"warning,omitempty"`
}

func cartResponse(svc *cart.Service) CartResponse {
	snap := svc.Snapshot()
	state, id := svc.State()
	lines := snap.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	resp := CartResponse{
		Identity:  id.String(),
		State:     state.String(),
		Lines:     lines,
		Total:     snap.Total(),
		ItemCount: snap.ItemCount(),
		UpdatedAt: snap.UpdatedAt,
	}
	if err := svc.HydrationWarning(); err != nil {
		resp.Warning = err.Error()
	}
	return resp
}

func mutationResponse(svc *cart.Service, res domain.MutationResult) CartResponse {
	resp := cartResponse(svc)
	resp.Sync = string(res.Status)
	if res.Reason != nil {
		resp.Warning = res.Reason.Error()
	}
	return resp
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(s.Cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity <= 0 || quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	res, err := s.Cart.AddToCart(ctx, req.ProductID, quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, mutationResponse(s.Cart, res))
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	res, err := s.Cart.UpdateQuantity(ctx, productID, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, mutationResponse(s.Cart, res))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	res, err := s.Cart.RemoveFromCart(ctx, productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, mutationResponse(s.Cart, res))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	res, err := s.Cart.ClearCart(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, mutationResponse(s.Cart, res))
}
