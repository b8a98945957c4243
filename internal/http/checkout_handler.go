package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type CheckoutHandler struct {
	timeout time.Duration
}

func NewCheckoutHandler(timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{timeout: timeout}
}

type CheckoutResponseDTO struct {
	CheckoutID  string                  `json:"checkout_id"`
	Status      string                  `json:"status"`
	Recorded    []domain.PurchaseRecord `json:"recorded"`
	Failed      []domain.CartLine       `json:"failed,omitempty"`
	TotalAmount float64                 `json:"total_amount"`
	Sync        string                  `json:"sync"`
	Error       string                  `json:"error,omitempty"`
	Cart        CartResponse            `json:"cart"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	result, err := s.Cart.Checkout(ctx)
	if err != nil && !errors.Is(err, domain.ErrPartialCheckout) {
		handleServiceError(w, err)
		return
	}

	resp := CheckoutResponseDTO{
		CheckoutID: result.CheckoutID,
		Status:     "COMPLETED",
		Recorded:   result.Recorded,
		Failed:     result.Failed,
		Sync:       string(result.Sync.Status),
		Cart:       cartResponse(s.Cart),
	}
	if resp.Recorded == nil {
		resp.Recorded = []domain.PurchaseRecord{}
	}
	for _, rec := range result.Recorded {
		resp.TotalAmount += rec.TotalPrice
	}

	status := http.StatusCreated
	if err != nil {
		resp.Status = "PARTIALLY_FAILED"
		resp.Error = err.Error()
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, resp)
}

type PurchasesResponse struct {
	Purchases []domain.PurchaseRecord `json:"purchases"`
}

// GET /api/v1/purchases
func (h *CheckoutHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	records, err := s.Cart.PurchaseHistory(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if records == nil {
		records = []domain.PurchaseRecord{}
	}

	respondJSON(w, http.StatusOK, PurchasesResponse{Purchases: records})
}
