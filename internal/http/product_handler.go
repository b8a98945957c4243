package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/search"
	"github.com/go-chi/chi/v5"
)

type ProductHandler struct {
	catalog catalog.Catalog
	search  *search.Service
	timeout time.Duration
}

func NewProductHandler(c catalog.Catalog, s *search.Service, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		catalog: c,
		search:  s,
		timeout: timeout,
	}
}

type ProductsResponse struct {
	Query        string            `json:"query,omitempty"`
	RefinedQuery string            `json:"refined_query,omitempty"`
	Products     []*domain.Product `json:"products"`
}

// GET /api/v1/products?q=...&refine=true
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	query := r.URL.Query().Get("q")
	refine, _ := strconv.ParseBool(r.URL.Query().Get("refine"))

	res, err := h.search.Search(ctx, query, refine)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	products := res.Products
	if products == nil {
		products = []*domain.Product{}
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{
		Query:        res.Query,
		RefinedQuery: res.RefinedQuery,
		Products:     products,
	})
}

// GET /api/v1/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.catalog.GetProductByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}
