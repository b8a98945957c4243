package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/search"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	RateLimitRPS       float64
	RateLimitBurst     int
}

type Deps struct {
	Sessions *session.Registry
	Catalog  catalog.Catalog
	Search   *search.Service
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig, deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cartHandler := NewCartHandler(cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(cfg.RequestTimeout)
	productHandler := NewProductHandler(deps.Catalog, deps.Search, cfg.RequestTimeout)
	authHandler := NewAuthHandler()

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(log))
	if cfg.RateLimitRPS > 0 {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	if cfg.MaxRequestBodySize > 0 {
		r.Use(MaxBodySize(cfg.MaxRequestBodySize))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", productHandler.List)
		r.Get("/products/{id}", productHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(deps.Sessions))

			r.Post("/auth/signin", authHandler.SignIn)
			r.Post("/auth/signout", authHandler.SignOut)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})

			r.Post("/checkout", checkoutHandler.Checkout)
			r.Get("/purchases", checkoutHandler.Purchases)
		})
	})

	return r
}
