// Package search filters the catalog by a free-text term, optionally after an
// LLM has corrected typos in the query.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

// Refiner rewrites a user query into a better search term.
type Refiner interface {
	Refine(ctx context.Context, query string) (string, error)
}

// Filter keeps products whose name, category or description contains term,
// case-insensitively. An empty term keeps everything.
func Filter(products []*domain.Product, term string) []*domain.Product {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return products
	}

	out := make([]*domain.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.Category), term) ||
			strings.Contains(strings.ToLower(p.Description), term) {
			out = append(out, p)
		}
	}
	return out
}

type Result struct {
	Query        string            `json:"query"`
	RefinedQuery string            `json:"refined_query,omitempty"`
	Products     []*domain.Product `json:"products"`
}

type Service struct {
	catalog catalog.Catalog
	refiner Refiner
	log     *zap.Logger
}

// NewService builds a search service. refiner may be nil, in which case
// refinement requests are ignored.
func NewService(c catalog.Catalog, refiner Refiner, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{catalog: c, refiner: refiner, log: log}
}

func (s *Service) Search(ctx context.Context, query string, refine bool) (*Result, error) {
	products, err := s.catalog.ListAllProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	res := &Result{Query: query}
	term := query
	if refine && s.refiner != nil && strings.TrimSpace(query) != "" {
		refined, err := s.refiner.Refine(ctx, query)
		if err != nil {
			s.log.Warn("query refinement failed, using raw query",
				zap.String("query", query), zap.Error(err))
		} else {
			res.RefinedQuery = refined
			term = refined
		}
	}

	res.Products = Filter(products, term)
	return res, nil
}
