package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type CheckoutResult struct {
	CheckoutID string
	Recorded   []domain.PurchaseRecord
	// Failed holds the lines whose purchase record could not be written.
	Failed []domain.CartLine
	// Sync reports whether recorded lines were also removed from the remote cart.
	Sync domain.MutationResult
}

// Checkout writes one purchase record per cart line, concurrently, and
// inspects every result. Recorded lines leave the cart. Failed lines stay in
// the cart flagged CheckoutFailed and the returned error wraps
// domain.ErrPartialCheckout, unless the service was built with
// WithRetainFailed(false), in which case the cart is cleared regardless.
func (s *Service) Checkout(ctx context.Context) (*CheckoutResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	id := s.current
	gen := s.generation
	lines := append([]domain.CartLine(nil), s.lines...)
	s.mu.Unlock()

	if !id.IsAuthenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	checkoutID := uuid.New().String()
	now := s.now()
	records := make([]domain.PurchaseRecord, len(lines))
	for i, l := range lines {
		records[i] = domain.PurchaseRecord{
			ID:           uuid.New().String(),
			CheckoutID:   checkoutID,
			UserID:       id.UserID,
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			TotalPrice:   l.Subtotal(),
			PurchaseDate: now,
		}
	}

	errs := s.submitRecords(ctx, records)

	result := &CheckoutResult{CheckoutID: checkoutID, Sync: domain.Applied()}
	recorded := make(map[string]bool, len(lines))
	for i, err := range errs {
		if err == nil || errors.Is(err, repository.ErrDuplicatePurchase) {
			result.Recorded = append(result.Recorded, records[i])
			recorded[lines[i].ProductID] = true
			continue
		}
		s.log.Warn("purchase record failed",
			zap.String("checkout_id", checkoutID),
			zap.String("product_id", lines[i].ProductID),
			zap.Error(err))
		failed := lines[i]
		failed.CheckoutFailed = true
		result.Failed = append(result.Failed, failed)
	}

	if s.retainFailed && len(result.Failed) > 0 {
		result.Sync = s.removeRecorded(ctx, gen, id.UserID, recorded, result.Failed)
	} else {
		result.Sync = s.clearAfterCheckout(ctx, gen, id.UserID)
	}

	if len(result.Recorded) > 0 {
		s.publishCompleted(ctx, checkoutID, id.UserID, result)
	}

	if len(result.Failed) > 0 {
		ids := make([]string, len(result.Failed))
		for i, l := range result.Failed {
			ids[i] = l.ProductID
		}
		return result, fmt.Errorf("%w: %s", domain.ErrPartialCheckout, strings.Join(ids, ", "))
	}
	return result, nil
}

// submitRecords inserts every record and returns the per-record errors in
// the same order. Submission never stops early.
func (s *Service) submitRecords(ctx context.Context, records []domain.PurchaseRecord) []error {
	errs := make([]error, len(records))

	var g errgroup.Group
	g.SetLimit(s.checkoutConcurrency)
	for i := range records {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
			defer cancel()
			errs[i] = s.remote.InsertPurchaseRecord(rctx, records[i])
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (s *Service) removeRecorded(ctx context.Context, gen uint64, userID string, recorded map[string]bool, failed []domain.CartLine) domain.MutationResult {
	s.mu.Lock()
	rows := make(map[string][]string, len(recorded))
	for pid := range recorded {
		rows[pid] = append([]string(nil), s.rowIDs[pid]...)
	}
	s.mu.Unlock()

	var firstErr error
	for pid := range rows {
		if err := s.deleteRows(ctx, userID, pid, rows); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	for pid, ids := range rows {
		if len(ids) > 0 {
			s.log.Warn("recorded line left remote rows behind, deleting on next hydration",
				zap.String("product_id", pid), zap.Strings("row_ids", ids))
			s.markPendingLocked(userID, ids)
		}
	}
	if s.generation == gen {
		s.lines = failed
		for pid := range rows {
			delete(s.rowIDs, pid)
		}
		s.publishLocked()
	}
	s.mu.Unlock()

	if firstErr != nil {
		return s.localOnly("checkout cleanup", firstErr)
	}
	return domain.Applied()
}

func (s *Service) clearAfterCheckout(ctx context.Context, gen uint64, userID string) domain.MutationResult {
	s.mu.Lock()
	var leftover []string
	for _, ids := range s.rowIDs {
		leftover = append(leftover, ids...)
	}
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	err := s.remote.DeleteAllCartRows(rctx, userID)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.markPendingLocked(userID, leftover)
	} else {
		delete(s.pendingDeletes, userID)
	}
	if s.generation == gen {
		s.lines = nil
		s.rowIDs = make(map[string][]string)
		s.publishLocked()
	}
	s.mu.Unlock()

	if err != nil {
		return s.localOnly("checkout cleanup", err)
	}
	return domain.Applied()
}

func (s *Service) publishCompleted(ctx context.Context, checkoutID, userID string, result *CheckoutResult) {
	if s.events == nil {
		return
	}

	event := domain.CheckoutCompleted{
		CheckoutID:  checkoutID,
		UserID:      userID,
		Records:     result.Recorded,
		CompletedAt: s.now(),
	}
	for _, r := range result.Recorded {
		event.TotalAmount += r.TotalPrice
	}
	for _, l := range result.Failed {
		event.FailedItems = append(event.FailedItems, l.ProductID)
	}

	if err := s.events.PublishCheckoutCompleted(ctx, event); err != nil {
		s.log.Error("failed to publish checkout event",
			zap.String("checkout_id", checkoutID), zap.Error(err))
	}
}
