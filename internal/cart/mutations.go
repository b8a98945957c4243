package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
)

// AddToCart adds quantity units of productID, merging into an existing line.
// New lines capture the product's price and metadata at this moment. The
// in-memory change is kept even when the remote write fails; the result then
// reports SyncAppliedLocalOnly.
func (s *Service) AddToCart(ctx context.Context, productID string, quantity int) (domain.MutationResult, error) {
	if productID == "" {
		return domain.MutationResult{}, fmt.Errorf("%w: product id is required", domain.ErrValidation)
	}
	if quantity <= 0 {
		return domain.MutationResult{}, fmt.Errorf("%w: quantity must be a positive integer, got %d", domain.ErrValidation, quantity)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	exists := indexOf(s.lines, productID) >= 0
	s.mu.Unlock()

	var added domain.CartLine
	if !exists {
		p, err := s.catalog.GetProductByID(ctx, productID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.MutationResult{}, fmt.Errorf("%w: %w: %s", domain.ErrValidation, err, productID)
		}
		if err != nil {
			return domain.MutationResult{}, fmt.Errorf("failed to look up product %s: %w", productID, err)
		}
		added = domain.NewCartLine(p, quantity)
	}

	s.mu.Lock()
	var newQty int
	if i := indexOf(s.lines, productID); i >= 0 {
		s.lines[i].Quantity += quantity
		s.lines[i].CheckoutFailed = false
		newQty = s.lines[i].Quantity
	} else {
		s.lines = append(s.lines, added)
		newQty = added.Quantity
	}
	gen, id, lines := s.commitLocked()
	s.mu.Unlock()

	return s.persistLine(ctx, gen, id, productID, newQty, lines), nil
}

// RemoveFromCart deletes the line for productID. Removing an absent line is a
// no-op.
func (s *Service) RemoveFromCart(ctx context.Context, productID string) (domain.MutationResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.removeLocked(ctx, productID), nil
}

// UpdateQuantity replaces the quantity of an existing line. A quantity of zero
// or less removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.MutationResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if quantity <= 0 {
		return s.removeLocked(ctx, productID), nil
	}

	s.mu.Lock()
	i := indexOf(s.lines, productID)
	if i < 0 {
		s.mu.Unlock()
		return domain.Applied(), nil
	}
	s.lines[i].Quantity = quantity
	s.lines[i].CheckoutFailed = false
	gen, id, lines := s.commitLocked()
	s.mu.Unlock()

	return s.persistLine(ctx, gen, id, productID, quantity, lines), nil
}

// ClearCart deletes every remote row for a signed-in user and then empties the
// cart. The local view is emptied even when the remote delete fails.
func (s *Service) ClearCart(ctx context.Context) (domain.MutationResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	id := s.current
	s.mu.Unlock()

	result := domain.Applied()
	if id.IsAuthenticated() {
		rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
		err := s.remote.DeleteAllCartRows(rctx, id.UserID)
		cancel()
		if err != nil {
			result = s.localOnly("clear cart", err)
		}
	}

	s.mu.Lock()
	if id.IsAuthenticated() && !result.LocalOnly() {
		delete(s.pendingDeletes, id.UserID)
	}
	s.lines = nil
	s.rowIDs = make(map[string][]string)
	s.publishLocked()
	s.mu.Unlock()

	if !id.IsAuthenticated() {
		s.writeLocal(nil)
	}
	return result, nil
}

// PurchaseHistory lists the signed-in user's purchase records, newest first.
func (s *Service) PurchaseHistory(ctx context.Context) ([]domain.PurchaseRecord, error) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()

	if !id.IsAuthenticated() {
		return nil, domain.ErrNotAuthenticated
	}

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	records, err := s.remote.ListPurchaseRecords(rctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return records, nil
}

func (s *Service) removeLocked(ctx context.Context, productID string) domain.MutationResult {
	s.mu.Lock()
	i := indexOf(s.lines, productID)
	if i < 0 {
		s.mu.Unlock()
		return domain.Applied()
	}
	s.lines = append(s.lines[:i:i], s.lines[i+1:]...)
	gen, id, lines := s.commitLocked()
	s.mu.Unlock()

	return s.persistLine(ctx, gen, id, productID, 0, lines)
}

// commitLocked publishes the current lines and returns what persistLine needs.
// Caller holds mu.
func (s *Service) commitLocked() (uint64, domain.Identity, []domain.CartLine) {
	s.publishLocked()
	return s.generation, s.current, append([]domain.CartLine(nil), s.lines...)
}

// persistLine writes one line's new quantity to the store matching id. A
// quantity of 0 deletes it.
func (s *Service) persistLine(ctx context.Context, gen uint64, id domain.Identity, productID string, quantity int, lines []domain.CartLine) domain.MutationResult {
	if !id.IsAuthenticated() {
		s.writeLocal(lines)
		return domain.Applied()
	}

	s.mu.Lock()
	rows := map[string][]string{productID: append([]string(nil), s.rowIDs[productID]...)}
	s.mu.Unlock()

	var err error
	if quantity > 0 {
		err = s.syncLine(ctx, id.UserID, productID, quantity, rows)
	} else {
		err = s.deleteRows(ctx, id.UserID, productID, rows)
	}

	s.mu.Lock()
	if s.generation == gen {
		if len(rows[productID]) > 0 {
			s.rowIDs[productID] = rows[productID]
		} else {
			delete(s.rowIDs, productID)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return s.localOnly(productID, err)
	}
	return domain.Applied()
}

// syncLine makes the remote store hold exactly one row with quantity for
// productID. rowIDs is updated to the ids that remain.
func (s *Service) syncLine(ctx context.Context, userID, productID string, quantity int, rowIDs map[string][]string) error {
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	ids := rowIDs[productID]
	if len(ids) > 0 {
		err := s.remote.UpdateCartRowQuantity(rctx, userID, ids[0], quantity)
		if err == nil {
			rowIDs[productID] = ids[:1]
			return s.deleteRowIDs(rctx, userID, productID, ids[1:], ids[:1], rowIDs)
		}
		if !errors.Is(err, repository.ErrRowNotFound) {
			return err
		}
		// Row deleted behind our back; recreate it.
		ids = ids[1:]
	}

	rowID, err := s.remote.InsertCartRow(rctx, userID, productID, quantity)
	if err != nil {
		rowIDs[productID] = ids
		return err
	}
	rowIDs[productID] = []string{rowID}
	return s.deleteRowIDs(rctx, userID, productID, ids, []string{rowID}, rowIDs)
}

func (s *Service) deleteRows(ctx context.Context, userID, productID string, rowIDs map[string][]string) error {
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	return s.deleteRowIDs(rctx, userID, productID, rowIDs[productID], nil, rowIDs)
}

// deleteRowIDs deletes ids and records keep plus any ids it failed to delete
// back into rowIDs.
func (s *Service) deleteRowIDs(ctx context.Context, userID, productID string, ids, keep []string, rowIDs map[string][]string) error {
	for n, rowID := range ids {
		err := s.remote.DeleteCartRow(ctx, userID, rowID)
		if err != nil && !errors.Is(err, repository.ErrRowNotFound) {
			rowIDs[productID] = append(append([]string(nil), keep...), ids[n:]...)
			return err
		}
	}
	rowIDs[productID] = keep
	return nil
}

func (s *Service) localOnly(subject string, err error) domain.MutationResult {
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
	}
	s.log.Warn("remote cart write failed, change applied locally only",
		zap.String("subject", subject), zap.Error(err))
	return domain.AppliedLocalOnly(err)
}
