package cart

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func signedInWithCart(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := started(t, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	f.remote.seed("u1", "P1", 1)
	f.remote.seed("u1", "P2", 2)
	f.remote.seed("u1", "P3", 3)
	f.ident.signIn("u1")
	require.Equal(t, 6, f.svc.ItemCount())
	return f
}

func TestCheckout_RequiresAuthentication(t *testing.T) {
	f := started(t)
	_, err := f.svc.AddToCart(context.Background(), "P1", 1)
	require.NoError(t, err)

	_, err = f.svc.Checkout(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Equal(t, 1, f.svc.ItemCount())
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := started(t)
	f.ident.signIn("u1")

	_, err := f.svc.Checkout(context.Background())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Empty(t, f.events.published())
}

func TestCheckout_RecordsEveryLineAndClears(t *testing.T) {
	f := signedInWithCart(t)

	result, err := f.svc.Checkout(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, f.svc.ItemCount())
	assert.Empty(t, f.remote.userRows("u1"))
	assert.Empty(t, result.Failed)
	assert.Equal(t, domain.SyncApplied, result.Sync.Status)

	want := []domain.PurchaseRecord{
		{CheckoutID: result.CheckoutID, UserID: "u1", ProductID: "P1", Quantity: 1, TotalPrice: 1499.99, PurchaseDate: fixedNow},
		{CheckoutID: result.CheckoutID, UserID: "u1", ProductID: "P2", Quantity: 2, TotalPrice: 259.00, PurchaseDate: fixedNow},
		{CheckoutID: result.CheckoutID, UserID: "u1", ProductID: "P3", Quantity: 3, TotalPrice: 237.00, PurchaseDate: fixedNow},
	}
	opts := cmp.Options{
		cmpopts.IgnoreFields(domain.PurchaseRecord{}, "ID"),
		cmpopts.EquateApprox(0, 0.001),
	}
	if diff := cmp.Diff(want, f.remote.purchaseRecords(), opts); diff != "" {
		t.Errorf("purchase records mismatch (-want +got):\n%s", diff)
	}

	events := f.events.published()
	require.Len(t, events, 1)
	assert.Equal(t, result.CheckoutID, events[0].CheckoutID)
	assert.InDelta(t, 1995.99, events[0].TotalAmount, 0.001)
	assert.Empty(t, events[0].FailedItems)
}

func TestCheckout_PartialFailureRetainsFailedLines(t *testing.T) {
	f := signedInWithCart(t)
	f.remote.m.Lock()
	f.remote.failProduct["P2"] = true
	f.remote.m.Unlock()

	result, err := f.svc.Checkout(context.Background())

	require.ErrorIs(t, err, domain.ErrPartialCheckout)
	assert.Contains(t, err.Error(), "P2")
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "P2", result.Failed[0].ProductID)
	assert.Len(t, result.Recorded, 2)

	snap := f.svc.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "P2", snap.Lines[0].ProductID)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	assert.True(t, snap.Lines[0].CheckoutFailed)

	// Only the recorded lines leave the remote cart.
	assert.Equal(t, map[string]int{"P2": 2}, f.remote.userRows("u1"))

	events := f.events.published()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"P2"}, events[0].FailedItems)
}

func TestCheckout_RetryAfterPartialFailure(t *testing.T) {
	f := signedInWithCart(t)
	f.remote.m.Lock()
	f.remote.failProduct["P3"] = true
	f.remote.m.Unlock()

	_, err := f.svc.Checkout(context.Background())
	require.ErrorIs(t, err, domain.ErrPartialCheckout)

	f.remote.m.Lock()
	delete(f.remote.failProduct, "P3")
	f.remote.m.Unlock()

	result, err := f.svc.Checkout(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Recorded, 1)
	assert.Equal(t, "P3", result.Recorded[0].ProductID)
	assert.Equal(t, 0, f.svc.ItemCount())
	assert.Len(t, f.remote.purchaseRecords(), 3)
}

func TestCheckout_ClearRegardlessWhenNotRetaining(t *testing.T) {
	f := signedInWithCart(t, WithRetainFailed(false))
	f.remote.m.Lock()
	f.remote.failProduct["P1"] = true
	f.remote.m.Unlock()

	result, err := f.svc.Checkout(context.Background())

	assert.ErrorIs(t, err, domain.ErrPartialCheckout)
	assert.Len(t, result.Failed, 1)
	assert.Equal(t, 0, f.svc.ItemCount())
	assert.Empty(t, f.remote.userRows("u1"))
}

func TestCheckout_AllFailedPublishesNothing(t *testing.T) {
	f := signedInWithCart(t)
	f.remote.m.Lock()
	for _, id := range []string{"P1", "P2", "P3"} {
		f.remote.failProduct[id] = true
	}
	f.remote.m.Unlock()

	result, err := f.svc.Checkout(context.Background())

	assert.ErrorIs(t, err, domain.ErrPartialCheckout)
	assert.Empty(t, result.Recorded)
	assert.Equal(t, 6, f.svc.ItemCount())
	assert.Empty(t, f.events.published())
}

func TestCheckout_CleanupFailureIsReported(t *testing.T) {
	f := signedInWithCart(t)
	f.remote.m.Lock()
	f.remote.deleteErr = errBackendDown
	f.remote.m.Unlock()

	result, err := f.svc.Checkout(context.Background())

	require.NoError(t, err)
	assert.Len(t, result.Recorded, 3)
	assert.True(t, result.Sync.LocalOnly())
	assert.ErrorIs(t, result.Sync.Reason, domain.ErrRemoteUnavailable)
	assert.Equal(t, 0, f.svc.ItemCount())

	// The purchased rows are still in the remote store but must not come back.
	require.NoError(t, f.svc.Hydrate(context.Background()))
	assert.Equal(t, 0, f.svc.ItemCount())

	f.remote.m.Lock()
	f.remote.deleteErr = nil
	f.remote.m.Unlock()

	require.NoError(t, f.svc.Hydrate(context.Background()))
	assert.Equal(t, 0, f.svc.ItemCount())
	assert.Empty(t, f.remote.userRows("u1"))
}

func TestCheckout_PartialFailureWithCleanupFailureDoesNotRepurchase(t *testing.T) {
	f := signedInWithCart(t)
	f.remote.m.Lock()
	f.remote.failProduct["P2"] = true
	f.remote.deleteErr = errBackendDown
	f.remote.m.Unlock()

	result, err := f.svc.Checkout(context.Background())
	require.ErrorIs(t, err, domain.ErrPartialCheckout)
	assert.True(t, result.Sync.LocalOnly())
	assert.Equal(t, map[string]int{"P2": 2}, quantities(f.svc.Snapshot()))

	// Deletes still failing: recorded lines stay hidden on rehydration.
	require.NoError(t, f.svc.Hydrate(context.Background()))
	assert.Equal(t, map[string]int{"P2": 2}, quantities(f.svc.Snapshot()))

	f.remote.m.Lock()
	f.remote.failProduct["P2"] = false
	f.remote.deleteErr = nil
	f.remote.m.Unlock()

	require.NoError(t, f.svc.Hydrate(context.Background()))
	assert.Equal(t, map[string]int{"P2": 2}, quantities(f.svc.Snapshot()))
	assert.Equal(t, map[string]int{"P2": 2}, f.remote.userRows("u1"))

	_, err = f.svc.Checkout(context.Background())
	require.NoError(t, err)

	purchased := make(map[string]int)
	for _, r := range f.remote.purchaseRecords() {
		purchased[r.ProductID]++
	}
	assert.Equal(t, map[string]int{"P1": 1, "P2": 1, "P3": 1}, purchased)
	assert.Equal(t, 0, f.svc.ItemCount())
}

func TestCheckout_MutatingFailedLineClearsFlag(t *testing.T) {
	f := signedInWithCart(t)
	f.remote.m.Lock()
	f.remote.failProduct["P2"] = true
	f.remote.failProduct["P3"] = true
	f.remote.m.Unlock()

	_, err := f.svc.Checkout(context.Background())
	require.ErrorIs(t, err, domain.ErrPartialCheckout)

	_, err = f.svc.AddToCart(context.Background(), "P2", 1)
	require.NoError(t, err)
	_, err = f.svc.UpdateQuantity(context.Background(), "P3", 1)
	require.NoError(t, err)

	for _, id := range []string{"P2", "P3"} {
		line, ok := f.svc.Snapshot().Line(id)
		require.True(t, ok, id)
		assert.False(t, line.CheckoutFailed, id)
	}
}

func TestCheckout_BoundedConcurrency(t *testing.T) {
	f := started(t, WithCheckoutConcurrency(2))
	for _, id := range []string{"P1", "P2", "P3", "P4"} {
		f.remote.seed("u1", id, 1)
	}
	f.ident.signIn("u1")
	f.remote.m.Lock()
	f.remote.purchaseDelay = 20 * time.Millisecond
	f.remote.m.Unlock()

	_, err := f.svc.Checkout(context.Background())
	require.NoError(t, err)

	f.remote.m.Lock()
	defer f.remote.m.Unlock()
	assert.LessOrEqual(t, f.remote.maxInFlight, 2)
	assert.Len(t, f.remote.purchases, 4)
}

func TestCheckout_EventPublishFailureDoesNotFailCheckout(t *testing.T) {
	f := signedInWithCart(t)
	f.events.m.Lock()
	f.events.err = errBackendDown
	f.events.m.Unlock()

	_, err := f.svc.Checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.svc.ItemCount())
}
