package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrProductNotFound   = errors.New("product not found")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrPartialCheckout   = errors.New("checkout failed for some items")
)
