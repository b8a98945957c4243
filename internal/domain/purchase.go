package domain

import "time"

// PurchaseRecord is append-only and never mutated after checkout.
type PurchaseRecord struct {
	ID           string    `json:"id" bson:"_id"`
	CheckoutID   string    `json:"checkout_id" bson:"checkout_id"`
	UserID       string    `json:"user_id" bson:"user_id"`
	ProductID    string    `json:"product_id" bson:"product_id"`
	Quantity     int       `json:"quantity" bson:"quantity"`
	TotalPrice   float64   `json:"total_price" bson:"total_price"`
	PurchaseDate time.Time `json:"purchase_date" bson:"purchase_date"`
}

// CheckoutCompleted is published after a checkout recorded at least one line.
type CheckoutCompleted struct {
	CheckoutID  string           `json:"checkout_id"`
	UserID      string           `json:"user_id"`
	Records     []PurchaseRecord `json:"records"`
	FailedItems []string         `json:"failed_items,omitempty"`
	TotalAmount float64          `json:"total_amount"`
	CompletedAt time.Time        `json:"completed_at"`
}
