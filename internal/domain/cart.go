package domain

import "time"

// CartLine is one product's quantity entry. Price and metadata are captured
// when the line is first added and are not refreshed from the catalog.
type CartLine struct {
	ProductID      string  `json:"product_id"`
	Name           string  `json:"name"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       int     `json:"quantity"`
	ImageRef       string  `json:"image_ref"`
	Category       string  `json:"category"`
	CheckoutFailed bool    `json:"checkout_failed,omitempty"`
}

func (l CartLine) Subtotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

// NewCartLine snapshots the product at add time.
func NewCartLine(p *Product, quantity int) CartLine {
	return CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  quantity,
		ImageRef:  p.ImageURL,
		Category:  p.Category,
	}
}

// CartSnapshot is an immutable published copy of the cart. Lines keep the
// order in which products were first added.
type CartSnapshot struct {
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (s *CartSnapshot) Total() float64 {
	if s == nil {
		return 0
	}
	var total float64
	for _, l := range s.Lines {
		total += l.Subtotal()
	}
	return total
}

func (s *CartSnapshot) ItemCount() int {
	if s == nil {
		return 0
	}
	count := 0
	for _, l := range s.Lines {
		count += l.Quantity
	}
	return count
}

func (s *CartSnapshot) Line(productID string) (CartLine, bool) {
	if s == nil {
		return CartLine{}, false
	}
	for _, l := range s.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}

// CartRow is a remote cart row as stored by the backend. The same product may
// appear in more than one row for carts written by older clients.
type CartRow struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ProductID string    `json:"product_id" bson:"product_id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
