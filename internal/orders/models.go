package orders

import "time"

// Book is the catalog row as seen by checkout. Price fields are nullable.
type Book struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Price         *int64 `json:"price"`
	DiscountPrice *int64 `json:"discount_price"`
	Stock         int    `json:"stock"`
	Enabled       bool   `json:"enabled"`
}

// EffectivePrice is the discount price when set, else the list price.
func (b Book) EffectivePrice() (int64, bool) {
	if b.DiscountPrice != nil {
		return *b.DiscountPrice, true
	}
	if b.Price != nil {
		return *b.Price, true
	}
	return 0, false
}

type Account struct {
	ID      int64
	Enabled bool
}

// Actor is the identity placing or viewing orders. Admin is set by the
// upstream gateway.
type Actor struct {
	UserID int64
	Admin  bool
}

// OrderForm is what the shopper typed at checkout.
type OrderForm struct {
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	ShippingAddress string `json:"shipping_address"`
	Notes           string `json:"notes,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
}

type Order struct {
	ID              string      `json:"id"`
	Number          string      `json:"order_number"`
	UserID          *int64      `json:"user_id,omitempty"`
	CustomerName    string      `json:"customer_name"`
	CustomerPhone   string      `json:"customer_phone"`
	CustomerEmail   string      `json:"customer_email,omitempty"`
	ShippingAddress string      `json:"shipping_address"`
	Notes           string      `json:"notes,omitempty"`
	PaymentMethod   string      `json:"payment_method"`
	Total           int64       `json:"total"`
	Status          Status      `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Lines           []OrderLine `json:"lines"`
}

// OrderLine carries the unit price frozen when the order was placed.
type OrderLine struct {
	ID       int64  `json:"id"`
	OrderID  string `json:"order_id"`
	BookID   int64  `json:"book_id"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// LinesTotal is the sum of price times quantity over lines.
func LinesTotal(lines []OrderLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.Price * int64(l.Quantity)
	}
	return total
}

// BelongsTo reports whether a is allowed to read o.
func (o Order) BelongsTo(a *Actor) bool {
	if a == nil {
		return false
	}
	if a.Admin {
		return true
	}
	return o.UserID != nil && *o.UserID == a.UserID
}
