package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the privilege level of an authenticated caller
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Principal is the authenticated caller of a service operation
type Principal struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsAdmin reports whether the principal holds the ADMIN role
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Product represents a catalog item listed by a seller
type Product struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	CategoryID  uuid.UUID       `db:"category_id" json:"category_id"`
	Name        string          `db:"name" json:"name"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Amount      int             `db:"amount" json:"amount"`
	SubTotal    decimal.Decimal `db:"sub_total" json:"sub_total"`
	IsPurchased bool            `db:"is_purchased" json:"is_purchased"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// LineTotal returns unit price times amount
func (p *Product) LineTotal() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Amount)))
}

// ProductFile is the uploaded-file record stored alongside a product
type ProductFile struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ProductID   uuid.UUID `db:"product_id" json:"product_id"`
	CategoryID  uuid.UUID `db:"category_id" json:"category_id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Type        string    `db:"type" json:"type"`
	Key         string    `db:"key" json:"key"`
	Size        int64     `db:"size" json:"size"`
	IsPurchased bool      `db:"is_purchased" json:"is_purchased"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order
type Order struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	OrderSubTotal  decimal.Decimal `db:"order_sub_total" json:"order_sub_total"`
	ShippingFee    decimal.Decimal `db:"shipping_fee" json:"shipping_fee"`
	ShippingMethod string          `db:"shipping_method" json:"shipping_method"`
	PaymentID      string          `db:"payment_id" json:"payment_id"`
	Status         OrderStatus     `db:"status" json:"status"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Lines          []OrderLine     `db:"-" json:"lines"`
}

// OrderLine links an order to one purchased product
type OrderLine struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
}

// OrderItem is a requested line item; only the product reference is trusted
type OrderItem struct {
	ProductID uuid.UUID `json:"product_id"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
