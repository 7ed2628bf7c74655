package models

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:         {OrderStatusAwaitingPayment: true, OrderStatusCancelled: true},
	OrderStatusAwaitingPayment: {OrderStatusPaid: true, OrderStatusCancelled: true},
	OrderStatusPaid:            {OrderStatusShipped: true, OrderStatusCancelled: true},
	OrderStatusShipped:         {OrderStatusDelivered: true},
	OrderStatusDelivered:       {},
	OrderStatusCancelled:       {},
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no transition leaves s
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// CanTransition reports whether an order may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return from.Valid()
	}
	return validNext[from][to]
}
