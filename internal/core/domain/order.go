package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// AllowedTransitions is the forward-only order lifecycle. Terminal states have no entry.
var AllowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:        {OrderStatusPaid},
	OrderStatusPaid:           {OrderStatusPreparing},
	OrderStatusPreparing:      {OrderStatusReadyForPickup},
	OrderStatusReadyForPickup: {OrderStatusOutForDelivery},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
}

// DispatchEligibleStatus is the only state in which riders may be offered or bound to an order.
const DispatchEligibleStatus = OrderStatusReadyForPickup

func CanTransition(from, to OrderStatus) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusPreparing, OrderStatusReadyForPickup,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID                string
	UserID            string
	StoreID           string
	DeliveryAddressID string
	TotalAmount       decimal.Decimal
	Status            OrderStatus
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem freezes the price the customer saw in the cart.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	Quantity        int
	PriceAtPurchase decimal.Decimal
}
