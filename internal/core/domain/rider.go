package domain

import "time"

// DeliveryPartner is a rider. IsActive is the on-duty toggle; IsAvailable is owned
// by the assignment and completion transactions only.
type DeliveryPartner struct {
	ID          string
	AccountID   string
	Name        string
	IsActive    bool
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p DeliveryPartner) Eligible() bool {
	return p.IsActive && p.IsAvailable
}

type AssignmentStatus string

const (
	AssignmentStatusAssigned  AssignmentStatus = "ASSIGNED"
	AssignmentStatusDelivered AssignmentStatus = "DELIVERED"
)

// DeliveryAssignment binds exactly one rider to one order. OrderID is unique in storage.
type DeliveryAssignment struct {
	ID          string
	OrderID     string
	PartnerID   string
	Status      AssignmentStatus
	AssignedAt  time.Time
	DeliveredAt *time.Time
}

// RiderOffer is an advisory, non-transactional invitation to accept an order.
type RiderOffer struct {
	RiderID   string    `json:"rider_id"`
	OrderID   string    `json:"order_id"`
	OfferedAt time.Time `json:"offered_at"`
}
