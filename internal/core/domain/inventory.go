package domain

import "time"

// Inventory is the stock counter for one product in one store.
type Inventory struct {
	ID        string
	ProductID string
	StoreID   string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}
