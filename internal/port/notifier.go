package port

import "context"

// Notifier delivers rider offers out of band. Implementations must not block the
// caller and must not report delivery failures back to it.
type Notifier interface {
	NotifyRiderOffer(ctx context.Context, riderID, orderID string)
}

// DispatchTrigger schedules an asynchronous dispatch for an order.
type DispatchTrigger interface {
	Enqueue(orderID string) bool
}
