package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/quick-commerce/internal/core/domain"
)

// ErrDuplicateKey is returned for unique-constraint violations that have no
// more specific domain meaning.
var ErrDuplicateKey = errors.New("duplicate key")

// Lookups return domain.ErrNotFound (wrapped) when the row does not exist.

type CatalogRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

type InventoryRepository interface {
	// CreateInventory returns domain.ErrInventoryExists for a duplicate (product, store).
	CreateInventory(ctx context.Context, inv domain.Inventory) error
	GetInventory(ctx context.Context, productID, storeID string) (*domain.Inventory, error)
	ListInventoryByProduct(ctx context.Context, productID string) ([]domain.Inventory, error)

	// DecrementStock subtracts quantity only while stock >= quantity, in one statement.
	// It reports false when the condition did not hold.
	DecrementStock(ctx context.Context, productID, storeID string, quantity int, now time.Time) (bool, error)

	// IncrementStock adds quantity to an existing row.
	IncrementStock(ctx context.Context, productID, storeID string, quantity int, now time.Time) error
}

type CartRepository interface {
	// CreateCart fails with ErrDuplicateKey if the user already owns a cart.
	CreateCart(ctx context.Context, cart domain.Cart) error
	// LockCart holds the user's cart row until the transaction ends, or returns
	// domain.ErrNotFound when the user has no cart. It must be the first
	// statement of the transaction.
	LockCart(ctx context.Context, userID string) error
	GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error)
	UpdateCart(ctx context.Context, cartID, storeID string, total decimal.Decimal, now time.Time) error

	InsertCartItem(ctx context.Context, item domain.CartItem) error
	SetCartItemQuantity(ctx context.Context, cartID, productID string, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, productID string) error
	DeleteCartItems(ctx context.Context, cartID string) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, storeID string, status domain.OrderStatus) ([]domain.Order, error)
	ListUnassignedOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrderStatus moves the order only if it is currently in from. It reports
	// false when no row matched (id, from).
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) (bool, error)
}

type RiderRepository interface {
	CreateRider(ctx context.Context, rider domain.DeliveryPartner) error
	GetRider(ctx context.Context, riderID string) (*domain.DeliveryPartner, error)
	ListEligibleRiders(ctx context.Context, limit int) ([]domain.DeliveryPartner, error)
	SetRiderActive(ctx context.Context, riderID string, active bool, now time.Time) error

	// SetRiderAvailability flips is_available from !available to available and reports
	// false if the rider was not in the expected state.
	SetRiderAvailability(ctx context.Context, riderID string, available bool, now time.Time) (bool, error)
}

type AssignmentRepository interface {
	// CreateAssignment relies on the unique order_id constraint and returns
	// domain.ErrOrderAlreadyAssigned when it is violated.
	CreateAssignment(ctx context.Context, a domain.DeliveryAssignment) error
	GetAssignment(ctx context.Context, assignmentID string) (*domain.DeliveryAssignment, error)
	GetAssignmentByOrder(ctx context.Context, orderID string) (*domain.DeliveryAssignment, error)
	GetActiveAssignmentByRider(ctx context.Context, riderID string) (*domain.DeliveryAssignment, error)

	// MarkAssignmentDelivered moves ASSIGNED to DELIVERED and reports false otherwise.
	MarkAssignmentDelivered(ctx context.Context, assignmentID string, deliveredAt time.Time) (bool, error)
}

type Repository interface {
	CatalogRepository
	InventoryRepository
	CartRepository
	OrderRepository
	RiderRepository
	AssignmentRepository
}

type Transactor interface {
	// WithinTx runs fn in one database transaction. A non-nil error from fn rolls
	// everything back; the error is returned unchanged.
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}

type Store interface {
	Repository
	Transactor
}
