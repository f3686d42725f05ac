package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

// InventoryService is the inventory ledger. Quantity changes only through
// ReserveStock (checkout) and Restock (store staff).
type InventoryService struct {
	store  port.Store
	clock  port.Clock
	ids    port.IDGenerator
	logger *slog.Logger
}

func NewInventoryService(store port.Store, clock port.Clock, ids port.IDGenerator, logger *slog.Logger) *InventoryService {
	return &InventoryService{store: store, clock: clock, ids: ids, logger: logger}
}

// ReserveStock decrements stock with a single conditional update. repo must be the
// transaction-scoped repository of the operation it guards, so that a failure
// rolls that whole operation back.
func (s *InventoryService) ReserveStock(ctx context.Context, repo port.InventoryRepository, productID, storeID string, quantity int) error {
	if quantity < 1 {
		return domain.NewValidationError("quantity", "must be at least 1")
	}

	ok, err := repo.DecrementStock(ctx, productID, storeID, quantity, s.clock.Now())
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if !ok {
		return fmt.Errorf("product %s at store %s: %w", productID, storeID, domain.ErrInsufficientStock)
	}
	return nil
}

func (s *InventoryService) Restock(ctx context.Context, storeID, productID string, quantity int) (*domain.Inventory, error) {
	if err := required("store_id", storeID, "product_id", productID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, domain.NewValidationError("quantity", "must be at least 1")
	}

	var inv *domain.Inventory
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		if err := repo.IncrementStock(ctx, productID, storeID, quantity, s.clock.Now()); err != nil {
			return err
		}
		var err error
		inv, err = repo.GetInventory(ctx, productID, storeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("inventory restocked", "product_id", productID, "store_id", storeID, "added", quantity, "quantity", inv.Quantity)
	return inv, nil
}

func (s *InventoryService) CreateRecord(ctx context.Context, storeID, productID string, quantity int) (*domain.Inventory, error) {
	if err := required("store_id", storeID, "product_id", productID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, domain.NewValidationError("quantity", "must not be negative")
	}

	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	inv := domain.Inventory{
		ID:        s.ids.NewID(),
		ProductID: productID,
		StoreID:   storeID,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateInventory(ctx, inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// AddProduct registers a catalog entry. Stock is tracked separately per store
// through CreateRecord.
func (s *InventoryService) AddProduct(ctx context.Context, name string, price decimal.Decimal) (*domain.Product, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	if !price.IsPositive() {
		return nil, domain.NewValidationError("price", "must be positive")
	}
	// Prices are stored as DECIMAL(12,2).
	if !price.Equal(price.Round(2)) {
		return nil, domain.NewValidationError("price", "must have at most 2 decimal places")
	}

	now := s.clock.Now()
	p := domain.Product{
		ID:        s.ids.NewID(),
		Name:      name,
		Price:     price,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("product added", "product_id", p.ID, "name", name, "price", price.String())
	return &p, nil
}

func (s *InventoryService) Availability(ctx context.Context, productID string) ([]domain.Inventory, error) {
	if productID == "" {
		return nil, domain.NewValidationError("product_id", "is required")
	}
	return s.store.ListInventoryByProduct(ctx, productID)
}

// required takes name/value pairs and rejects the first empty value.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return domain.NewValidationError(pairs[i], "is required")
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
