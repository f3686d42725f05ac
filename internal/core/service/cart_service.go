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

// CartService maintains the per-user basket. Every mutation runs in one
// transaction and ends by recomputing the cart total from its lines.
type CartService struct {
	store  port.Store
	clock  port.Clock
	ids    port.IDGenerator
	logger *slog.Logger
}

func NewCartService(store port.Store, clock port.Clock, ids port.IDGenerator, logger *slog.Logger) *CartService {
	return &CartService{store: store, clock: clock, ids: ids, logger: logger}
}

func (s *CartService) AddItem(ctx context.Context, userID, productID, storeID string, quantity int) (*domain.Cart, error) {
	if err := required("user_id", userID, "product_id", productID, "store_id", storeID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, domain.NewValidationError("quantity", "must be at least 1")
	}

	if err := s.ensureCart(ctx, userID); err != nil {
		return nil, err
	}

	var out *domain.Cart
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		cart, err := lockCart(ctx, repo, userID)
		if err != nil {
			return err
		}

		product, err := repo.GetProduct(ctx, productID)
		if isNotFound(err) {
			return fmt.Errorf("product %s: %w", productID, domain.ErrProductUnavailable)
		}
		if err != nil {
			return err
		}
		if !product.IsActive {
			return fmt.Errorf("product %s: %w", productID, domain.ErrProductUnavailable)
		}
		if cart.StoreID != "" && cart.StoreID != storeID {
			return fmt.Errorf("cart bound to store %s: %w", cart.StoreID, domain.ErrCrossStoreConflict)
		}

		existing, found := cart.Item(productID)
		if err := checkStock(ctx, repo, productID, storeID, existing.Quantity+quantity); err != nil {
			return err
		}

		if found {
			err = repo.SetCartItemQuantity(ctx, cart.ID, productID, existing.Quantity+quantity)
		} else {
			err = repo.InsertCartItem(ctx, domain.CartItem{
				ID:        s.ids.NewID(),
				CartID:    cart.ID,
				ProductID: productID,
				Quantity:  quantity,
				UnitPrice: product.Price,
				CreatedAt: s.clock.Now(),
			})
		}
		if err != nil {
			return err
		}

		out, err = s.recalculate(ctx, repo, userID, storeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartService) View(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}

	cart, err := s.store.GetCartByUser(ctx, userID)
	if isNotFound(err) {
		return &domain.Cart{UserID: userID, Total: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) UpdateItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if err := required("user_id", userID, "product_id", productID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, domain.NewValidationError("quantity", "must be at least 1")
	}

	var out *domain.Cart
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		cart, err := lockCart(ctx, repo, userID)
		if err != nil {
			return err
		}
		if _, ok := cart.Item(productID); !ok {
			return fmt.Errorf("cart item %s: %w", productID, domain.ErrNotFound)
		}
		if err := checkStock(ctx, repo, productID, cart.StoreID, quantity); err != nil {
			return err
		}
		if err := repo.SetCartItemQuantity(ctx, cart.ID, productID, quantity); err != nil {
			return err
		}

		out, err = s.recalculate(ctx, repo, userID, cart.StoreID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	if err := required("user_id", userID, "product_id", productID); err != nil {
		return nil, err
	}

	var out *domain.Cart
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		cart, err := lockCart(ctx, repo, userID)
		if err != nil {
			return err
		}
		if _, ok := cart.Item(productID); !ok {
			return fmt.Errorf("cart item %s: %w", productID, domain.ErrNotFound)
		}
		if err := repo.DeleteCartItem(ctx, cart.ID, productID); err != nil {
			return err
		}

		out, err = s.recalculate(ctx, repo, userID, cart.StoreID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartService) Clear(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}

	var out *domain.Cart
	err := s.store.WithinTx(ctx, func(repo port.Repository) error {
		cart, err := lockCart(ctx, repo, userID)
		if isNotFound(err) {
			out = &domain.Cart{UserID: userID, Total: decimal.Zero}
			return nil
		}
		if err != nil {
			return err
		}
		if err := repo.DeleteCartItems(ctx, cart.ID); err != nil {
			return err
		}

		out, err = s.recalculate(ctx, repo, userID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensureCart creates the user's cart outside the mutating transaction so that
// the transaction always starts by locking an existing row.
func (s *CartService) ensureCart(ctx context.Context, userID string) error {
	_, err := s.store.GetCartByUser(ctx, userID)
	if err == nil || !isNotFound(err) {
		return err
	}

	now := s.clock.Now()
	err = s.store.CreateCart(ctx, domain.Cart{
		ID:        s.ids.NewID(),
		UserID:    userID,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, port.ErrDuplicateKey) {
		// A concurrent request created it first.
		return nil
	}
	return err
}

// lockCart serializes every writer of the user's cart, checkout included, and
// returns the lines as committed by the previous holder.
func lockCart(ctx context.Context, repo port.CartRepository, userID string) (*domain.Cart, error) {
	if err := repo.LockCart(ctx, userID); err != nil {
		return nil, err
	}
	return repo.GetCartByUser(ctx, userID)
}

// recalculate reloads the cart, derives its total and releases the store binding
// once the cart is empty.
func (s *CartService) recalculate(ctx context.Context, repo port.Repository, userID, storeID string) (*domain.Cart, error) {
	cart, err := repo.GetCartByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		storeID = ""
	}

	cart.StoreID = storeID
	cart.Total = cart.ComputeTotal()
	cart.UpdatedAt = s.clock.Now()

	if err := repo.UpdateCart(ctx, cart.ID, cart.StoreID, cart.Total, cart.UpdatedAt); err != nil {
		return nil, err
	}
	return cart, nil
}

func checkStock(ctx context.Context, repo port.InventoryRepository, productID, storeID string, want int) error {
	inv, err := repo.GetInventory(ctx, productID, storeID)
	if isNotFound(err) {
		return fmt.Errorf("product %s at store %s: %w", productID, storeID, domain.ErrInsufficientStock)
	}
	if err != nil {
		return err
	}
	if inv.Quantity < want {
		return fmt.Errorf("product %s at store %s: want %d, have %d: %w", productID, storeID, want, inv.Quantity, domain.ErrInsufficientStock)
	}
	return nil
}
