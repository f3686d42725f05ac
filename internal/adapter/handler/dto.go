package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/core/service"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Quantity  int    `json:"quantity"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CheckoutHTTPRequest struct {
	DeliveryAddressID string `json:"delivery_address_id"`
}

type CreateInventoryRequest struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type AddProductRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type RegisterRiderRequest struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

type RiderStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type CartItemResponse struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	ID      string             `json:"id,omitempty"`
	UserID  string             `json:"user_id"`
	StoreID string             `json:"store_id,omitempty"`
	Items   []CartItemResponse `json:"items"`
	Total   decimal.Decimal    `json:"total"`
}

type OrderItemResponse struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

type OrderResponse struct {
	ID                string              `json:"id"`
	UserID            string              `json:"user_id"`
	StoreID           string              `json:"store_id"`
	DeliveryAddressID string              `json:"delivery_address_id"`
	Status            domain.OrderStatus  `json:"status"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	Items             []OrderItemResponse `json:"items,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

type AssignmentResponse struct {
	ID          string                  `json:"id"`
	OrderID     string                  `json:"order_id"`
	PartnerID   string                  `json:"partner_id"`
	Status      domain.AssignmentStatus `json:"status"`
	AssignedAt  time.Time               `json:"assigned_at"`
	DeliveredAt *time.Time              `json:"delivered_at,omitempty"`
}

type DispatchResponse struct {
	OrderID    string              `json:"order_id"`
	OffersSent int                 `json:"offers_sent"`
	RiderIDs   []string            `json:"rider_ids,omitempty"`
	Assignment *AssignmentResponse `json:"assignment,omitempty"`
}

type RiderResponse struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	IsActive    bool   `json:"is_active"`
	IsAvailable bool   `json:"is_available"`
}

type InventoryResponse struct {
	ProductID string    `json:"product_id"`
	StoreID   string    `json:"store_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProductResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	IsActive bool            `json:"is_active"`
}

func toCartResponse(c *domain.Cart) CartResponse {
	resp := CartResponse{
		ID:      c.ID,
		UserID:  c.UserID,
		StoreID: c.StoreID,
		Items:   make([]CartItemResponse, 0, len(c.Items)),
		Total:   c.Total,
	}
	for _, item := range c.Items {
		resp.Items = append(resp.Items, CartItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
		})
	}
	return resp
}

func toOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:                o.ID,
		UserID:            o.UserID,
		StoreID:           o.StoreID,
		DeliveryAddressID: o.DeliveryAddressID,
		Status:            o.Status,
		TotalAmount:       o.TotalAmount,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}
	return resp
}

func toOrderList(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	return out
}

func toAssignmentResponse(a *domain.DeliveryAssignment) *AssignmentResponse {
	if a == nil {
		return nil
	}
	return &AssignmentResponse{
		ID:          a.ID,
		OrderID:     a.OrderID,
		PartnerID:   a.PartnerID,
		Status:      a.Status,
		AssignedAt:  a.AssignedAt,
		DeliveredAt: a.DeliveredAt,
	}
}

func toDispatchResponse(res *service.DispatchResult) DispatchResponse {
	return DispatchResponse{
		OrderID:    res.OrderID,
		OffersSent: res.OffersSent,
		RiderIDs:   res.RiderIDs,
		Assignment: toAssignmentResponse(res.Assignment),
	}
}

func toRiderResponse(r *domain.DeliveryPartner) RiderResponse {
	return RiderResponse{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Name:        r.Name,
		IsActive:    r.IsActive,
		IsAvailable: r.IsAvailable,
	}
}

func toInventoryResponse(inv *domain.Inventory) InventoryResponse {
	return InventoryResponse{
		ProductID: inv.ProductID,
		StoreID:   inv.StoreID,
		Quantity:  inv.Quantity,
		UpdatedAt: inv.UpdatedAt,
	}
}

func toProductResponse(p *domain.Product) ProductResponse {
	return ProductResponse{ID: p.ID, Name: p.Name, Price: p.Price, IsActive: p.IsActive}
}
