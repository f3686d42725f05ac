package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/core/service"
)

const maxBodyBytes = 1 << 20

// Services groups the core services the transport adapters call into.
type Services struct {
	Inventory *service.InventoryService
	Carts     *service.CartService
	Checkout  *service.CheckoutService
	Orders    *service.OrderService
	Dispatch  *service.DispatchService
}

type HTTPHandler struct {
	svc    Services
	auth   *Authenticator
	hub    *OfferHub
	logger *slog.Logger
}

func NewHTTPHandler(svc Services, auth *Authenticator, hub *OfferHub, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, auth: auth, hub: hub, logger: logger}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		if h.hub != nil {
			r.With(RequireRole(domain.RoleRider)).Get("/ws/rider/offers", h.hub.ServeRider)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
					next.ServeHTTP(w, r)
				})
			})

			r.Get("/orders/{orderID}", h.GetOrder)
			r.Get("/products/{productID}/inventory", h.ProductInventory)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(domain.RoleUser))
				r.Get("/cart", h.ViewCart)
				r.Delete("/cart", h.ClearCart)
				r.Post("/cart/items", h.AddCartItem)
				r.Put("/cart/items/{productID}", h.UpdateCartItem)
				r.Delete("/cart/items/{productID}", h.RemoveCartItem)
				r.Post("/checkout", h.Checkout)
			})

			r.Route("/store", func(r chi.Router) {
				r.Use(RequireRole(domain.RoleStore, domain.RoleAdmin))
				r.Get("/orders/incoming", h.IncomingOrders)
				r.Post("/orders/{orderID}/accept", h.AcceptOrder)
				r.Post("/orders/{orderID}/ready", h.MarkReady)
				r.Post("/inventory", h.CreateInventory)
				r.Post("/inventory/{productID}/restock", h.Restock)
			})

			r.Route("/rider", func(r chi.Router) {
				r.Use(RequireRole(domain.RoleRider))
				r.Patch("/status", h.SetRiderStatus)
				r.Get("/orders/available", h.AvailableOrders)
				r.Post("/orders/{orderID}/accept", h.AcceptAssignment)
				r.Get("/assignment", h.ActiveAssignment)
				r.Post("/assignments/{assignmentID}/complete", h.CompleteDelivery)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(domain.RoleAdmin))
				r.Post("/products", h.AddProduct)
				r.Post("/riders", h.RegisterRider)
				r.Patch("/riders/{riderID}/status", h.SetRiderStatusAdmin)
				r.Post("/orders/{orderID}/payment", h.ConfirmPayment)
				r.Post("/orders/{orderID}/dispatch", h.Dispatch)
			})
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- cart ----

func (h *HTTPHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	cart, err := h.svc.Carts.View(r.Context(), auth.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	auth, _ := AuthFrom(r.Context())
	cart, err := h.svc.Carts.AddItem(r.Context(), auth.UserID, req.ProductID, req.StoreID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if !h.decode(w, r, &req) {
		return
	}

	auth, _ := AuthFrom(r.Context())
	cart, err := h.svc.Carts.UpdateItem(r.Context(), auth.UserID, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	cart, err := h.svc.Carts.RemoveItem(r.Context(), auth.UserID, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	cart, err := h.svc.Carts.Clear(r.Context(), auth.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	auth, _ := AuthFrom(r.Context())
	order, err := h.svc.Checkout.Checkout(r.Context(), service.CheckoutRequest{
		UserID:            auth.UserID,
		DeliveryAddressID: req.DeliveryAddressID,
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// ---- orders ----

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	order, err := h.svc.Orders.Get(r.Context(), auth, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.ConfirmPayment(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ---- store ----

// storeScope is the caller's own store, or for admins an optional store_id query
// parameter. An empty scope skips ownership checks.
func storeScope(r *http.Request) string {
	auth, _ := AuthFrom(r.Context())
	if auth.Role == domain.RoleStore {
		return auth.StoreID
	}
	return r.URL.Query().Get("store_id")
}

func (h *HTTPHandler) IncomingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders.Incoming(r.Context(), storeScope(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *HTTPHandler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.AcceptOrder(r.Context(), storeScope(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.MarkReady(r.Context(), storeScope(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) CreateInventory(w http.ResponseWriter, r *http.Request) {
	var req CreateInventoryRequest
	if !h.decode(w, r, &req) {
		return
	}

	storeID := storeScope(r)
	if storeID == "" {
		storeID = req.StoreID
	}
	inv, err := h.svc.Inventory.CreateRecord(r.Context(), storeID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryResponse(inv))
}

func (h *HTTPHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.svc.Inventory.Restock(r.Context(), storeScope(r), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

func (h *HTTPHandler) ProductInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Inventory.Availability(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]InventoryResponse, 0, len(rows))
	for i := range rows {
		out = append(out, toInventoryResponse(&rows[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- rider ----

func (h *HTTPHandler) SetRiderStatus(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	h.setRiderActive(w, r, auth.PartnerID)
}

func (h *HTTPHandler) setRiderActive(w http.ResponseWriter, r *http.Request, riderID string) {
	var req RiderStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		h.writeError(w, r, domain.NewValidationError("is_active", "is required"))
		return
	}

	rider, err := h.svc.Dispatch.SetRiderActive(r.Context(), riderID, *req.IsActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRiderResponse(rider))
}

func (h *HTTPHandler) AvailableOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Dispatch.AvailableOrders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *HTTPHandler) AcceptAssignment(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	a, err := h.svc.Dispatch.AcceptAssignment(r.Context(), chi.URLParam(r, "orderID"), auth.PartnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

func (h *HTTPHandler) ActiveAssignment(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	a, err := h.svc.Dispatch.ActiveAssignment(r.Context(), auth.PartnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

func (h *HTTPHandler) CompleteDelivery(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFrom(r.Context())
	a, err := h.svc.Dispatch.CompleteDelivery(r.Context(), chi.URLParam(r, "assignmentID"), auth.PartnerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// ---- admin ----

func (h *HTTPHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.svc.Inventory.AddProduct(r.Context(), req.Name, req.Price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *HTTPHandler) RegisterRider(w http.ResponseWriter, r *http.Request) {
	var req RegisterRiderRequest
	if !h.decode(w, r, &req) {
		return
	}

	rider, err := h.svc.Dispatch.RegisterRider(r.Context(), req.AccountID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRiderResponse(rider))
}

// SetRiderStatusAdmin toggles any rider's duty flag. Availability is left alone.
func (h *HTTPHandler) SetRiderStatusAdmin(w http.ResponseWriter, r *http.Request) {
	h.setRiderActive(w, r, chi.URLParam(r, "riderID"))
}

func (h *HTTPHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Dispatch.Dispatch(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDispatchResponse(res))
}

// ---- helpers ----

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: domain.KindValidation.String()})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := httpStatus(kind)

	message := err.Error()
	if kind == domain.KindInternal {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind.String()})
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
