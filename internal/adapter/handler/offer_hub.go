package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rl1809/quick-commerce/internal/core/domain"
)

const wsWriteTimeout = 5 * time.Second

// OfferSource streams offers published elsewhere, e.g. by another instance over
// Redis pub/sub.
type OfferSource interface {
	SubscribeOffers(ctx context.Context, riderID string) (<-chan domain.RiderOffer, error)
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// OfferHub pushes rider offers to connected rider websockets. Without a source it
// is itself a notify.Sender; with one, each connection forwards its rider's
// subscription.
type OfferHub struct {
	upgrader websocket.Upgrader
	source   OfferSource
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
}

func NewOfferHub(source OfferSource, logger *slog.Logger) *OfferHub {
	return &OfferHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		source:  source,
		logger:  logger,
		clients: make(map[string]map[*wsClient]struct{}),
	}
}

// Send writes offer to every connection of its rider. Riders that are not
// connected miss the offer.
func (h *OfferHub) Send(ctx context.Context, offer domain.RiderOffer) error {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients[offer.RiderID]))
	for c := range h.clients[offer.RiderID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(offer); err != nil {
			h.logger.Debug("offer write failed", "rider_id", offer.RiderID, "error", err)
			h.remove(offer.RiderID, c)
			c.conn.Close()
		}
	}
	return nil
}

func (h *OfferHub) Connected(riderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[riderID])
}

// ServeRider upgrades the request and keeps the connection registered until the
// client goes away. Requires an authenticated rider.
func (h *OfferHub) ServeRider(w http.ResponseWriter, r *http.Request) {
	auth, ok := AuthFrom(r.Context())
	if !ok || auth.Role != domain.RoleRider || auth.PartnerID == "" {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}
	riderID := auth.PartnerID

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	h.add(riderID, client)
	defer h.remove(riderID, client)
	h.logger.Debug("rider connected", "rider_id", riderID)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if h.source != nil {
		offers, err := h.source.SubscribeOffers(ctx, riderID)
		if err != nil {
			h.logger.Error("subscribe offers", "rider_id", riderID, "error", err)
			return
		}
		go func() {
			for offer := range offers {
				if err := client.write(offer); err != nil {
					cancel()
					conn.Close()
					return
				}
			}
		}()
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("rider disconnected", "rider_id", riderID)
			return
		}
	}
}

func (h *OfferHub) add(riderID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[riderID] == nil {
		h.clients[riderID] = make(map[*wsClient]struct{})
	}
	h.clients[riderID][c] = struct{}{}
}

func (h *OfferHub) remove(riderID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[riderID], c)
	if len(h.clients[riderID]) == 0 {
		delete(h.clients, riderID)
	}
}
