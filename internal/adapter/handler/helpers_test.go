package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/quick-commerce/internal/adapter/notify"
	"github.com/rl1809/quick-commerce/internal/adapter/storage"
	"github.com/rl1809/quick-commerce/internal/adapter/system"
	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/core/service"
)

const testSecret = "test-secret"

type testServer struct {
	svc    Services
	auth   *Authenticator
	hub    *OfferHub
	pool   *notify.Pool
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := storage.Open(ctx, storage.DialectSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(ctx, db, storage.DialectSQLite))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewSQLAdapter(db)
	clock := system.Clock{}
	ids := system.UUIDGenerator{}

	hub := NewOfferHub(nil, logger)
	pool := notify.NewPool(hub, notify.Config{Workers: 1, QueueSize: 16, RatePerSec: 1000}, clock, logger)
	t.Cleanup(pool.Close)

	inventory := service.NewInventoryService(store, clock, ids, logger)
	dispatch := service.NewDispatchService(store, pool, clock, ids, logger, service.DispatchConfig{Fanout: 10, QueueSize: 16})
	t.Cleanup(dispatch.Close)

	ts := &testServer{
		svc: Services{
			Inventory: inventory,
			Carts:     service.NewCartService(store, clock, ids, logger),
			Checkout:  service.NewCheckoutService(store, inventory, nil, clock, ids, logger),
			Orders:    service.NewOrderService(store, dispatch, clock, logger),
			Dispatch:  dispatch,
		},
		auth: NewAuthenticator(testSecret),
		hub:  hub,
		pool: pool,
	}

	ts.server = httptest.NewServer(NewHTTPHandler(ts.svc, ts.auth, hub, logger).Routes())
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, auth domain.AuthContext) string {
	t.Helper()
	if auth.AccountID == "" {
		auth.AccountID = "acct-" + string(auth.Role)
	}
	token, err := ts.auth.Issue(auth, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends body as JSON and decodes the response into out when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	adminAuth = domain.AuthContext{Role: domain.RoleAdmin}
	storeAuth = domain.AuthContext{Role: domain.RoleStore, StoreID: "store-1"}
)

func userAuth(id string) domain.AuthContext {
	return domain.AuthContext{AccountID: "acct-" + id, Role: domain.RoleUser, UserID: id}
}

func riderAuth(partnerID string) domain.AuthContext {
	return domain.AuthContext{AccountID: "acct-" + partnerID, Role: domain.RoleRider, PartnerID: partnerID}
}

// readyOrder walks an order for user-1 at store-1 up to READY_FOR_PICKUP through
// the services.
func (ts *testServer) readyOrder(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	p, err := ts.svc.Inventory.AddProduct(ctx, "bread", mustDecimal("3"))
	require.NoError(t, err)
	_, err = ts.svc.Inventory.CreateRecord(ctx, "store-1", p.ID, 5)
	require.NoError(t, err)
	_, err = ts.svc.Carts.AddItem(ctx, "user-1", p.ID, "store-1", 1)
	require.NoError(t, err)
	order, err := ts.svc.Checkout.Checkout(ctx, service.CheckoutRequest{UserID: "user-1", DeliveryAddressID: "addr-1"})
	require.NoError(t, err)

	_, err = ts.svc.Orders.ConfirmPayment(ctx, order.ID)
	require.NoError(t, err)
	_, err = ts.svc.Orders.AcceptOrder(ctx, "store-1", order.ID)
	require.NoError(t, err)
	_, err = ts.svc.Orders.MarkReady(ctx, "store-1", order.ID)
	require.NoError(t, err)
	return order.ID
}

func (ts *testServer) activeRider(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	r, err := ts.svc.Dispatch.RegisterRider(ctx, "acct-"+name, name)
	require.NoError(t, err)
	_, err = ts.svc.Dispatch.SetRiderActive(ctx, r.ID, true)
	require.NoError(t, err)
	return r.ID
}
