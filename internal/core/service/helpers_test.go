package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/quick-commerce/internal/adapter/storage"
	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.prefix == "" {
		return fmt.Sprintf("id-%04d", g.n)
	}
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

type offer struct {
	riderID string
	orderID string
}

type recordingNotifier struct {
	mu     sync.Mutex
	offers []offer
}

func (n *recordingNotifier) NotifyRiderOffer(ctx context.Context, riderID, orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, offer{riderID: riderID, orderID: orderID})
}

func (n *recordingNotifier) Offers() []offer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]offer(nil), n.offers...)
}

type recordingTrigger struct {
	mu     sync.Mutex
	orders []string
	full   bool
}

func (r *recordingTrigger) Enqueue(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.orders = append(r.orders, orderID)
	return true
}

func (r *recordingTrigger) Orders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.orders...)
}

// mockCache is an in-memory IdempotencyCache.
type mockCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMockCache() *mockCache {
	return &mockCache{keys: make(map[string]bool)}
}

func (m *mockCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockCache) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *mockCache) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key]
}

type testEnv struct {
	store    port.Store
	clock    *fixedClock
	ids      *seqIDs
	notifier *recordingNotifier
	trigger  *recordingTrigger
	cache    *mockCache

	inventory *InventoryService
	carts     *CartService
	checkout  *CheckoutService
	orders    *OrderService
	dispatch  *DispatchService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(ctx, db, storage.DialectSQLite))

	return newTestEnvOn(t, storage.NewSQLAdapter(db), &seqIDs{})
}

// newMySQLTestEnv skips unless MySQL is reachable. IDs carry a random prefix so
// runs against a shared database do not collide.
func newMySQLTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/quickcommerce?parseTime=true"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := storage.Open(ctx, storage.DialectMySQL, dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db, storage.DialectMySQL))

	return newTestEnvOn(t, storage.NewSQLAdapter(db), &seqIDs{prefix: uuid.NewString()[:8]})
}

func newTestEnvOn(t *testing.T, store port.Store, ids *seqIDs) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:    store,
		clock:    newFixedClock(),
		ids:      ids,
		notifier: &recordingNotifier{},
		trigger:  &recordingTrigger{},
		cache:    newMockCache(),
	}
	env.inventory = NewInventoryService(env.store, env.clock, env.ids, logger)
	env.carts = NewCartService(env.store, env.clock, env.ids, logger)
	env.checkout = NewCheckoutService(env.store, env.inventory, env.cache, env.clock, env.ids, logger)
	env.orders = NewOrderService(env.store, env.trigger, env.clock, logger)
	env.dispatch = NewDispatchService(env.store, env.notifier, env.clock, env.ids, logger, DispatchConfig{Fanout: 10, QueueSize: 16})
	t.Cleanup(env.dispatch.Close)
	return env
}

func (e *testEnv) product(t *testing.T, price string) string {
	t.Helper()
	p, err := e.inventory.AddProduct(context.Background(), "product "+price, decimal.RequireFromString(price))
	require.NoError(t, err)
	return p.ID
}

func (e *testEnv) stock(t *testing.T, storeID, productID string, qty int) {
	t.Helper()
	_, err := e.inventory.CreateRecord(context.Background(), storeID, productID, qty)
	require.NoError(t, err)
}

func (e *testEnv) quantity(t *testing.T, storeID, productID string) int {
	t.Helper()
	inv, err := e.store.GetInventory(context.Background(), productID, storeID)
	require.NoError(t, err)
	return inv.Quantity
}

// rider registers a rider and puts it on duty.
func (e *testEnv) rider(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	r, err := e.dispatch.RegisterRider(ctx, "acct-"+name, name)
	require.NoError(t, err)
	_, err = e.dispatch.SetRiderActive(ctx, r.ID, true)
	require.NoError(t, err)
	return r.ID
}

// orderIn inserts an order directly in the given status.
func (e *testEnv) orderIn(t *testing.T, storeID string, status domain.OrderStatus) string {
	t.Helper()
	now := e.clock.Now()
	o := domain.Order{
		ID:                e.ids.NewID(),
		UserID:            "user-1",
		StoreID:           storeID,
		DeliveryAddressID: "addr-1",
		TotalAmount:       decimal.RequireFromString("10"),
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, e.store.CreateOrder(context.Background(), o))
	return o.ID
}

func (e *testEnv) orderStatus(t *testing.T, orderID string) domain.OrderStatus {
	t.Helper()
	o, err := e.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

func (e *testEnv) riderState(t *testing.T, riderID string) domain.DeliveryPartner {
	t.Helper()
	r, err := e.store.GetRider(context.Background(), riderID)
	require.NoError(t, err)
	return *r
}
