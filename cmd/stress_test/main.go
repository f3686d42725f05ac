package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/quick-commerce/internal/adapter/notify"
	"github.com/rl1809/quick-commerce/internal/adapter/storage"
	"github.com/rl1809/quick-commerce/internal/adapter/system"
	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/core/service"
)

const (
	storeID       = "stress-store"
	initialStock  = 20
	totalBuyers   = 50
	totalRiders   = 25
	dispatchQueue = 100
)

type services struct {
	store     *storage.SQLAdapter
	inventory *service.InventoryService
	carts     *service.CartService
	checkout  *service.CheckoutService
	orders    *service.OrderService
	dispatch  *service.DispatchService
}

func main() {
	ctx := context.Background()

	driver := flag.String("driver", "sqlite", "database driver: sqlite or mysql")
	dsn := flag.String("dsn", "file:stress?mode=memory&cache=shared", "database DSN")
	flag.Parse()

	dialect, err := storage.ParseDialect(*driver)
	if err != nil {
		log.Fatalf("invalid driver: %v", err)
	}
	db, err := storage.Open(ctx, dialect, *dsn)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db, dialect); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewSQLAdapter(db)
	clock := system.Clock{}
	ids := system.UUIDGenerator{}

	var offers atomic.Int32
	pool := notify.NewPool(notify.SenderFunc(func(ctx context.Context, offer domain.RiderOffer) error {
		offers.Add(1)
		return nil
	}), notify.Config{Workers: 4, QueueSize: totalRiders * 2}, clock, logger)
	defer pool.Close()

	inventory := service.NewInventoryService(store, clock, ids, logger)
	dispatch := service.NewDispatchService(store, pool, clock, ids, logger, service.DispatchConfig{
		Fanout:    service.DefaultOfferFanout,
		QueueSize: dispatchQueue,
	})
	defer dispatch.Close()

	// Drain the dispatch queue in background; the race below dispatches directly.
	go func() {
		for range dispatch.Queue() {
		}
	}()

	svc := services{
		store:     store,
		inventory: inventory,
		carts:     service.NewCartService(store, clock, ids, logger),
		checkout:  service.NewCheckoutService(store, inventory, nil, clock, ids, logger),
		orders:    service.NewOrderService(store, dispatch, clock, logger),
		dispatch:  dispatch,
	}

	checkoutOK := checkoutRace(ctx, svc)
	acceptOK := acceptRace(ctx, svc, &offers)

	if checkoutOK && acceptOK {
		fmt.Println("ALL PASS")
	} else {
		fmt.Println("SOME CHECKS FAILED")
	}
}

// checkoutRace fills totalBuyers carts while stock is plentiful, cuts stock to
// initialStock and then checks out every cart at once.
func checkoutRace(ctx context.Context, svc services) bool {
	product, err := svc.inventory.AddProduct(ctx, fmt.Sprintf("stress-item-%d", time.Now().UnixNano()), decimal.NewFromInt(10))
	if err != nil {
		log.Fatalf("failed to add product: %v", err)
	}
	if _, err := svc.inventory.CreateRecord(ctx, storeID, product.ID, totalBuyers); err != nil {
		log.Fatalf("failed to create inventory: %v", err)
	}

	run := time.Now().UnixNano()
	for i := 0; i < totalBuyers; i++ {
		if _, err := svc.carts.AddItem(ctx, buyer(run, i), product.ID, storeID, 1); err != nil {
			log.Fatalf("failed to fill cart %d: %v", i, err)
		}
	}

	// Another channel sells everything but initialStock units.
	if ok, err := svc.store.DecrementStock(ctx, product.ID, storeID, totalBuyers-initialStock, time.Now()); err != nil || !ok {
		log.Fatalf("failed to cut stock: ok=%v err=%v", ok, err)
	}

	var successCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalBuyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.checkout.Checkout(ctx, service.CheckoutRequest{
				UserID:            buyer(run, i),
				DeliveryAddressID: "addr-1",
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== CHECKOUT RACE ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Buyers:     %d\n", totalBuyers)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===================================")

	ok := true
	if success == initialStock && fail == totalBuyers-initialStock {
		fmt.Printf("PASS: Exactly %d checkouts succeeded, %d failed\n", initialStock, totalBuyers-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalBuyers-initialStock, success, fail)
		ok = false
	}

	rows, err := svc.inventory.Availability(ctx, product.ID)
	if err != nil || len(rows) != 1 {
		log.Fatalf("failed to read stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", rows[0].Quantity)
	if rows[0].Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", rows[0].Quantity)
		ok = false
	}
	return ok
}

// acceptRace readies one order, offers it to the first DefaultOfferFanout riders
// and has all totalRiders accept at once.
func acceptRace(ctx context.Context, svc services, offers *atomic.Int32) bool {
	run := time.Now().UnixNano()
	product, err := svc.inventory.AddProduct(ctx, fmt.Sprintf("stress-dispatch-%d", run), decimal.NewFromInt(5))
	if err != nil {
		log.Fatalf("failed to add product: %v", err)
	}
	if _, err := svc.inventory.CreateRecord(ctx, storeID, product.ID, 1); err != nil {
		log.Fatalf("failed to create inventory: %v", err)
	}
	user := buyer(run, -1)
	if _, err := svc.carts.AddItem(ctx, user, product.ID, storeID, 1); err != nil {
		log.Fatalf("failed to fill cart: %v", err)
	}
	order, err := svc.checkout.Checkout(ctx, service.CheckoutRequest{UserID: user, DeliveryAddressID: "addr-1"})
	if err != nil {
		log.Fatalf("failed to check out: %v", err)
	}
	if _, err := svc.orders.ConfirmPayment(ctx, order.ID); err != nil {
		log.Fatalf("failed to pay: %v", err)
	}
	if _, err := svc.orders.AcceptOrder(ctx, storeID, order.ID); err != nil {
		log.Fatalf("failed to accept: %v", err)
	}
	if _, err := svc.orders.MarkReady(ctx, storeID, order.ID); err != nil {
		log.Fatalf("failed to mark ready: %v", err)
	}

	riders := make([]string, totalRiders)
	for i := range riders {
		r, err := svc.dispatch.RegisterRider(ctx, fmt.Sprintf("acct-%d-%d", run, i), fmt.Sprintf("rider-%d", i))
		if err != nil {
			log.Fatalf("failed to register rider: %v", err)
		}
		if _, err := svc.dispatch.SetRiderActive(ctx, r.ID, true); err != nil {
			log.Fatalf("failed to activate rider: %v", err)
		}
		riders[i] = r.ID
	}

	res, err := svc.dispatch.Dispatch(ctx, order.ID)
	if err != nil {
		log.Fatalf("failed to dispatch: %v", err)
	}

	var winners, losers atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for _, riderID := range riders {
		wg.Add(1)
		go func(riderID string) {
			defer wg.Done()
			if _, err := svc.dispatch.AcceptAssignment(ctx, order.ID, riderID); err == nil {
				winners.Add(1)
			} else {
				losers.Add(1)
			}
		}(riderID)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== ACCEPT RACE ============")
	fmt.Printf("Riders:           %d\n", totalRiders)
	fmt.Printf("Offers Queued:    %d\n", res.OffersSent)
	fmt.Printf("Offers Sent:      %d\n", offers.Load())
	fmt.Printf("Winners:          %d\n", winners.Load())
	fmt.Printf("Losers:           %d\n", losers.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===================================")

	ok := true
	if res.OffersSent <= service.DefaultOfferFanout {
		fmt.Printf("PASS: Offered to at most %d riders\n", service.DefaultOfferFanout)
	} else {
		fmt.Printf("FAIL: Expected at most %d offers, got %d\n", service.DefaultOfferFanout, res.OffersSent)
		ok = false
	}
	if winners.Load() == 1 && losers.Load() == totalRiders-1 {
		fmt.Println("PASS: Exactly one rider won the order")
	} else {
		fmt.Printf("FAIL: Expected 1 winner, got %d\n", winners.Load())
		ok = false
	}
	return ok
}

func buyer(run int64, i int) string {
	return fmt.Sprintf("stress-user-%d-%d", run, i)
}
