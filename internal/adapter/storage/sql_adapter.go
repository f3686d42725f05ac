package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/quick-commerce/internal/core/domain"
	"github.com/rl1809/quick-commerce/internal/port"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLAdapter implements port.Store on top of database/sql. The statements are
// portable between MySQL and SQLite apart from row locking; the schema differs
// per dialect.
type SQLAdapter struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
}

var _ port.Store = (*SQLAdapter)(nil)

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, q: db, dialect: dialectOf(db)}
}

func (m *SQLAdapter) WithinTx(ctx context.Context, fn func(repo port.Repository) error) error {
	if m.inTx {
		return fn(m)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLAdapter{db: m.db, q: tx, dialect: m.dialect, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ---- catalog ----

func (m *SQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Price, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product %s: %w", p.ID, port.ErrDuplicateKey)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := m.q.QueryRowContext(ctx, `
		SELECT id, name, price, is_active, created_at, updated_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// ---- inventory ----

func (m *SQLAdapter) CreateInventory(ctx context.Context, inv domain.Inventory) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO inventory (id, product_id, store_id, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ProductID, inv.StoreID, inv.Quantity, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrInventoryExists
		}
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetInventory(ctx context.Context, productID, storeID string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := m.q.QueryRowContext(ctx, `
		SELECT id, product_id, store_id, quantity, created_at, updated_at
		FROM inventory WHERE product_id = ? AND store_id = ?`, productID, storeID,
	).Scan(&inv.ID, &inv.ProductID, &inv.StoreID, &inv.Quantity, &inv.CreatedAt, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inventory %s@%s: %w", productID, storeID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &inv, nil
}

func (m *SQLAdapter) ListInventoryByProduct(ctx context.Context, productID string) ([]domain.Inventory, error) {
	rows, err := m.q.QueryContext(ctx, `
		SELECT id, product_id, store_id, quantity, created_at, updated_at
		FROM inventory WHERE product_id = ? ORDER BY store_id`, productID,
	)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var out []domain.Inventory
	for rows.Next() {
		var inv domain.Inventory
		if err := rows.Scan(&inv.ID, &inv.ProductID, &inv.StoreID, &inv.Quantity, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (m *SQLAdapter) DecrementStock(ctx context.Context, productID, storeID string, quantity int, now time.Time) (bool, error) {
	result, err := m.q.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - ?, updated_at = ?
		WHERE product_id = ? AND store_id = ? AND quantity >= ?`,
		quantity, now, productID, storeID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement inventory: %w", err)
	}
	return rows == 1, nil
}

func (m *SQLAdapter) IncrementStock(ctx context.Context, productID, storeID string, quantity int, now time.Time) error {
	result, err := m.q.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = quantity + ?, updated_at = ?
		WHERE product_id = ? AND store_id = ?`,
		quantity, now, productID, storeID,
	)
	if err != nil {
		return fmt.Errorf("increment inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment inventory: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("inventory %s@%s: %w", productID, storeID, domain.ErrNotFound)
	}
	return nil
}

// ---- carts ----

func (m *SQLAdapter) CreateCart(ctx context.Context, c domain.Cart) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, store_id, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, nullString(c.StoreID), c.Total, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("cart for user %s: %w", c.UserID, port.ErrDuplicateKey)
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// LockCart holds the user's cart row until the transaction ends. Run it before
// any other read in the transaction: on MySQL the snapshot used by later plain
// reads is taken at the first one, after the lock is granted.
func (m *SQLAdapter) LockCart(ctx context.Context, userID string) error {
	if m.dialect == DialectMySQL {
		var id string
		err := m.q.QueryRowContext(ctx, `
			SELECT id FROM carts WHERE user_id = ? FOR UPDATE`, userID,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cart for user %s: %w", userID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		return nil
	}

	// SQLite has no FOR UPDATE; any write takes the database write lock.
	result, err := m.q.ExecContext(ctx, `
		UPDATE carts SET updated_at = updated_at WHERE user_id = ?`, userID,
	)
	if err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("cart for user %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

func (m *SQLAdapter) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	var (
		c       domain.Cart
		storeID sql.NullString
	)
	err := m.q.QueryRowContext(ctx, `
		SELECT id, user_id, store_id, total, created_at, updated_at
		FROM carts WHERE user_id = ?`, userID,
	).Scan(&c.ID, &c.UserID, &storeID, &c.Total, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart for user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	c.StoreID = storeID.String

	rows, err := m.q.QueryContext(ctx, `
		SELECT id, cart_id, product_id, quantity, unit_price, created_at
		FROM cart_items WHERE cart_id = ? ORDER BY created_at, id`, c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	return &c, nil
}

func (m *SQLAdapter) UpdateCart(ctx context.Context, cartID, storeID string, total decimal.Decimal, now time.Time) error {
	_, err := m.q.ExecContext(ctx, `
		UPDATE carts SET store_id = ?, total = ?, updated_at = ? WHERE id = ?`,
		nullString(storeID), total, now, cartID,
	)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	return nil
}

func (m *SQLAdapter) InsertCartItem(ctx context.Context, item domain.CartItem) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.CartID, item.ProductID, item.Quantity, item.UnitPrice, item.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("cart item %s: %w", item.ProductID, port.ErrDuplicateKey)
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (m *SQLAdapter) SetCartItemQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	_, err := m.q.ExecContext(ctx, `
		UPDATE cart_items SET quantity = ? WHERE cart_id = ? AND product_id = ?`,
		quantity, cartID, productID,
	)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return nil
}

func (m *SQLAdapter) DeleteCartItem(ctx context.Context, cartID, productID string) error {
	_, err := m.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (m *SQLAdapter) DeleteCartItems(ctx context.Context, cartID string) error {
	_, err := m.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID)
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}

// ---- orders ----

func (m *SQLAdapter) CreateOrder(ctx context.Context, o domain.Order) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, store_id, delivery_address_id, total_amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.StoreID, o.DeliveryAddressID, o.TotalAmount, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = m.q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price_at_purchase)
			VALUES (?, ?, ?, ?, ?)`,
			item.ID, o.ID, item.ProductID, item.Quantity, item.PriceAtPurchase,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, user_id, store_id, delivery_address_id, total_amount, status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.StoreID, &o.DeliveryAddressID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (m *SQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(m.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := m.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price_at_purchase
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.PriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	return &o, nil
}

func (m *SQLAdapter) ListOrdersByStatus(ctx context.Context, storeID string, status domain.OrderStatus) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = ?`
	args := []any{string(status)}
	if storeID != "" {
		query += ` AND store_id = ?`
		args = append(args, storeID)
	}
	query += ` ORDER BY created_at DESC, id`

	return m.queryOrders(ctx, query, args...)
}

func (m *SQLAdapter) ListUnassignedOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return m.queryOrders(ctx, `
		SELECT o.id, o.user_id, o.store_id, o.delivery_address_id, o.total_amount, o.status, o.created_at, o.updated_at
		FROM orders o
		LEFT JOIN delivery_assignments a ON a.order_id = o.id
		WHERE o.status = ? AND a.id IS NULL
		ORDER BY o.created_at, o.id`, string(status),
	)
}

func (m *SQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := m.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (m *SQLAdapter) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, now time.Time) (bool, error) {
	result, err := m.q.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), now, orderID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return rows == 1, nil
}

// ---- riders ----

func (m *SQLAdapter) CreateRider(ctx context.Context, r domain.DeliveryPartner) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO delivery_partners (id, account_id, name, is_active, is_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.Name, r.IsActive, r.IsAvailable, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rider %s: %w", r.ID, port.ErrDuplicateKey)
		}
		return fmt.Errorf("insert rider: %w", err)
	}
	return nil
}

const riderColumns = `id, account_id, name, is_active, is_available, created_at, updated_at`

func scanRider(row interface{ Scan(...any) error }) (domain.DeliveryPartner, error) {
	var r domain.DeliveryPartner
	err := row.Scan(&r.ID, &r.AccountID, &r.Name, &r.IsActive, &r.IsAvailable, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (m *SQLAdapter) GetRider(ctx context.Context, riderID string) (*domain.DeliveryPartner, error) {
	r, err := scanRider(m.q.QueryRowContext(ctx, `SELECT `+riderColumns+` FROM delivery_partners WHERE id = ?`, riderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rider %s: %w", riderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query rider: %w", err)
	}
	return &r, nil
}

// ListEligibleRiders returns on-duty, idle riders, longest idle first.
func (m *SQLAdapter) ListEligibleRiders(ctx context.Context, limit int) ([]domain.DeliveryPartner, error) {
	rows, err := m.q.QueryContext(ctx, `
		SELECT `+riderColumns+`
		FROM delivery_partners
		WHERE is_active = ? AND is_available = ?
		ORDER BY updated_at, id
		LIMIT ?`, true, true, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query riders: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryPartner
	for rows.Next() {
		r, err := scanRider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rider: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m *SQLAdapter) SetRiderActive(ctx context.Context, riderID string, active bool, now time.Time) error {
	result, err := m.q.ExecContext(ctx, `
		UPDATE delivery_partners SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, now, riderID,
	)
	if err != nil {
		return fmt.Errorf("update rider: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rider: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rider %s: %w", riderID, domain.ErrNotFound)
	}
	return nil
}

func (m *SQLAdapter) SetRiderAvailability(ctx context.Context, riderID string, available bool, now time.Time) (bool, error) {
	result, err := m.q.ExecContext(ctx, `
		UPDATE delivery_partners SET is_available = ?, updated_at = ?
		WHERE id = ? AND is_available = ?`,
		available, now, riderID, !available,
	)
	if err != nil {
		return false, fmt.Errorf("update rider availability: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update rider availability: %w", err)
	}
	return rows == 1, nil
}

// ---- assignments ----

func (m *SQLAdapter) CreateAssignment(ctx context.Context, a domain.DeliveryAssignment) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO delivery_assignments (id, order_id, partner_id, status, assigned_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrderID, a.PartnerID, string(a.Status), a.AssignedAt, nullTime(a.DeliveredAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyAssigned
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

const assignmentColumns = `id, order_id, partner_id, status, assigned_at, delivered_at`

func scanAssignment(row interface{ Scan(...any) error }) (domain.DeliveryAssignment, error) {
	var (
		a           domain.DeliveryAssignment
		deliveredAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.OrderID, &a.PartnerID, &a.Status, &a.AssignedAt, &deliveredAt)
	if deliveredAt.Valid {
		t := deliveredAt.Time
		a.DeliveredAt = &t
	}
	return a, err
}

func (m *SQLAdapter) getAssignment(ctx context.Context, label, where string, arg any) (*domain.DeliveryAssignment, error) {
	a, err := scanAssignment(m.q.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM delivery_assignments WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment %s: %w", label, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	return &a, nil
}

func (m *SQLAdapter) GetAssignment(ctx context.Context, assignmentID string) (*domain.DeliveryAssignment, error) {
	return m.getAssignment(ctx, assignmentID, `id = ?`, assignmentID)
}

func (m *SQLAdapter) GetAssignmentByOrder(ctx context.Context, orderID string) (*domain.DeliveryAssignment, error) {
	return m.getAssignment(ctx, "for order "+orderID, `order_id = ?`, orderID)
}

func (m *SQLAdapter) GetActiveAssignmentByRider(ctx context.Context, riderID string) (*domain.DeliveryAssignment, error) {
	a, err := scanAssignment(m.q.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM delivery_assignments
		WHERE partner_id = ? AND status = ?
		ORDER BY assigned_at DESC LIMIT 1`, riderID, string(domain.AssignmentStatusAssigned),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active assignment for rider %s: %w", riderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	return &a, nil
}

func (m *SQLAdapter) MarkAssignmentDelivered(ctx context.Context, assignmentID string, deliveredAt time.Time) (bool, error) {
	result, err := m.q.ExecContext(ctx, `
		UPDATE delivery_assignments SET status = ?, delivered_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.AssignmentStatusDelivered), deliveredAt, assignmentID, string(domain.AssignmentStatusAssigned),
	)
	if err != nil {
		return false, fmt.Errorf("update assignment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update assignment: %w", err)
	}
	return rows == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
