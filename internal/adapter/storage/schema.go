package storage

var schema = map[Dialect][]string{
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			id VARCHAR(36) PRIMARY KEY,
			product_id VARCHAR(36) NOT NULL,
			store_id VARCHAR(36) NOT NULL,
			quantity INT NOT NULL CHECK (quantity >= 0),
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_inventory_product_store (product_id, store_id)
		)`,
		`CREATE TABLE IF NOT EXISTS carts (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL,
			store_id VARCHAR(36) NULL,
			total DECIMAL(12,2) NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_carts_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id VARCHAR(36) PRIMARY KEY,
			cart_id VARCHAR(36) NOT NULL,
			product_id VARCHAR(36) NOT NULL,
			quantity INT NOT NULL CHECK (quantity >= 1),
			unit_price DECIMAL(12,2) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_cart_items_cart_product (cart_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL,
			store_id VARCHAR(36) NOT NULL,
			delivery_address_id VARCHAR(36) NOT NULL,
			total_amount DECIMAL(12,2) NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			KEY idx_orders_store_status (store_id, status),
			KEY idx_orders_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id VARCHAR(36) PRIMARY KEY,
			order_id VARCHAR(36) NOT NULL,
			product_id VARCHAR(36) NOT NULL,
			quantity INT NOT NULL,
			price_at_purchase DECIMAL(12,2) NOT NULL,
			KEY idx_order_items_order (order_id)
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_partners (
			id VARCHAR(36) PRIMARY KEY,
			account_id VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_delivery_partners_account (account_id),
			KEY idx_delivery_partners_eligible (is_active, is_available)
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_assignments (
			id VARCHAR(36) PRIMARY KEY,
			order_id VARCHAR(36) NOT NULL,
			partner_id VARCHAR(36) NOT NULL,
			status VARCHAR(32) NOT NULL,
			assigned_at DATETIME(6) NOT NULL,
			delivered_at DATETIME(6) NULL,
			UNIQUE KEY uq_delivery_assignments_order (order_id),
			KEY idx_delivery_assignments_partner (partner_id, status)
		)`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			store_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (product_id, store_id)
		)`,
		`CREATE TABLE IF NOT EXISTS carts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			store_id TEXT NULL,
			total TEXT NOT NULL DEFAULT '0',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			id TEXT PRIMARY KEY,
			cart_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 1),
			unit_price TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (cart_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			store_id TEXT NOT NULL,
			delivery_address_id TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_store_status ON orders (store_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price_at_purchase TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`,
		`CREATE TABLE IF NOT EXISTS delivery_partners (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			is_available BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_partners_eligible ON delivery_partners (is_active, is_available)`,
		`CREATE TABLE IF NOT EXISTS delivery_assignments (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			partner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_at DATETIME NOT NULL,
			delivered_at DATETIME NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_assignments_partner ON delivery_assignments (partner_id, status)`,
	},
}
