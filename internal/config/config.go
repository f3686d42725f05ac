package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// maxOfferFanout caps how many riders are offered one order.
const maxOfferFanout = 10

type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver   string
	MySQLDSN   string
	SQLitePath string

	// RedisAddr empty disables Redis: idempotency keys are ignored and offers
	// go to the in-process websocket hub only.
	RedisAddr string

	JWTSecret string

	DispatchWorkers   int
	DispatchQueueSize int
	NotifyWorkers     int
	NotifyQueueSize   int
	NotifyRate        float64
	OfferFanout       int

	LogLevel        slog.Level
	ShutdownTimeout time.Duration
}

// DSN returns the connection string for the selected driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.MySQLDSN
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	intVar := func(key string, d int) int {
		v, err := getenvInt(key, d)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		HTTPAddr:   getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:   getenv("GRPC_ADDR", ":50051"),
		DBDriver:   getenv("DB_DRIVER", "mysql"),
		MySQLDSN:   getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/quickcommerce?parseTime=true"),
		SQLitePath: getenv("SQLITE_PATH", "file:quickcommerce.db?_pragma=busy_timeout(5000)"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		DispatchWorkers:   intVar("DISPATCH_WORKERS", 4),
		DispatchQueueSize: intVar("DISPATCH_QUEUE_SIZE", 1000),
		NotifyWorkers:     intVar("NOTIFY_WORKERS", 4),
		NotifyQueueSize:   intVar("NOTIFY_QUEUE_SIZE", 1000),
		OfferFanout:       intVar("OFFER_FANOUT", 10),
	}

	cfg.RedisAddr = "localhost:6379"
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}

	rate, err := strconv.ParseFloat(getenv("NOTIFY_RATE", "200"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("NOTIFY_RATE: %w", err))
	}
	cfg.NotifyRate = rate

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	cfg.ShutdownTimeout, err = time.ParseDuration(getenv("SHUTDOWN_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.DBDriver != "mysql" && c.DBDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	for name, v := range map[string]int{
		"DISPATCH_WORKERS":    c.DispatchWorkers,
		"DISPATCH_QUEUE_SIZE": c.DispatchQueueSize,
		"NOTIFY_WORKERS":      c.NotifyWorkers,
		"NOTIFY_QUEUE_SIZE":   c.NotifyQueueSize,
		"OFFER_FANOUT":        c.OfferFanout,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1", name))
		}
	}
	if c.OfferFanout > maxOfferFanout {
		errs = append(errs, fmt.Errorf("OFFER_FANOUT must be at most %d", maxOfferFanout))
	}
	if c.NotifyRate <= 0 {
		errs = append(errs, errors.New("NOTIFY_RATE must be positive"))
	}
	return errors.Join(errs...)
}

// ---------- Helpers ----------
func getenv(key, d string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return d
}

func getenvInt(key string, d int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return d, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return d, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}
