// Package store wraps the managed Postgres behind the site: the Supabase REST
// API for row access and, when a DSN is configured, a direct pgx connection
// for bulk reads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	supabase "github.com/supabase-community/supabase-go"
	postgrest "github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
)

var (
	// ErrNotFound is returned when a single-row lookup matches nothing
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned on a unique constraint violation (Postgres 23505)
	ErrDuplicate = errors.New("duplicate")
)

// functionTimeout bounds edge function calls, which may run LLM or image jobs
const functionTimeout = 150 * time.Second

// Row is a column->value map used for inserts and patches
type Row map[string]any

// Config holds connection settings
type Config struct {
	// URL is the project URL, e.g. https://<ref>.supabase.co
	URL string

	// ServiceKey is the service_role key; it bypasses RLS
	ServiceKey string

	// DatabaseURL is an optional direct Postgres DSN
	DatabaseURL string

	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
	ConnMaxLife  time.Duration
}

// Client provides table access
type Client struct {
	sdk    *supabase.Client
	db     *sql.DB
	fn     *http.Client
	cfg    Config
	logger *zap.Logger
}

// New connects to Supabase. The REST client is required; the direct
// database is optional and the client falls back to REST-only mode when it
// cannot be opened or pinged.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	logger = logging.OrNop(logger)

	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase URL and service key are required")
	}

	sdk, err := supabase.NewClient(strings.TrimSuffix(cfg.URL, "/"), cfg.ServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase SDK: %w", err)
	}
	c := &Client{sdk: sdk, fn: &http.Client{Timeout: functionTimeout}, cfg: cfg, logger: logger}

	if cfg.DatabaseURL == "" {
		return c, nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		logger.Warn("direct postgres unavailable, using REST only", zap.Error(err))
		return c, nil
	}
	c.db = db
	return c, nil
}

func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	// simple protocol avoids prepared-statement clashes behind the Supabase pooler
	dsn := addConnectionParam(cfg.DatabaseURL, "statement_cache_capacity", "0")
	dsn = addConnectionParam(dsn, "default_query_exec_mode", "simple_protocol")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdle > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Close closes the direct database connection if one is open
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB exposes the direct handle. Nil in REST-only mode.
func (c *Client) DB() *sql.DB {
	return c.db
}

// HasDirectDB reports whether a direct connection is available
func (c *Client) HasDirectDB() bool {
	return c.db != nil
}

// Ping checks the direct database when present, otherwise the REST API
func (c *Client) Ping(ctx context.Context) error {
	if c.db != nil {
		return c.db.PingContext(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := c.sdk.From(tableAgents).Select("id", "", false).Limit(1, "").Execute()
	if err != nil {
		return fmt.Errorf("ping rest: %w", err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.fn == nil {
		return http.DefaultClient
	}
	return c.fn
}

func (c *Client) from(table string) *postgrest.QueryBuilder {
	return c.sdk.From(table)
}

// classify maps PostgREST "(code) message" errors onto sentinels
func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "(23505)") {
		return fmt.Errorf("%s %s: %w: %v", op, table, ErrDuplicate, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func selectRows[T any](ctx context.Context, table string, fb *postgrest.FilterBuilder) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, _, err := fb.Execute()
	if err != nil {
		return nil, classify("select", table, err)
	}
	var rows []T
	if len(body) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return rows, nil
}

func selectOne[T any](ctx context.Context, table string, fb *postgrest.FilterBuilder) (*T, error) {
	rows, err := selectRows[T](ctx, table, fb.Limit(1, ""))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table, ErrNotFound)
	}
	return &rows[0], nil
}

func execute(ctx context.Context, op, table string, fb *postgrest.FilterBuilder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := fb.Execute()
	return classify(op, table, err)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func addConnectionParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}
