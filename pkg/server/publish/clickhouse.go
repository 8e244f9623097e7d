package publish

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

const DefaultHistoryTable = "price_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseOptions configures a ClickHouseStore.
type ClickHouseOptions struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

var (
	_ Publisher    = (*ClickHouseStore)(nil)
	_ HistoryStore = (*ClickHouseStore)(nil)
)

// ClickHouseStore persists sealed buckets and serves them back for history
// queries. Prices themselves are not stored.
type ClickHouseStore struct {
	db     *sql.DB
	table  string
	logger *logging.Logger
}

// NewClickHouseStore opens a connection pool and pings the server.
func NewClickHouseStore(ctx context.Context, opts ClickHouseOptions, logger *logging.Logger) (*ClickHouseStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: clickhouse", ErrAddrRequired)
	}
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return newClickHouseStore(db, opts.Table, logger)
}

func newClickHouseStore(db *sql.DB, table string, logger *logging.Logger) (*ClickHouseStore, error) {
	if table == "" {
		table = DefaultHistoryTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &ClickHouseStore{db: db, table: table, logger: logger.With("publisher", "clickhouse")}, nil
}

func (c *ClickHouseStore) Name() string {
	return "clickhouse"
}

// EnsureSchema creates the history table if it does not exist. Rows for the
// same bucket replace each other.
func (c *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + c.table + ` (
	symbol          LowCardinality(String),
	base_currency   LowCardinality(String),
	bucket_interval LowCardinality(String),
	bucket_start    DateTime64(3, 'UTC'),
	open            Decimal(38, 18),
	high            Decimal(38, 18),
	low             Decimal(38, 18),
	close           Decimal(38, 18),
	tick_count      UInt32
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, base_currency, bucket_interval, bucket_start)`
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s: %w", c.table, err)
	}
	return nil
}

// PublishPrice is a no-op; only sealed buckets are persisted.
func (c *ClickHouseStore) PublishPrice(context.Context, aggregator.AggregatedPrice) error {
	return nil
}

func (c *ClickHouseStore) PublishBucket(ctx context.Context, b history.Bucket) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO `+c.table+` (symbol, base_currency, bucket_interval, bucket_start, open, high, low, close, tick_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Symbol, b.BaseCurrency, b.Interval, b.Start.UTC(), b.Open, b.High, b.Low, b.Close, uint32(b.TickCount),
	)
	if err != nil {
		return fmt.Errorf("insert bucket: %w", err)
	}
	return nil
}

// QueryBuckets returns up to limit sealed buckets, oldest first.
func (c *ClickHouseStore) QueryBuckets(ctx context.Context, symbol, base, interval string, limit int) ([]history.Bucket, error) {
	if limit <= 0 {
		limit = history.DefaultRetention
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT bucket_start, open, high, low, close, tick_count FROM `+c.table+` FINAL
WHERE symbol = ? AND base_currency = ? AND bucket_interval = ?
ORDER BY bucket_start DESC LIMIT ?`,
		symbol, base, interval, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []history.Bucket
	for rows.Next() {
		b := history.Bucket{Symbol: symbol, BaseCurrency: base, Interval: interval, Sealed: true}
		var ticks uint32
		if err := rows.Scan(&b.Start, &b.Open, &b.High, &b.Low, &b.Close, &ticks); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.Start = b.Start.UTC()
		b.TickCount = int(ticks)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read buckets: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (c *ClickHouseStore) Close() error {
	return c.db.Close()
}
