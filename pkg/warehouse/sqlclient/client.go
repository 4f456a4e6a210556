// Package sqlclient implements warehouse.Client over database/sql.
package sqlclient

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/davidthor/clonectl/pkg/warehouse"
	"github.com/lib/pq"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"
)

// DefaultDriver is used when Config.Driver is empty. The postgres driver stays
// registered for Postgres-compatible test warehouses.
const DefaultDriver = "snowflake"

// Config configures the connection pool.
type Config struct {
	// Driver is the database/sql driver name: "snowflake" (default) or "postgres".
	Driver string

	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Client executes statements through a database/sql connection pool.
type Client struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	driverName := cfg.Driver
	if driverName == "" {
		driverName = DefaultDriver
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Classify(err)
	}

	client := New(db, logger)
	client.logger.Info("warehouse connection established", zap.String("driver", driverName))
	return client, nil
}

// New wraps an existing pool.
func New(db *sql.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: db, logger: logger}
}

// Execute runs a statement. Read-only statements return their rows; other
// statements report the affected row count. Errors are *warehouse.Failure.
func (c *Client) Execute(ctx context.Context, stmt warehouse.Statement) (*warehouse.Result, error) {
	start := time.Now()
	var (
		result *warehouse.Result
		err    error
	)
	if stmt.ReadOnly {
		result, err = c.query(ctx, stmt.SQL)
	} else {
		result, err = c.exec(ctx, stmt.SQL)
	}

	if err != nil {
		failure := Classify(err)
		c.logger.Debug("statement failed",
			zap.String("sql", stmt.SQL),
			zap.String("kind", string(failure.Kind)),
			zap.String("code", failure.Code),
			zap.Duration("duration", time.Since(start)))
		return nil, failure
	}

	c.logger.Debug("statement executed",
		zap.String("sql", stmt.SQL),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (c *Client) exec(ctx context.Context, query string) (*warehouse.Result, error) {
	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	return &warehouse.Result{RowsAffected: affected}, nil
}

func (c *Client) query(ctx context.Context, query string) (*warehouse.Result, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &warehouse.Result{Columns: columns, RowsAffected: -1}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	c.logger.Info("closing warehouse connection")
	return c.db.Close()
}

// Classify maps a driver error onto the warehouse failure taxonomy.
func Classify(err error) *warehouse.Failure {
	if err == nil {
		return nil
	}

	var failure *warehouse.Failure
	if errors.As(err, &failure) {
		return failure
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &warehouse.Failure{Kind: warehouse.FailureTransient, Code: "timeout", Message: err.Error(), Err: err}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &warehouse.Failure{Kind: warehouse.FailureTransient, Message: err.Error(), Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &warehouse.Failure{
			Kind:    classifyCode(string(pqErr.Code)),
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Err:     err,
		}
	}

	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		msg := sfErr.Message
		if msg == "" {
			msg = err.Error()
		}
		return &warehouse.Failure{
			Kind:    classifyNumber(sfErr.Number, sfErr.SQLState, msg),
			Code:    fmt.Sprintf("%06d", sfErr.Number),
			Message: msg,
			Err:     err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &warehouse.Failure{Kind: warehouse.FailureTransient, Message: err.Error(), Err: err}
	}

	return &warehouse.Failure{Kind: classifyMessage(err.Error()), Message: err.Error(), Err: err}
}

// classifyCode maps SQLSTATE codes.
func classifyCode(code string) warehouse.FailureKind {
	switch code {
	case "42P04", "42P06", "42P07", "42710":
		return warehouse.FailureAlreadyExists
	case "42501":
		return warehouse.FailurePermission
	case "3D000", "3F000", "42P01", "42704":
		return warehouse.FailureNotFound
	case "40001", "40P01", "55P03", "57P01", "57P02", "57P03", "57014":
		return warehouse.FailureTransient
	}

	if len(code) >= 2 {
		switch code[:2] {
		case "08", "53":
			return warehouse.FailureTransient
		case "28":
			return warehouse.FailurePermission
		}
	}
	return warehouse.FailurePermanent
}

// classifyNumber maps Snowflake error numbers, falling back to the SQLSTATE
// and then the message text.
func classifyNumber(number int, sqlState, msg string) warehouse.FailureKind {
	switch {
	case number == 2002:
		return warehouse.FailureAlreadyExists
	case number == 2003:
		return warehouse.FailureNotFound
	case number == 3001:
		return warehouse.FailurePermission
	case number == 390100 || number == 390144:
		// bad credentials or key pair
		return warehouse.FailurePermission
	case number >= 390000 && number < 391000:
		return warehouse.FailureTransient
	}
	if sqlState != "" {
		if kind := classifyCode(sqlState); kind != warehouse.FailurePermanent {
			return kind
		}
	}
	return classifyMessage(msg)
}

// classifyMessage recognises the wording Snowflake uses for common failures.
func classifyMessage(msg string) warehouse.FailureKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "already exists"):
		return warehouse.FailureAlreadyExists
	case strings.Contains(lower, "insufficient privileges"), strings.Contains(lower, "not authorized"):
		if strings.Contains(lower, "does not exist") {
			return warehouse.FailureNotFound
		}
		return warehouse.FailurePermission
	case strings.Contains(lower, "does not exist"):
		return warehouse.FailureNotFound
	case strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "temporarily unavailable"):
		return warehouse.FailureTransient
	default:
		return warehouse.FailurePermanent
	}
}
