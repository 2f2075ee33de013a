// Package drs implements the client side of the Durable Reservation Store:
// the transactional reserve-next-segment protocol that is the single
// serialization point across service instances. See leaf_alloc's schema in
// schema.sql.
package drs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/Lzww0608/segid/errs"
)

// BizTagRow mirrors one row of the leaf_alloc table.
type BizTagRow struct {
	BizTag string
	MaxID  int64
	Step   int64
}

// Client is the DRS client. It wraps a *sql.DB and owns no in-memory state
// of its own; the segbuf package is the only caller that keeps segments
// around between calls.
type Client struct {
	db *sql.DB
}

// Open opens a MySQL connection pool for dsn and tunes it the way the
// teacher's LeafDAO does.
func Open(dsn string) (*Client, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &Client{db: db}, nil
}

// NewClient wraps an already-opened *sql.DB. Used by tests to inject a
// sqlmock connection.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Create inserts a new leaf_alloc row. Administrative; not in the ID hot
// path. Fails with errs.ErrAlreadyExists on a primary-key collision.
func (c *Client) Create(ctx context.Context, tag string, initialID, step int64) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO leaf_alloc (biz_tag, max_id, step) VALUES (?, ?, ?)",
		tag, initialID, step)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return errs.ErrAlreadyExists
		}
		return fmt.Errorf("drs: create %q: %w", tag, err)
	}
	return nil
}

// Get reads the row for tag without locking it. Used by the registry to
// validate a tag exists before materializing a segment buffer.
func (c *Client) Get(ctx context.Context, tag string) (BizTagRow, error) {
	var row BizTagRow
	err := c.db.QueryRowContext(ctx,
		"SELECT biz_tag, max_id, step FROM leaf_alloc WHERE biz_tag = ?", tag).
		Scan(&row.BizTag, &row.MaxID, &row.Step)
	if errors.Is(err, sql.ErrNoRows) {
		return BizTagRow{}, errs.ErrUnknownTag
	}
	if err != nil {
		return BizTagRow{}, fmt.Errorf("drs: get %q: %w", tag, err)
	}
	return row, nil
}

// Reserve atomically claims the next segment for tag, returning the
// half-open range [lo, hi). No other reservation, from any process,
// overlaps the returned range: select-for-update, check for overflow,
// advance max_id, commit.
func (c *Client) Reserve(ctx context.Context, tag string) (lo, hi int64, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin: %v", errs.ErrTransient, err)
	}
	defer tx.Rollback()

	var maxID, step int64
	err = tx.QueryRowContext(ctx,
		"SELECT max_id, step FROM leaf_alloc WHERE biz_tag = ? FOR UPDATE", tag).
		Scan(&maxID, &step)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, errs.ErrUnknownTag
	}
	if err != nil {
		return 0, 0, fmt.Errorf("%w: select for update: %v", errs.ErrTransient, err)
	}

	if step <= 0 {
		return 0, 0, fmt.Errorf("%w: non-positive step %d for %q", errs.ErrInternal, step, tag)
	}
	if maxID > math.MaxInt64-step {
		return 0, 0, errs.ErrExhausted
	}
	newMax := maxID + step

	if _, err = tx.ExecContext(ctx,
		"UPDATE leaf_alloc SET max_id = ? WHERE biz_tag = ?", newMax, tag); err != nil {
		return 0, 0, fmt.Errorf("%w: update: %v", errs.ErrTransient, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit: %v", errs.ErrTransient, err)
	}

	return maxID, newMax, nil
}

// isDuplicateKeyErr reports whether err is a MySQL duplicate-key violation
// (error 1062). Falls back to a substring match on the message so the
// sqlmock-driven tests, which return a plain *errors.errorString rather
// than a real *mysql.MySQLError, can exercise the same path.
func isDuplicateKeyErr(err error) bool {
	var merr *mysqldriver.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == 1062
	}
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}
