package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aeolun/fraudengine/pkg/fraud"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrTransactionNotFound indicates the transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrUnsupportedDriver indicates a driver other than sqlite or postgres.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqlitePragmas are applied to every pooled connection through the DSN
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// DB stores processed transactions. SQLite gets a dedicated single-connection
// write pool; PostgreSQL shares one pool for reads and writes.
type DB struct {
	driver    string
	conn      *sql.DB
	writeConn *sql.DB
}

// Open opens the database for driver and initializes the schema if needed.
// For sqlite, dsn is a file path.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		return openSQLite(dsn)
	case DriverPostgres:
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

func openSQLite(path string) (*DB, error) {
	dsn := sqliteDSN(path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// SQLite allows a single writer; serialize writes on one connection
	writeConn, err := sql.Open("sqlite", dsn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	db := &DB{driver: DriverSQLite, conn: conn, writeConn: writeConn}
	if err := db.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	for _, p := range sqlitePragmas {
		params.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

func openPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{driver: DriverPostgres, conn: conn, writeConn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Driver returns the driver name the database was opened with
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connections
func (db *DB) Close() error {
	if db.writeConn != db.conn {
		db.writeConn.Close()
	}
	return db.conn.Close()
}

// initSchema creates the transaction table and its indexes if they don't exist
func (db *DB) initSchema() error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	blobType := "BLOB"
	if db.driver == DriverPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
		blobType = "BYTEA"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS auth_transaction (
	` + idColumn + `,
	mti TEXT NOT NULL,
	pan TEXT NOT NULL,
	processing_code TEXT NOT NULL DEFAULT '',
	amount_minor BIGINT NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	stan TEXT NOT NULL DEFAULT '',
	rrn TEXT NOT NULL DEFAULT '',
	terminal_id TEXT NOT NULL DEFAULT '',
	merchant_id TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	merchant_type TEXT NOT NULL DEFAULT '',
	pos_entry_mode TEXT NOT NULL DEFAULT '',
	response_code TEXT NOT NULL,
	flagged INTEGER NOT NULL DEFAULT 0,
	rules TEXT NOT NULL DEFAULT '',
	tx_time BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	raw ` + blobType + `,
	raw_compressed INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_transaction_pan_time ON auth_transaction(pan, tx_time)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_transaction_flagged ON auth_transaction(flagged, id)`,
	}

	for _, stmt := range schema {
		if _, err := db.writeConn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Record stores a processed transaction with its decision and assigns tx.ID
func (db *DB) Record(ctx context.Context, tx *fraud.Transaction, decision fraud.Decision) error {
	id, err := db.SaveTransaction(ctx, tx, decision)
	if err != nil {
		return err
	}
	tx.ID = id
	return nil
}

// SaveTransaction inserts one row and returns its id
func (db *DB) SaveTransaction(ctx context.Context, tx *fraud.Transaction, decision fraud.Decision) (int64, error) {
	raw, compressed := CompressPayload(tx.Raw)

	query := db.rebind(`
		INSERT INTO auth_transaction (
			mti, pan, processing_code, amount_minor, currency, stan, rrn,
			terminal_id, merchant_id, location, merchant_type, pos_entry_mode,
			response_code, flagged, rules, tx_time, created_at, raw, raw_compressed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	err := db.writeConn.QueryRowContext(ctx, query,
		tx.MTI, tx.PAN, tx.ProcessingCode, tx.AmountMinor, tx.Currency, tx.STAN, tx.RRN,
		tx.TerminalID, tx.MerchantID, tx.Location, tx.MerchantType, tx.POSEntryMode,
		decision.ResponseCode(), boolToInt(decision.Flagged()), strings.Join(decision.Annotations, ","),
		tx.Timestamp.UnixMilli(), nowMillis(), raw, boolToInt(compressed),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return id, nil
}

// CountByPANBetween counts recorded transactions for pan with a transaction
// time in [from, to]
func (db *DB) CountByPANBetween(ctx context.Context, pan string, from, to time.Time) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT COUNT(*) FROM auth_transaction
		WHERE pan = ? AND tx_time >= ? AND tx_time <= ?
	`), pan, from.UnixMilli(), to.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// PANTimesSince returns the transaction times per PAN for transactions at or
// after since, oldest first
func (db *DB) PANTimesSince(ctx context.Context, since time.Time) (map[string][]int64, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT pan, tx_time FROM auth_transaction
		WHERE tx_time >= ? AND pan <> ''
		ORDER BY tx_time ASC
	`), since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction times: %w", err)
	}
	defer rows.Close()

	times := make(map[string][]int64)
	for rows.Next() {
		var pan string
		var ts int64
		if err := rows.Scan(&pan, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transaction time: %w", err)
		}
		times[pan] = append(times[pan], ts)
	}
	return times, rows.Err()
}

const selectColumns = `
	id, mti, pan, processing_code, amount_minor, currency, stan, rrn,
	terminal_id, merchant_id, location, merchant_type, pos_entry_mode,
	response_code, flagged, rules, tx_time, created_at, raw, raw_compressed
`

// GetTransaction returns the transaction with the given id
func (db *DB) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+selectColumns+` FROM auth_transaction WHERE id = ?`), id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// ListFlagged returns the most recent declined transactions, newest first
func (db *DB) ListFlagged(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT `+selectColumns+` FROM auth_transaction
		WHERE flagged = 1
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	var (
		t          Transaction
		flagged    int
		rules      string
		txTime     int64
		createdAt  int64
		raw        []byte
		compressed int
	)
	err := s.Scan(
		&t.ID, &t.MTI, &t.PAN, &t.ProcessingCode, &t.AmountMinor, &t.Currency, &t.STAN, &t.RRN,
		&t.TerminalID, &t.MerchantID, &t.Location, &t.MerchantType, &t.POSEntryMode,
		&t.ResponseCode, &flagged, &rules, &txTime, &createdAt, &raw, &compressed,
	)
	if err != nil {
		return nil, err
	}

	t.Flagged = flagged != 0
	if rules != "" {
		t.Rules = strings.Split(rules, ",")
	}
	t.Timestamp = time.UnixMilli(txTime).UTC()
	t.CreatedAt = time.UnixMilli(createdAt).UTC()

	if compressed != 0 {
		raw, err = DecompressPayload(raw)
		if err != nil {
			return nil, err
		}
	}
	t.Raw = raw
	return &t, nil
}
