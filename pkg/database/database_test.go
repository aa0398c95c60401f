package database

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/fraudengine/pkg/fraud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "fraud.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testTransaction(pan string, ts time.Time) *fraud.Transaction {
	return &fraud.Transaction{
		MTI:         "0200",
		Timestamp:   ts,
		PAN:         pan,
		AmountMinor: 5000,
		Currency:    "ZAR",
		STAN:        "030388",
		TerminalID:  "BAIBG301",
		MerchantID:  "000000110030103",
		Location:    "TEST MERCHANT",
		Raw:         []byte("0200raw"),
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraud.db")
	db, err := Open(DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(DriverSQLite, path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, db.Driver())
	require.NoError(t, db.Close())
}

func TestRecordAndGetTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 9, 10, 37, 58, 0, time.UTC)

	tx := testTransaction("4111111111111111", ts)
	decision := fraud.Decision{Outcome: fraud.Declined, Annotations: []string{fraud.RuleHighAmount, fraud.RuleLocation}}
	require.NoError(t, db.Record(ctx, tx, decision))
	require.NotZero(t, tx.ID)

	got, err := db.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0200", got.MTI)
	assert.Equal(t, "4111111111111111", got.PAN)
	assert.Equal(t, int64(5000), got.AmountMinor)
	assert.Equal(t, "05", got.ResponseCode)
	assert.True(t, got.Flagged)
	assert.Equal(t, []string{fraud.RuleHighAmount, fraud.RuleLocation}, got.Rules)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, []byte("0200raw"), got.Raw)
}

func TestGetTransactionNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetTransaction(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestLargeRawPayloadIsCompressed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx := testTransaction("4111111111111111", time.Now())
	tx.Raw = bytes.Repeat([]byte("0200000000005000"), 40)
	require.NoError(t, db.Record(ctx, tx, fraud.Decision{Outcome: fraud.Approved}))

	var compressed int
	var stored []byte
	require.NoError(t, db.conn.QueryRow(`SELECT raw_compressed, raw FROM auth_transaction WHERE id = ?`, tx.ID).Scan(&compressed, &stored))
	assert.Equal(t, 1, compressed)
	assert.Less(t, len(stored), len(tx.Raw))

	got, err := db.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Raw, got.Raw)
	assert.False(t, got.Flagged)
	assert.Nil(t, got.Rules)
}

func TestCountByPANBetween(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-20 * time.Minute, -15 * time.Minute, -5 * time.Minute, 0} {
		require.NoError(t, db.Record(ctx, testTransaction("4111111111111111", base.Add(offset)), fraud.Decision{Outcome: fraud.Approved}))
	}
	require.NoError(t, db.Record(ctx, testTransaction("5200000000000007", base), fraud.Decision{Outcome: fraud.Approved}))

	count, err := db.CountByPANBetween(ctx, "4111111111111111", base.Add(-15*time.Minute), base)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "window bounds are inclusive")

	count, err = db.CountByPANBetween(ctx, "0000", base.Add(-time.Hour), base)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestVelocityRuleAgainstDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	rule := fraud.NewVelocityRule(db, 15*time.Minute, 5)

	for i := 0; i < 5; i++ {
		tx := testTransaction("4111111111111111", base.Add(time.Duration(i)*time.Minute))
		hit, err := rule.Evaluate(ctx, tx)
		require.NoError(t, err)
		assert.False(t, hit, "transaction %d", i)
		require.NoError(t, db.Record(ctx, tx, fraud.Decision{Outcome: fraud.Approved}))
	}

	hit, err := rule.Evaluate(ctx, testTransaction("4111111111111111", base.Add(5*time.Minute)))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestListFlagged(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d := fraud.Decision{Outcome: fraud.Approved}
		if i%2 == 1 {
			d = fraud.Decision{Outcome: fraud.Declined, Annotations: []string{fraud.RuleVelocity}}
		}
		require.NoError(t, db.Record(ctx, testTransaction("4111111111111111", time.Now()), d))
	}

	flagged, err := db.ListFlagged(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	assert.Greater(t, flagged[0].ID, flagged[1].ID)
	for _, f := range flagged {
		assert.Equal(t, "05", f.ResponseCode)
	}

	limited, err := db.ListFlagged(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestConcurrentRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, db.Record(ctx, testTransaction("4111111111111111", time.Now()), fraud.Decision{Outcome: fraud.Approved}))
			}
		}()
	}
	wg.Wait()

	count, err := db.CountByPANBetween(ctx, "4111111111111111", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestCompressPayload(t *testing.T) {
	small := []byte("0800")
	out, ok := CompressPayload(small)
	assert.False(t, ok)
	assert.Equal(t, small, out)

	large := bytes.Repeat([]byte("A"), 1024)
	out, ok = CompressPayload(large)
	require.True(t, ok)
	back, err := DecompressPayload(out)
	require.NoError(t, err)
	assert.Equal(t, large, back)

	_, err = DecompressPayload([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidCompressedLen)
	_, err = DecompressPayload([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0})
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}
