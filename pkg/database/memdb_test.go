package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/fraudengine/pkg/fraud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approved = fraud.Decision{Outcome: fraud.Approved}

func TestMemDBLoadsRecentTransactions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, db.Record(ctx, testTransaction("4111111111111111", now.Add(-2*time.Hour)), approved))
	require.NoError(t, db.Record(ctx, testTransaction("4111111111111111", now.Add(-10*time.Minute)), approved))
	require.NoError(t, db.Record(ctx, testTransaction("4111111111111111", now.Add(-5*time.Minute)), approved))
	require.NoError(t, db.Record(ctx, testTransaction("5284971100131851", now.Add(-time.Minute)), approved))

	m, err := NewMemDB(ctx, db, time.Hour, 0)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 3, m.Len(), "the 2h old transaction is outside retention")

	count, err := m.CountByPANBetween(ctx, "4111111111111111", now.Add(-15*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Reaching past the horizon falls back to the database
	count, err = m.CountByPANBetween(ctx, "4111111111111111", now.Add(-3*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMemDBRecordWritesThrough(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	m, err := NewMemDB(ctx, db, time.Hour, 0)
	require.NoError(t, err)
	defer m.Close()

	pan := "4111111111111111"
	// Out of order arrival keeps the index sorted
	for _, offset := range []time.Duration{-time.Minute, -3 * time.Minute, -2 * time.Minute} {
		tx := testTransaction(pan, now.Add(offset))
		require.NoError(t, m.Record(ctx, tx, approved))
		assert.NotZero(t, tx.ID)
	}
	require.NoError(t, m.Record(ctx, testTransaction("", now), approved))

	count, err := m.CountByPANBetween(ctx, pan, now.Add(-150*time.Second), now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Inclusive bounds
	count, err = m.CountByPANBetween(ctx, pan, now.Add(-3*time.Minute), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	dbCount, err := db.CountByPANBetween(ctx, pan, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 3, dbCount)
}

func TestMemDBPrune(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	m, err := NewMemDB(ctx, db, time.Hour, 0)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Record(ctx, testTransaction("1111", now.Add(-50*time.Minute)), approved))
	require.NoError(t, m.Record(ctx, testTransaction("2222", now.Add(-50*time.Minute)), approved))
	require.NoError(t, m.Record(ctx, testTransaction("2222", now.Add(-5*time.Minute)), approved))

	m.now = func() time.Time { return now.Add(20 * time.Minute) }
	assert.Equal(t, 2, m.prune())
	assert.Equal(t, 1, m.Len())
	assert.Zero(t, m.prune(), "horizon already advanced")

	// The pruned range is still answered, from the database
	count, err := m.CountByPANBetween(ctx, "2222", now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemDBVelocityRule(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m, err := NewMemDB(ctx, db, time.Hour, time.Minute)
	require.NoError(t, err)
	defer m.Close()

	rule := fraud.NewVelocityRule(m, 15*time.Minute, 2)
	now := time.Now()

	var hits []bool
	for i := 0; i < 3; i++ {
		tx := testTransaction("4111111111111111", now)
		hit, err := rule.Evaluate(ctx, tx)
		require.NoError(t, err)
		hits = append(hits, hit)
		require.NoError(t, m.Record(ctx, tx, approved))
	}
	assert.Equal(t, []bool{false, false, true}, hits)
}

func TestMemDBConcurrentUse(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m, err := NewMemDB(ctx, db, time.Hour, 10*time.Millisecond)
	require.NoError(t, err)

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, m.Record(ctx, testTransaction("4111111111111111", now), approved))
				_, err := m.CountByPANBetween(ctx, "4111111111111111", now.Add(-time.Minute), now)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	m.Close()
	m.Close()

	assert.Equal(t, 40, m.Len())
}
