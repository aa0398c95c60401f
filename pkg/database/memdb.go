package database

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aeolun/fraudengine/pkg/fraud"
)

// MemDB keeps the transaction times of recent transactions in memory, per
// PAN, so velocity counts do not hit the database. Writes go to the database
// first and then to memory. Counts reaching back past the retention horizon
// are answered by the database.
type MemDB struct {
	mu sync.RWMutex

	// PAN -> transaction times (unix millis), ascending
	timesByPAN map[string][]int64
	// Every transaction at or after horizon is in timesByPAN
	horizon int64

	db            *DB
	retention     time.Duration
	pruneInterval time.Duration
	now           func() time.Time
	shutdown      chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// NewMemDB loads the last retention worth of transaction times from db and
// starts pruning every pruneInterval (0 disables the background loop)
func NewMemDB(ctx context.Context, db *DB, retention, pruneInterval time.Duration) (*MemDB, error) {
	m := &MemDB{
		db:            db,
		retention:     retention,
		pruneInterval: pruneInterval,
		now:           time.Now,
		shutdown:      make(chan struct{}),
	}

	start := time.Now()
	since := m.now().Add(-retention)
	times, err := db.PANTimesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load from database: %w", err)
	}
	m.timesByPAN = times
	m.horizon = since.UnixMilli()
	log.Printf("MemDB: loaded %d transactions for %d cards in %v", m.Len(), len(times), time.Since(start))

	if pruneInterval > 0 {
		m.wg.Add(1)
		go m.pruneLoop()
	}
	return m, nil
}

// Record stores the transaction in the database, then indexes its time
func (m *MemDB) Record(ctx context.Context, tx *fraud.Transaction, decision fraud.Decision) error {
	if err := m.db.Record(ctx, tx, decision); err != nil {
		return err
	}
	if tx.PAN == "" {
		return nil
	}

	ts := tx.Timestamp.UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts < m.horizon {
		return nil
	}
	times := m.timesByPAN[tx.PAN]
	i := sort.Search(len(times), func(i int) bool { return times[i] > ts })
	times = append(times, 0)
	copy(times[i+1:], times[i:])
	times[i] = ts
	m.timesByPAN[tx.PAN] = times
	return nil
}

// CountByPANBetween counts transactions for pan with a time in [from, to]
func (m *MemDB) CountByPANBetween(ctx context.Context, pan string, from, to time.Time) (int, error) {
	lo, hi := from.UnixMilli(), to.UnixMilli()

	m.mu.RLock()
	if lo < m.horizon {
		m.mu.RUnlock()
		return m.db.CountByPANBetween(ctx, pan, from, to)
	}
	times := m.timesByPAN[pan]
	first := sort.Search(len(times), func(i int) bool { return times[i] >= lo })
	last := sort.Search(len(times), func(i int) bool { return times[i] > hi })
	m.mu.RUnlock()

	if last < first {
		return 0, nil
	}
	return last - first, nil
}

// Len returns the number of indexed transactions
func (m *MemDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, times := range m.timesByPAN {
		n += len(times)
	}
	return n
}

// prune drops times older than the retention window and advances the horizon.
// It returns the number of dropped entries.
func (m *MemDB) prune() int {
	cutoff := m.now().Add(-m.retention).UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cutoff <= m.horizon {
		return 0
	}
	m.horizon = cutoff

	dropped := 0
	for pan, times := range m.timesByPAN {
		i := sort.Search(len(times), func(i int) bool { return times[i] >= cutoff })
		if i == 0 {
			continue
		}
		dropped += i
		if i == len(times) {
			delete(m.timesByPAN, pan)
			continue
		}
		m.timesByPAN[pan] = append(times[:0:0], times[i:]...)
	}
	return dropped
}

// pruneLoop periodically prunes expired entries
func (m *MemDB) pruneLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if dropped := m.prune(); dropped > 0 {
				log.Printf("MemDB: pruned %d expired transactions", dropped)
			}
		case <-m.shutdown:
			return
		}
	}
}

// Close stops the prune loop. The underlying database stays open.
func (m *MemDB) Close() {
	m.closeOnce.Do(func() { close(m.shutdown) })
	m.wg.Wait()
}
