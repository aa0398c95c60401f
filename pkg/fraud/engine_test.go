package fraud

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRule struct {
	name string
	hit  bool
	err  error
	boom bool
}

func (r stubRule) Name() string { return r.name }

func (r stubRule) Evaluate(context.Context, *Transaction) (bool, error) {
	if r.boom {
		panic("rule exploded")
	}
	return r.hit, r.err
}

type recordingObserver struct {
	hits   []string
	errors []string
}

func (o *recordingObserver) RuleHit(rule string)   { o.hits = append(o.hits, rule) }
func (o *recordingObserver) RuleError(rule string) { o.errors = append(o.errors, rule) }

func TestEngineApprovesWhenNoRuleFires(t *testing.T) {
	e := NewEngine(nil, stubRule{name: "A"}, stubRule{name: "B"})
	d, err := e.Evaluate(context.Background(), &Transaction{})
	require.NoError(t, err)
	assert.Equal(t, Approved, d.Outcome)
	assert.Empty(t, d.Annotations)
	assert.False(t, d.Flagged())
	assert.Equal(t, "00", d.ResponseCode())
}

func TestEngineCollectsHitsInRuleOrder(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(nil,
		stubRule{name: RuleHighAmount, hit: true},
		stubRule{name: RuleVelocity},
		stubRule{name: RuleLocation, hit: true},
	)
	e.SetMetrics(obs)

	d, err := e.Evaluate(context.Background(), &Transaction{})
	require.NoError(t, err)
	assert.Equal(t, Declined, d.Outcome)
	assert.Equal(t, []string{RuleHighAmount, RuleLocation}, d.Annotations)
	assert.Equal(t, "05", d.ResponseCode())
	assert.Equal(t, []string{RuleHighAmount, RuleLocation}, obs.hits)
	assert.Equal(t, []string{RuleHighAmount, RuleVelocity, RuleLocation}, e.Rules())
}

func TestEngineIsolatesFailingRules(t *testing.T) {
	var logs bytes.Buffer
	obs := &recordingObserver{}
	e := NewEngine(log.New(&logs, "", 0),
		stubRule{name: "BROKEN", err: errors.New("db down")},
		stubRule{name: "PANICS", boom: true},
		stubRule{name: RuleHighAmount, hit: true},
	)
	e.SetMetrics(obs)

	d, err := e.Evaluate(context.Background(), &Transaction{PAN: "4111111111111111", STAN: "030388"})
	require.NoError(t, err)
	assert.Equal(t, Declined, d.Outcome)
	assert.Equal(t, []string{RuleHighAmount}, d.Annotations)
	assert.Equal(t, []string{"BROKEN", "PANICS"}, obs.errors)

	assert.Contains(t, logs.String(), "rule BROKEN failed")
	assert.Contains(t, logs.String(), "pan=411111******1111")
	assert.Contains(t, logs.String(), "panic: rule exploded")
}

func TestEngineTotalOutage(t *testing.T) {
	e := NewEngine(nil,
		stubRule{name: "A", err: errors.New("fail")},
		stubRule{name: "B", boom: true},
	)
	_, err := e.Evaluate(context.Background(), &Transaction{})
	assert.ErrorIs(t, err, ErrEvaluationUnavailable)
}

func TestEngineWithoutRulesApproves(t *testing.T) {
	d, err := NewEngine(nil).Evaluate(context.Background(), &Transaction{})
	require.NoError(t, err)
	assert.Equal(t, Approved, d.Outcome)
}

func TestEngineHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(nil, stubRule{name: "A"}).Evaluate(ctx, &Transaction{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHighAmountRule(t *testing.T) {
	rule := NewHighAmountRule(1000)
	tests := []struct {
		minor int64
		want  bool
	}{
		{minor: 5000, want: false},
		{minor: 100000, want: false},
		{minor: 100001, want: true},
		{minor: 1000000, want: true},
	}
	for _, tt := range tests {
		hit, err := rule.Evaluate(context.Background(), &Transaction{AmountMinor: tt.minor})
		require.NoError(t, err)
		assert.Equal(t, tt.want, hit, "amount %d", tt.minor)
	}
	assert.Equal(t, RuleHighAmount, rule.Name())
}

type fakeHistory struct {
	count    int
	err      error
	pan      string
	from, to time.Time
}

func (h *fakeHistory) CountByPANBetween(_ context.Context, pan string, from, to time.Time) (int, error) {
	h.pan, h.from, h.to = pan, from, to
	return h.count, h.err
}

func TestVelocityRule(t *testing.T) {
	ts := time.Date(2026, 1, 9, 10, 37, 58, 0, time.UTC)
	h := &fakeHistory{count: 4}
	rule := NewVelocityRule(h, 15*time.Minute, 5)

	hit, err := rule.Evaluate(context.Background(), &Transaction{PAN: "4111111111111111", Timestamp: ts})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "4111111111111111", h.pan)
	assert.Equal(t, ts.Add(-15*time.Minute), h.from)
	assert.Equal(t, ts, h.to)

	h.count = 5
	hit, err = rule.Evaluate(context.Background(), &Transaction{PAN: "4111111111111111", Timestamp: ts})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestVelocityRuleErrors(t *testing.T) {
	rule := NewVelocityRule(&fakeHistory{err: errors.New("timeout")}, time.Minute, 1)
	_, err := rule.Evaluate(context.Background(), &Transaction{PAN: "4111"})
	assert.ErrorContains(t, err, "timeout")
}

func TestVelocityRuleWithoutPAN(t *testing.T) {
	h := &fakeHistory{count: 100}
	rule := NewVelocityRule(h, time.Minute, 1)

	hit, err := rule.Evaluate(context.Background(), &Transaction{STAN: "000001"})
	require.NoError(t, err)
	assert.False(t, hit)

	// The only rule must not turn a card-less request into an outage
	d, err := NewEngine(nil, rule).Evaluate(context.Background(), &Transaction{})
	require.NoError(t, err)
	assert.Equal(t, Approved, d.Outcome)
}

func TestLocationRule(t *testing.T) {
	rule := NewLocationRule([]string{"RISKY-COUNTRY", "UNKNOWN"}, []string{"SOUTH-AFRICA"})

	hit, _ := rule.Evaluate(context.Background(), &Transaction{Location: "RISKY-COUNTRY"})
	assert.True(t, hit)
	hit, _ = rule.Evaluate(context.Background(), &Transaction{Location: " unknown "})
	assert.True(t, hit)
	hit, _ = rule.Evaluate(context.Background(), &Transaction{Location: "SOUTH-AFRICA"})
	assert.False(t, hit)
	hit, _ = rule.Evaluate(context.Background(), &Transaction{Location: " "})
	assert.False(t, hit)

	whitelisted := NewLocationRule([]string{"UNKNOWN"}, []string{"UNKNOWN"})
	hit, _ = whitelisted.Evaluate(context.Background(), &Transaction{Location: "UNKNOWN"})
	assert.False(t, hit)
}
