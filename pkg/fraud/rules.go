package fraud

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Rule names reported in field 44
const (
	RuleHighAmount = "HIGH_AMOUNT"
	RuleVelocity   = "VELOCITY_ACCOUNT"
	RuleLocation   = "LOCATION_RISK"
)

// HighAmountRule flags transactions strictly above a threshold
type HighAmountRule struct {
	thresholdMinor int64
}

// NewHighAmountRule takes the threshold in major units (e.g. 1000.00)
func NewHighAmountRule(threshold float64) *HighAmountRule {
	return &HighAmountRule{thresholdMinor: int64(math.Round(threshold * 100))}
}

func (r *HighAmountRule) Name() string { return RuleHighAmount }

func (r *HighAmountRule) Evaluate(_ context.Context, tx *Transaction) (bool, error) {
	return tx.AmountMinor > r.thresholdMinor, nil
}

// History answers velocity questions about previously recorded transactions
type History interface {
	CountByPANBetween(ctx context.Context, pan string, from, to time.Time) (int, error)
}

// VelocityRule flags a PAN that already has maxCount or more transactions
// inside the window ending at the transaction timestamp
type VelocityRule struct {
	history  History
	window   time.Duration
	maxCount int
}

func NewVelocityRule(history History, window time.Duration, maxCount int) *VelocityRule {
	return &VelocityRule{history: history, window: window, maxCount: maxCount}
}

func (r *VelocityRule) Name() string { return RuleVelocity }

func (r *VelocityRule) Evaluate(ctx context.Context, tx *Transaction) (bool, error) {
	// Without a card number there is nothing to count
	if tx.PAN == "" {
		return false, nil
	}
	count, err := r.history.CountByPANBetween(ctx, tx.PAN, tx.Timestamp.Add(-r.window), tx.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count >= r.maxCount, nil
}

// LocationRule flags risky locations unless whitelisted. Matching is
// case-insensitive on the trimmed location.
type LocationRule struct {
	risky     map[string]bool
	whitelist map[string]bool
}

func NewLocationRule(risky, whitelist []string) *LocationRule {
	return &LocationRule{risky: toSet(risky), whitelist: toSet(whitelist)}
}

func (r *LocationRule) Name() string { return RuleLocation }

func (r *LocationRule) Evaluate(_ context.Context, tx *Transaction) (bool, error) {
	loc := normalizeLocation(tx.Location)
	if r.whitelist[loc] {
		return false, nil
	}
	return r.risky[loc], nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[normalizeLocation(v)] = true
	}
	return set
}

func normalizeLocation(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
