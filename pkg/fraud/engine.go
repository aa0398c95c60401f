package fraud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
)

// ErrEvaluationUnavailable is returned when every configured rule failed
var ErrEvaluationUnavailable = errors.New("fraud evaluation unavailable")

// Rule inspects a transaction and reports whether it should be flagged
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, tx *Transaction) (bool, error)
}

// ExplainingRule is a Rule that can say why it fired
type ExplainingRule interface {
	Rule
	Explain(ctx context.Context, tx *Transaction) (hit bool, reason string, err error)
}

// RuleObserver receives per-rule outcomes (implemented by server metrics)
type RuleObserver interface {
	RuleHit(rule string)
	RuleError(rule string)
}

// Engine runs its rules in order. A failing rule is logged and treated as
// not firing; if all rules fail the evaluation as a whole fails.
type Engine struct {
	rules    []Rule
	logger   *log.Logger
	observer RuleObserver
}

// NewEngine creates an engine. A nil logger discards rule errors.
func NewEngine(logger *log.Logger, rules ...Rule) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{rules: rules, logger: logger}
}

// SetMetrics attaches an observer for rule hits and errors
func (e *Engine) SetMetrics(observer RuleObserver) {
	e.observer = observer
}

// Rules returns the configured rule names in evaluation order
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate runs every rule against tx
func (e *Engine) Evaluate(ctx context.Context, tx *Transaction) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	var hits []string
	failed := 0
	for _, rule := range e.rules {
		hit, reason, err := e.run(ctx, rule, tx)
		if err != nil {
			failed++
			e.logger.Printf("rule %s failed for pan=%s stan=%s: %v", rule.Name(), MaskPAN(tx.PAN), tx.STAN, err)
			if e.observer != nil {
				e.observer.RuleError(rule.Name())
			}
			continue
		}
		if hit {
			if reason != "" {
				e.logger.Printf("rule %s flagged pan=%s stan=%s: %s", rule.Name(), MaskPAN(tx.PAN), tx.STAN, reason)
			}
			hits = append(hits, rule.Name())
			if e.observer != nil {
				e.observer.RuleHit(rule.Name())
			}
		}
	}

	if len(e.rules) > 0 && failed == len(e.rules) {
		return Decision{}, ErrEvaluationUnavailable
	}
	if len(hits) > 0 {
		return Decision{Outcome: Declined, Annotations: hits}, nil
	}
	return Decision{Outcome: Approved}, nil
}

func (e *Engine) run(ctx context.Context, rule Rule, tx *Transaction) (hit bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if er, ok := rule.(ExplainingRule); ok {
		return er.Explain(ctx, tx)
	}
	hit, err = rule.Evaluate(ctx, tx)
	return hit, "", err
}

// MaskPAN keeps the first six and last four digits of a PAN
func MaskPAN(pan string) string {
	if len(pan) <= 10 {
		return pan
	}
	masked := []byte(pan)
	for i := 6; i < len(masked)-4; i++ {
		masked[i] = '*'
	}
	return string(masked)
}
