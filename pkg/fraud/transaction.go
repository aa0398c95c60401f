package fraud

import (
	"time"
)

// Transaction is the domain view of an inbound authorization request
type Transaction struct {
	ID             int64 // assigned by the recorder, 0 until persisted
	MTI            string
	Timestamp      time.Time
	PAN            string
	ProcessingCode string
	AmountMinor    int64
	Currency       string
	STAN           string
	RRN            string
	TerminalID     string
	MerchantID     string
	Location       string

	MerchantType          string
	POSEntryMode          string
	POSConditionCode      string
	AcquiringInstitution  string
	ForwardingInstitution string

	Fields map[int]string
	Raw    []byte
}

// Amount returns the amount in major units (two decimal places assumed)
func (t *Transaction) Amount() float64 {
	return float64(t.AmountMinor) / 100
}

// Outcome of an evaluation
type Outcome string

const (
	Approved Outcome = "approved"
	Declined Outcome = "declined"
)

// Decision is the result of evaluating a transaction. Annotations hold the
// names of the rules that fired, in rule order.
type Decision struct {
	Outcome     Outcome
	Annotations []string
}

// Flagged reports whether any rule fired
func (d Decision) Flagged() bool {
	return d.Outcome == Declined
}

// ResponseCode maps the outcome to field 39
func (d Decision) ResponseCode() string {
	if d.Outcome == Declined {
		return "05"
	}
	return "00"
}
