package database

import "time"

// Transaction is a stored authorization request and the decision taken on it
type Transaction struct {
	ID             int64     `json:"id" yaml:"id"`
	MTI            string    `json:"mti" yaml:"mti"`
	PAN            string    `json:"pan" yaml:"pan"`
	ProcessingCode string    `json:"processing_code" yaml:"processing_code" table:"-"`
	AmountMinor    int64     `json:"amount_minor" yaml:"amount_minor"`
	Currency       string    `json:"currency" yaml:"currency"`
	STAN           string    `json:"stan" yaml:"stan"`
	RRN            string    `json:"rrn" yaml:"rrn" table:"-"`
	TerminalID     string    `json:"terminal_id" yaml:"terminal_id"`
	MerchantID     string    `json:"merchant_id" yaml:"merchant_id" table:"-"`
	Location       string    `json:"location" yaml:"location"`
	MerchantType   string    `json:"merchant_type" yaml:"merchant_type" table:"-"`
	POSEntryMode   string    `json:"pos_entry_mode" yaml:"pos_entry_mode" table:"-"`
	ResponseCode   string    `json:"response_code" yaml:"response_code"`
	Flagged        bool      `json:"flagged" yaml:"flagged"`
	Rules          []string  `json:"rules,omitempty" yaml:"rules,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at" table:"-"`
	Raw            []byte    `json:"-" yaml:"-" table:"-"`
}
