package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

// Authorization describes a card-present purchase to send as an 0200
type Authorization struct {
	PAN          string
	Expiry       string // YYMM, used for track 2
	AmountMinor  int64
	Currency     string // ISO 4217 numeric
	TerminalID   string
	MerchantID   string
	Location     string
	MerchantType string
	Acquirer     string
	Forwarder    string
}

// DefaultAuthorization returns a purchase on a test card at a test merchant
func DefaultAuthorization() Authorization {
	return Authorization{
		PAN:          "5284971100131851",
		Expiry:       "2611",
		AmountMinor:  500,
		Currency:     "710",
		TerminalID:   "BAIBG301",
		MerchantID:   "000000110030103",
		Location:     "TEST MERCHANT STELLENBOSCH ZA",
		MerchantType: "5411",
		Acquirer:     "528497",
		Forwarder:    "330000",
	}
}

// Message builds the 0200 request. stan is the 6-digit trace number and now
// the transmission time (sent as UTC).
func (a Authorization) Message(stan string, now time.Time) *protocol.Message {
	now = now.UTC()
	m := protocol.NewMessage("0200")
	m.Set(protocol.FieldPAN, a.PAN)
	m.Set(protocol.FieldProcessingCode, "000000")
	m.Set(protocol.FieldAmount, fmt.Sprintf("%012d", a.AmountMinor))
	m.Set(protocol.FieldTransmissionDateTime, protocol.FormatTransmissionTime(now))
	m.Set(protocol.FieldSTAN, stan)
	m.Set(protocol.FieldLocalTime, now.Format("150405"))
	m.Set(protocol.FieldLocalDate, now.Format("0102"))
	if a.Expiry != "" {
		m.Set(protocol.FieldExpirationDate, a.Expiry)
	}
	if a.MerchantType != "" {
		m.Set(protocol.FieldMerchantType, a.MerchantType)
	}
	m.Set(protocol.FieldPOSEntryMode, "051")
	m.Set(protocol.FieldPOSConditionCode, "00")
	if a.Acquirer != "" {
		m.Set(protocol.FieldAcquiringInstitution, a.Acquirer)
	}
	if a.Forwarder != "" {
		m.Set(protocol.FieldForwardingInstitution, a.Forwarder)
	}
	if a.Expiry != "" {
		track2 := a.PAN + "D" + a.Expiry + "206000007310000"
		m.Set(protocol.FieldTrack2, track2[:min(len(track2), 37)])
	}
	m.Set(protocol.FieldRRN, now.Format("0102")+stan+"00")
	m.Set(protocol.FieldTerminalID, a.TerminalID)
	m.Set(protocol.FieldMerchantID, a.MerchantID)
	if a.Location != "" {
		m.Set(protocol.FieldMerchantLocation, a.Location)
	}
	m.Set(protocol.FieldCurrencyCode, a.Currency)
	return m
}

// EchoRequest builds an 0800 echo test
func EchoRequest(stan string, now time.Time) *protocol.Message {
	m := protocol.NewMessage("0800")
	m.Set(protocol.FieldTransmissionDateTime, protocol.FormatTransmissionTime(now.UTC()))
	m.Set(protocol.FieldSTAN, stan)
	m.Set(protocol.FieldNetworkMgmtCode, "001")
	return m
}

// STANCounter hands out trace numbers 000001..999999, wrapping around.
// It is safe for concurrent use.
type STANCounter struct {
	n atomic.Uint64
}

// Next returns the next trace number
func (c *STANCounter) Next() string {
	n := c.n.Add(1)
	return fmt.Sprintf("%06d", (n-1)%999999+1)
}
