package inspect

import (
	"fmt"
	"time"

	"github.com/aeolun/fraudengine/pkg/fraud"
	"github.com/aeolun/fraudengine/pkg/protocol"
)

// MessageSummary is a one-line view of a decoded message
type MessageSummary struct {
	Time     time.Time `json:"time,omitzero" yaml:"time,omitempty" table:"TIME"`
	Src      string    `json:"src,omitempty" yaml:"src,omitempty" table:"SRC"`
	Dst      string    `json:"dst,omitempty" yaml:"dst,omitempty" table:"DST"`
	MTI      string    `json:"mti" yaml:"mti" table:"MTI"`
	STAN     string    `json:"stan,omitempty" yaml:"stan,omitempty" table:"STAN"`
	PAN      string    `json:"pan,omitempty" yaml:"pan,omitempty" table:"PAN"`
	Amount   string    `json:"amount,omitempty" yaml:"amount,omitempty" table:"AMOUNT"`
	Response string    `json:"response_code,omitempty" yaml:"response_code,omitempty" table:"RC"`
	Fields   int       `json:"fields" yaml:"fields" table:"FIELDS"`
	Error    string    `json:"error,omitempty" yaml:"error,omitempty" table:"ERROR"`
}

// FieldRow is one data element of a decoded message
type FieldRow struct {
	Field       int    `json:"field" yaml:"field" table:"FIELD"`
	Description string `json:"description" yaml:"description" table:"DESCRIPTION"`
	Value       string `json:"value" yaml:"value" table:"VALUE"`
}

// Summarize decodes payload. Decode errors are reported in the summary.
func Summarize(codec *protocol.Codec, payload []byte) MessageSummary {
	m, err := codec.Unpack(payload)
	if err != nil {
		return MessageSummary{Error: err.Error()}
	}
	return SummarizeMessage(m)
}

// SummarizeMessage builds the summary of a decoded message. The PAN is masked.
func SummarizeMessage(m *protocol.Message) MessageSummary {
	s := MessageSummary{
		MTI:      m.MTI,
		STAN:     m.Value(protocol.FieldSTAN),
		Response: m.Value(protocol.FieldResponseCode),
		Fields:   m.Len(),
	}

	pan := m.Value(protocol.FieldPAN)
	if pan == "" {
		pan = protocol.ExtractPAN(m.Value(protocol.FieldTrack2))
	}
	s.PAN = fraud.MaskPAN(pan)

	if de4, ok := m.Get(protocol.FieldAmount); ok {
		minor := protocol.ParseAmountMinor(de4)
		s.Amount = fmt.Sprintf("%d.%02d", minor/100, minor%100)
		if cur := protocol.CurrencyAlpha(m.Value(protocol.FieldCurrencyCode)); cur != "" {
			s.Amount += " " + cur
		}
	}
	return s
}

// SummarizeCapture summarizes captured frames in capture order
func SummarizeCapture(codec *protocol.Codec, frames []CapturedFrame) []MessageSummary {
	out := make([]MessageSummary, 0, len(frames))
	for _, f := range frames {
		s := Summarize(codec, f.Payload)
		s.Time = f.Timestamp
		s.Src = f.Src
		s.Dst = f.Dst
		out = append(out, s)
	}
	return out
}

// FieldRows lists the data elements of m in ascending order, described from
// registry
func FieldRows(registry *protocol.Registry, m *protocol.Message) []FieldRow {
	rows := make([]FieldRow, 0, m.Len())
	for _, n := range m.Fields() {
		row := FieldRow{Field: n, Value: protocol.Printable(m.Value(n))}
		if spec, ok := registry.Describe(n); ok {
			row.Description = spec.Description
		}
		rows = append(rows, row)
	}
	return rows
}
