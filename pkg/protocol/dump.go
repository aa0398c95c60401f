package protocol

import (
	"fmt"
	"io"
	"strings"
)

// HighlightedFields are the data elements called out at the end of a dump
var HighlightedFields = []struct {
	Field int
	Name  string
}{
	{FieldMerchantType, "Merchant Category Code"},
	{FieldPOSEntryMode, "POS Entry Mode"},
	{FieldPOSConditionCode, "POS Condition Code"},
	{FieldAcquiringInstitution, "Acquiring Institution ID"},
	{FieldForwardingInstitution, "Forwarding Institution ID"},
	{FieldTrack2, "Track 2"},
	{FieldTerminalID, "Terminal ID"},
	{FieldMerchantID, "Merchant ID"},
	{FieldMerchantLocation, "Merchant Name/Location"},
	{FieldCurrencyCode, "Currency Code"},
}

// Dump writes the MTI, the presence list, every field value with its length
// and the highlighted fields.
func Dump(w io.Writer, m *Message) {
	fmt.Fprintln(w, "---- ISO DEBUG DUMP ----")
	fmt.Fprintf(w, "MTI: %s\n", m.MTI)

	fields := m.Fields()
	set := make([]int, 0, len(fields)+1)
	if m.Bitmap().HasSecondary() {
		set = append(set, 1)
	}
	set = append(set, fields...)
	fmt.Fprintf(w, "Set bits: %v\n", set)

	for _, n := range fields {
		v := m.fields[n]
		fmt.Fprintf(w, "F%-3d: %s (len=%d)\n", n, Printable(v), len(v))
	}

	for _, h := range HighlightedFields {
		if v, ok := m.Get(h.Field); ok {
			fmt.Fprintf(w, ">> F%-3d (%s): %s\n", h.Field, h.Name, Printable(v))
		} else {
			fmt.Fprintf(w, ">> F%-3d (%s): <not present>\n", h.Field, h.Name)
		}
	}
	fmt.Fprintln(w, "---- END ISO DEBUG DUMP ----")
}

// Printable escapes bytes outside printable ASCII as \xNN
func Printable(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c <= 0x7E {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "\\x%02X", c)
		}
	}
	return sb.String()
}

// HexPreview returns the upper-case hex of at most limit leading bytes
func HexPreview(data []byte, limit int) string {
	if len(data) < limit {
		limit = len(data)
	}
	return fmt.Sprintf("%X", data[:limit])
}
