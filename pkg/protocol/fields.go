package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the wire encoding of a data element.
type Kind uint8

const (
	KindFixedNumeric Kind = iota + 1 // N digits, left zero-padded
	KindFixedAlpha                   // N bytes, right space-padded
	KindLLNumeric                    // 2-digit length prefix, digits
	KindLLChar                       // 2-digit length prefix, printable ASCII
	KindLLLNumeric                   // 3-digit length prefix, digits
	KindLLLChar                      // 3-digit length prefix, printable ASCII
)

// String returns the conventional packager name for the kind
func (k Kind) String() string {
	switch k {
	case KindFixedNumeric:
		return "NUMERIC"
	case KindFixedAlpha:
		return "CHAR"
	case KindLLNumeric:
		return "LLNUM"
	case KindLLChar:
		return "LLCHAR"
	case KindLLLNumeric:
		return "LLLNUM"
	case KindLLLChar:
		return "LLLCHAR"
	default:
		return "UNDEFINED"
	}
}

// Charset restricts the bytes a data element may carry.
type Charset uint8

const (
	CharsetNumeric      Charset = iota + 1 // 0-9
	CharsetAlphanumeric                    // printable ASCII 0x20-0x7E
	CharsetTrack2                          // 0-9 plus the D and = separators
)

// FieldSpec describes how one data element is encoded. Specs are values and
// are never modified after the registry is built.
type FieldSpec struct {
	Number      int
	Kind        Kind
	Length      int // exact length for fixed kinds, maximum for variable kinds
	Charset     Charset
	Description string
}

// Fixed reports whether the element has a fixed width on the wire
func (s FieldSpec) Fixed() bool {
	return s.Kind == KindFixedNumeric || s.Kind == KindFixedAlpha
}

// PrefixDigits returns the number of ASCII length digits preceding a
// variable element, or 0 for fixed elements.
func (s FieldSpec) PrefixDigits() int {
	switch s.Kind {
	case KindLLNumeric, KindLLChar:
		return 2
	case KindLLLNumeric, KindLLLChar:
		return 3
	default:
		return 0
	}
}

// MaxLength is the longest value the element can carry, bounded by the
// capacity of its length prefix.
func (s FieldSpec) MaxLength() int {
	switch s.PrefixDigits() {
	case 2:
		return min(s.Length, 99)
	case 3:
		return min(s.Length, 999)
	default:
		return s.Length
	}
}

func (s FieldSpec) String() string {
	return fmt.Sprintf("F%d %s(%d) %s", s.Number, s.Kind, s.Length, s.Description)
}

// EncodeField appends the wire form of value to dst.
func EncodeField(dst []byte, spec FieldSpec, value string) ([]byte, error) {
	if len(value) > spec.MaxLength() {
		return dst, fmt.Errorf("%w: length %d exceeds %d", ErrFieldTooLong, len(value), spec.MaxLength())
	}
	if i := invalidByte(spec.Charset, value); i >= 0 {
		return dst, fmt.Errorf("%w: byte 0x%02X at position %d", ErrInvalidCharacter, value[i], i)
	}

	switch spec.Kind {
	case KindFixedNumeric:
		dst = append(dst, strings.Repeat("0", spec.Length-len(value))...)
		dst = append(dst, value...)
	case KindFixedAlpha:
		dst = append(dst, value...)
		dst = append(dst, strings.Repeat(" ", spec.Length-len(value))...)
	case KindLLNumeric, KindLLChar, KindLLLNumeric, KindLLLChar:
		prefix := strconv.Itoa(len(value))
		dst = append(dst, strings.Repeat("0", spec.PrefixDigits()-len(prefix))...)
		dst = append(dst, prefix...)
		dst = append(dst, value...)
	default:
		return dst, ErrUnsupportedField
	}
	return dst, nil
}

// DecodeField decodes one element starting at data[offset]. It returns the
// logical value and the number of bytes consumed.
func DecodeField(spec FieldSpec, data []byte, offset int) (string, int, error) {
	remaining := len(data) - offset
	if remaining < 0 {
		remaining = 0
	}

	var value string
	consumed := 0

	switch spec.Kind {
	case KindFixedNumeric, KindFixedAlpha:
		if remaining < spec.Length {
			return "", 0, fmt.Errorf("%w: need %d bytes, have %d", ErrUnexpectedEndOfBuffer, spec.Length, remaining)
		}
		value = string(data[offset : offset+spec.Length])
		consumed = spec.Length
	case KindLLNumeric, KindLLChar, KindLLLNumeric, KindLLLChar:
		digits := spec.PrefixDigits()
		if remaining < digits {
			return "", 0, fmt.Errorf("%w: need %d length digits, have %d", ErrUnexpectedEndOfBuffer, digits, remaining)
		}
		prefix := string(data[offset : offset+digits])
		if invalidByte(CharsetNumeric, prefix) >= 0 {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidLengthPrefix, prefix)
		}
		n, _ := strconv.Atoi(prefix)
		if n > spec.MaxLength() {
			return "", 0, fmt.Errorf("%w: declared length %d exceeds %d", ErrFieldTooLong, n, spec.MaxLength())
		}
		if remaining-digits < n {
			return "", 0, fmt.Errorf("%w: declared length %d, have %d", ErrUnexpectedEndOfBuffer, n, remaining-digits)
		}
		value = string(data[offset+digits : offset+digits+n])
		consumed = digits + n
	default:
		return "", 0, ErrUnsupportedField
	}

	if i := invalidByte(spec.Charset, value); i >= 0 {
		return "", 0, fmt.Errorf("%w: byte 0x%02X at position %d", ErrInvalidCharacter, value[i], i)
	}
	if spec.Kind == KindFixedAlpha {
		value = strings.TrimRight(value, " ")
	}
	return value, consumed, nil
}

// invalidByte returns the index of the first byte outside the charset, or -1.
func invalidByte(cs Charset, s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch cs {
		case CharsetNumeric:
			if c < '0' || c > '9' {
				return i
			}
		case CharsetTrack2:
			if (c < '0' || c > '9') && c != 'D' && c != '=' {
				return i
			}
		default:
			if c < 0x20 || c > 0x7E {
				return i
			}
		}
	}
	return -1
}

// Registry maps field numbers to their specs. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	fields [MaxField + 1]FieldSpec
}

// NewRegistry builds a registry from specs. Later specs for the same number
// replace earlier ones.
func NewRegistry(specs ...FieldSpec) (*Registry, error) {
	r := &Registry{}
	for _, spec := range specs {
		if spec.Number < 2 || spec.Number > MaxField {
			return nil, fmt.Errorf("field %d: %w", spec.Number, ErrUnsupportedField)
		}
		if spec.Kind < KindFixedNumeric || spec.Kind > KindLLLChar {
			return nil, fmt.Errorf("field %d: unknown kind %d", spec.Number, spec.Kind)
		}
		if spec.Length <= 0 {
			return nil, fmt.Errorf("field %d: invalid length %d", spec.Number, spec.Length)
		}
		r.fields[spec.Number] = spec
	}
	return r, nil
}

// Describe returns the spec for a field number.
func (r *Registry) Describe(field int) (FieldSpec, bool) {
	if field < 2 || field > MaxField {
		return FieldSpec{}, false
	}
	spec := r.fields[field]
	return spec, spec.Kind != 0
}

// Specs returns every defined spec in ascending field order
func (r *Registry) Specs() []FieldSpec {
	specs := make([]FieldSpec, 0, MaxField)
	for n := 2; n <= MaxField; n++ {
		if r.fields[n].Kind != 0 {
			specs = append(specs, r.fields[n])
		}
	}
	return specs
}

func num(n, length int, desc string) FieldSpec {
	return FieldSpec{Number: n, Kind: KindFixedNumeric, Length: length, Charset: CharsetNumeric, Description: desc}
}

func char(n, length int, desc string) FieldSpec {
	return FieldSpec{Number: n, Kind: KindFixedAlpha, Length: length, Charset: CharsetAlphanumeric, Description: desc}
}

func llnum(n, max int, desc string) FieldSpec {
	return FieldSpec{Number: n, Kind: KindLLNumeric, Length: max, Charset: CharsetNumeric, Description: desc}
}

func llchar(n, max int, desc string) FieldSpec {
	return FieldSpec{Number: n, Kind: KindLLChar, Length: max, Charset: CharsetAlphanumeric, Description: desc}
}

func lllchar(n, max int, desc string) FieldSpec {
	return FieldSpec{Number: n, Kind: KindLLLChar, Length: max, Charset: CharsetAlphanumeric, Description: desc}
}

// iso87ASCII is the ISO 8583:1987 catalogue with ASCII data elements and a
// binary bitmap. Binary elements (PIN block, MACs) travel as hex text.
var iso87ASCII = []FieldSpec{
	llnum(2, 19, "Primary Account Number"),
	num(3, 6, "Processing Code"),
	num(4, 12, "Amount, Transaction"),
	num(5, 12, "Amount, Settlement"),
	num(6, 12, "Amount, Cardholder Billing"),
	num(7, 10, "Transmission Date and Time"),
	num(8, 8, "Amount, Cardholder Billing Fee"),
	num(9, 8, "Conversion Rate, Settlement"),
	num(10, 8, "Conversion Rate, Cardholder Billing"),
	num(11, 6, "System Trace Audit Number"),
	num(12, 6, "Time, Local Transaction"),
	num(13, 4, "Date, Local Transaction"),
	num(14, 4, "Date, Expiration"),
	num(15, 4, "Date, Settlement"),
	num(16, 4, "Date, Conversion"),
	num(17, 4, "Date, Capture"),
	num(18, 4, "Merchant Category Code"),
	num(19, 3, "Acquiring Institution Country Code"),
	num(20, 3, "PAN Extended Country Code"),
	num(21, 3, "Forwarding Institution Country Code"),
	num(22, 3, "POS Entry Mode"),
	num(23, 3, "Card Sequence Number"),
	num(24, 3, "Network International Identifier"),
	num(25, 2, "POS Condition Code"),
	num(26, 2, "POS PIN Capture Code"),
	num(27, 1, "Authorization Identification Response Length"),
	char(28, 9, "Amount, Transaction Fee"),
	char(29, 9, "Amount, Settlement Fee"),
	char(30, 9, "Amount, Transaction Processing Fee"),
	char(31, 9, "Amount, Settlement Processing Fee"),
	llnum(32, 11, "Acquiring Institution ID"),
	llchar(33, 11, "Forwarding Institution ID"),
	llchar(34, 28, "PAN Extended"),
	{Number: 35, Kind: KindLLNumeric, Length: 37, Charset: CharsetTrack2, Description: "Track 2 Data"},
	lllchar(36, 104, "Track 3 Data"),
	char(37, 12, "Retrieval Reference Number"),
	char(38, 6, "Authorization Identification Response"),
	char(39, 2, "Response Code"),
	char(40, 3, "Service Restriction Code"),
	char(41, 8, "Terminal ID"),
	char(42, 15, "Card Acceptor ID"),
	char(43, 40, "Card Acceptor Name/Location"),
	llchar(44, 25, "Additional Response Data"),
	llchar(45, 76, "Track 1 Data"),
	lllchar(46, 999, "Additional Data - ISO"),
	lllchar(47, 999, "Additional Data - National"),
	lllchar(48, 999, "Additional Data - Private"),
	num(49, 3, "Currency Code, Transaction"),
	char(50, 3, "Currency Code, Settlement"),
	char(51, 3, "Currency Code, Cardholder Billing"),
	char(52, 16, "PIN Data"),
	num(53, 16, "Security Related Control Information"),
	lllchar(54, 120, "Additional Amounts"),
	lllchar(55, 999, "ICC Data"),
	lllchar(56, 999, "Original Data Elements"),
	lllchar(57, 999, "Reserved National"),
	lllchar(58, 999, "Authorizing Agent Institution ID"),
	lllchar(59, 999, "Reserved National"),
	lllchar(60, 999, "Reserved National"),
	lllchar(61, 999, "Reserved Private"),
	lllchar(62, 999, "Reserved Private"),
	lllchar(63, 999, "Reserved Private"),
	char(64, 16, "Message Authentication Code"),
	char(65, 1, "Bitmap, Extended"),
	num(66, 1, "Settlement Code"),
	num(67, 2, "Extended Payment Code"),
	num(68, 3, "Receiving Institution Country Code"),
	num(69, 3, "Settlement Institution Country Code"),
	num(70, 3, "Network Management Information Code"),
	num(71, 4, "Message Number"),
	num(72, 4, "Message Number, Last"),
	num(73, 6, "Date, Action"),
	num(74, 10, "Credits, Number"),
	num(75, 10, "Credits Reversal, Number"),
	num(76, 10, "Debits, Number"),
	num(77, 10, "Debits Reversal, Number"),
	num(78, 10, "Transfer, Number"),
	num(79, 10, "Transfer Reversal, Number"),
	num(80, 10, "Inquiries, Number"),
	num(81, 10, "Authorizations, Number"),
	num(82, 12, "Credits, Processing Fee Amount"),
	num(83, 12, "Credits, Transaction Fee Amount"),
	num(84, 12, "Debits, Processing Fee Amount"),
	num(85, 12, "Debits, Transaction Fee Amount"),
	num(86, 16, "Credits, Amount"),
	num(87, 16, "Credits Reversal, Amount"),
	num(88, 16, "Debits, Amount"),
	num(89, 16, "Debits Reversal, Amount"),
	num(90, 42, "Original Data Elements"),
	char(91, 1, "File Update Code"),
	char(92, 2, "File Security Code"),
	char(93, 5, "Response Indicator"),
	char(94, 7, "Service Indicator"),
	char(95, 42, "Replacement Amounts"),
	char(96, 16, "Message Security Code"),
	char(97, 17, "Amount, Net Settlement"),
	char(98, 25, "Payee"),
	llchar(99, 11, "Settlement Institution ID"),
	llnum(100, 11, "Receiving Institution ID"),
	llchar(101, 17, "File Name"),
	llchar(102, 28, "Account ID 1"),
	llchar(103, 28, "Account ID 2"),
	lllchar(104, 100, "Transaction Description"),
	lllchar(105, 999, "Reserved ISO"),
	lllchar(106, 999, "Reserved ISO"),
	lllchar(107, 999, "Reserved ISO"),
	lllchar(108, 999, "Reserved ISO"),
	lllchar(109, 999, "Reserved ISO"),
	lllchar(110, 999, "Reserved ISO"),
	lllchar(111, 999, "Reserved ISO"),
	lllchar(112, 999, "Reserved National"),
	lllchar(113, 999, "Reserved National"),
	lllchar(114, 999, "Reserved National"),
	lllchar(115, 999, "Reserved National"),
	lllchar(116, 999, "Reserved National"),
	lllchar(117, 999, "Reserved National"),
	lllchar(118, 999, "Reserved National"),
	lllchar(119, 999, "Reserved National"),
	lllchar(120, 999, "Reserved Private"),
	lllchar(121, 999, "Reserved Private"),
	lllchar(122, 999, "Reserved Private"),
	lllchar(123, 999, "Reserved Private"),
	lllchar(124, 999, "Reserved Private"),
	lllchar(125, 999, "Reserved Private"),
	lllchar(126, 999, "Reserved Private"),
	lllchar(127, 999, "Reserved Private"),
	char(128, 16, "Message Authentication Code"),
}

// DefaultRegistry returns the ISO87 ASCII catalogue used by the listener.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(iso87ASCII...)
	if err != nil {
		panic(err)
	}
	return r
}
