package protocol

import "sort"

const (
	// MaxField is the highest data element number (secondary bitmap)
	MaxField = 128

	// MTILength is the width of the ASCII message type indicator
	MTILength = 4
)

// Data elements the engine reads or writes by name
const (
	FieldPAN                   = 2
	FieldProcessingCode        = 3
	FieldAmount                = 4
	FieldTransmissionDateTime  = 7
	FieldSTAN                  = 11
	FieldLocalTime             = 12
	FieldLocalDate             = 13
	FieldExpirationDate        = 14
	FieldMerchantType          = 18
	FieldPOSEntryMode          = 22
	FieldPOSConditionCode      = 25
	FieldAcquiringInstitution  = 32
	FieldForwardingInstitution = 33
	FieldTrack2                = 35
	FieldRRN                   = 37
	FieldResponseCode          = 39
	FieldTerminalID            = 41
	FieldMerchantID            = 42
	FieldMerchantLocation      = 43
	FieldAdditionalResponse    = 44
	FieldCurrencyCode          = 49
	FieldOriginalData          = 56
	FieldNetworkMgmtCode       = 70
	FieldReservedPrivate127    = 127
)

// Message is an ISO 8583 message: an MTI and a sparse set of data elements.
// A Message is not safe for concurrent mutation.
type Message struct {
	MTI    string
	fields map[int]string
}

// NewMessage creates an empty message with the given MTI
func NewMessage(mti string) *Message {
	return &Message{
		MTI:    mti,
		fields: make(map[int]string),
	}
}

// Set stores a data element value. Validation happens on Pack.
func (m *Message) Set(field int, value string) {
	if m.fields == nil {
		m.fields = make(map[int]string)
	}
	m.fields[field] = value
}

// Get returns a data element value
func (m *Message) Get(field int) (string, bool) {
	v, ok := m.fields[field]
	return v, ok
}

// Value returns a data element value, or "" if absent
func (m *Message) Value(field int) string {
	return m.fields[field]
}

// Has reports whether a data element is present
func (m *Message) Has(field int) bool {
	_, ok := m.fields[field]
	return ok
}

// Unset removes a data element
func (m *Message) Unset(field int) {
	delete(m.fields, field)
}

// Len returns the number of present data elements
func (m *Message) Len() int {
	return len(m.fields)
}

// Fields returns the present field numbers in ascending order
func (m *Message) Fields() []int {
	nums := make([]int, 0, len(m.fields))
	for n := range m.fields {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Clone returns a deep copy
func (m *Message) Clone() *Message {
	c := NewMessage(m.MTI)
	for n, v := range m.fields {
		c.fields[n] = v
	}
	return c
}

// Bitmap derives the presence bitmap for the message
func (m *Message) Bitmap() Bitmap {
	var b Bitmap
	for n := range m.fields {
		b.Set(n)
	}
	return b
}
