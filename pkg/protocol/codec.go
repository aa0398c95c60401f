package protocol

import "fmt"

// FieldTrace describes one step of an unpack. Err is set on the step that
// stopped decoding.
type FieldTrace struct {
	Field    int
	Offset   int
	Consumed int
	Value    string
	Err      error
}

// TraceFunc receives unpack steps in wire order
type TraceFunc func(FieldTrace)

// Codec packs and unpacks messages using a field registry. A Codec holds no
// mutable state and may be shared between sessions.
type Codec struct {
	registry *Registry
}

// NewCodec creates a codec over registry
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Registry returns the codec's field registry
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Pack encodes a message: MTI, bitmap(s), then present fields ascending.
func (c *Codec) Pack(m *Message) ([]byte, error) {
	if !validMTI(m.MTI) {
		return nil, &FieldError{Op: "pack", Field: 0, Offset: 0, Err: fmt.Errorf("%w: %q", ErrInvalidMTI, m.MTI)}
	}

	fields := m.Fields()
	for _, n := range fields {
		if _, ok := c.registry.Describe(n); !ok {
			return nil, &FieldError{Op: "pack", Field: n, Offset: 0, Err: ErrUnsupportedField}
		}
	}

	bitmap := m.Bitmap()
	buf := make([]byte, 0, MTILength+bitmap.Size()+len(fields)*8)
	buf = append(buf, m.MTI...)
	buf = append(buf, bitmap.Bytes()...)

	for _, n := range fields {
		spec, _ := c.registry.Describe(n)
		offset := len(buf)
		var err error
		buf, err = EncodeField(buf, spec, m.fields[n])
		if err != nil {
			return nil, &FieldError{Op: "pack", Field: n, Offset: offset, Err: err}
		}
	}
	return buf, nil
}

// Unpack decodes a message. It stops at the first failure and returns no
// partial message.
func (c *Codec) Unpack(data []byte) (*Message, error) {
	return c.UnpackTrace(data, nil)
}

// UnpackTrace decodes a message and reports every step to trace.
func (c *Codec) UnpackTrace(data []byte, trace TraceFunc) (*Message, error) {
	emit := func(ft FieldTrace) {
		if trace != nil {
			trace(ft)
		}
	}
	fail := func(field, offset int, err error) (*Message, error) {
		fe := &FieldError{Op: "unpack", Field: field, Offset: offset, Err: err}
		emit(FieldTrace{Field: field, Offset: offset, Err: fe})
		return nil, fe
	}

	if len(data) < MTILength {
		return fail(0, 0, fmt.Errorf("%w: need %d MTI bytes, have %d", ErrUnexpectedEndOfBuffer, MTILength, len(data)))
	}
	mti := string(data[:MTILength])
	if !validMTI(mti) {
		return fail(0, 0, fmt.Errorf("%w: %q", ErrInvalidMTI, mti))
	}
	emit(FieldTrace{Field: 0, Offset: 0, Consumed: MTILength, Value: mti})
	offset := MTILength

	var bitmap Bitmap
	if len(data)-offset < BitmapBlockSize {
		return fail(1, offset, fmt.Errorf("%w: primary bitmap", ErrUnexpectedEndOfBuffer))
	}
	copy(bitmap[:BitmapBlockSize], data[offset:offset+BitmapBlockSize])
	if bitmap.HasSecondary() {
		if len(data)-offset < 2*BitmapBlockSize {
			return fail(1, offset, fmt.Errorf("%w: secondary bitmap", ErrUnexpectedEndOfBuffer))
		}
		copy(bitmap[BitmapBlockSize:], data[offset+BitmapBlockSize:offset+2*BitmapBlockSize])
	}
	emit(FieldTrace{Field: 1, Offset: offset, Consumed: bitmap.Size(), Value: bitmap.String()})
	offset += bitmap.Size()

	msg := NewMessage(mti)
	for _, n := range bitmap.Fields() {
		spec, ok := c.registry.Describe(n)
		if !ok {
			return fail(n, offset, ErrUnsupportedField)
		}
		value, consumed, err := DecodeField(spec, data, offset)
		if err != nil {
			return fail(n, offset, err)
		}
		emit(FieldTrace{Field: n, Offset: offset, Consumed: consumed, Value: value})
		msg.fields[n] = value
		offset += consumed
	}
	return msg, nil
}

func validMTI(mti string) bool {
	return len(mti) == MTILength && invalidByte(CharsetNumeric, mti) < 0
}
