package protocol

import (
	"bytes"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var (
	digitGen  = rapid.SampledFrom([]byte("0123456789"))
	track2Gen = rapid.SampledFrom([]byte("0123456789D="))
	asciiGen  = rapid.ByteRange(0x20, 0x7E)
)

// drawValue draws a value that satisfies spec
func drawValue(t *rapid.T, spec FieldSpec, label string) string {
	maxLen := min(spec.MaxLength(), 40)
	n := rapid.IntRange(0, maxLen).Draw(t, label+"-len")

	gen := asciiGen
	switch spec.Charset {
	case CharsetNumeric:
		gen = digitGen
	case CharsetTrack2:
		gen = track2Gen
	}
	value := string(rapid.SliceOfN(gen, n, n).Draw(t, label))
	if spec.Kind == KindFixedAlpha {
		// trailing spaces are indistinguishable from padding
		value = strings.TrimRight(value, " ")
	}
	return value
}

func drawMessage(t *rapid.T, registry *Registry) *Message {
	specs := registry.Specs()
	chosen := rapid.SliceOfNDistinct(rapid.SampledFrom(specs), 0, 20, func(s FieldSpec) int { return s.Number }).Draw(t, "fields")

	mti := string(rapid.SliceOfN(digitGen, 4, 4).Draw(t, "mti"))
	m := NewMessage(mti)
	for _, spec := range chosen {
		m.Set(spec.Number, drawValue(t, spec, "value"))
	}
	return m
}

// TestMessageRoundTrip tests that any valid message survives pack/unpack
func TestMessageRoundTrip(t *testing.T) {
	registry := DefaultRegistry()
	codec := NewCodec(registry)

	rapid.Check(t, func(t *rapid.T) {
		original := drawMessage(t, registry)

		data, err := codec.Pack(original)
		if err != nil {
			t.Fatalf("pack failed: %v", err)
		}

		decoded, err := codec.Unpack(data)
		if err != nil {
			t.Fatalf("unpack failed: %v", err)
		}

		if decoded.MTI != original.MTI {
			t.Fatalf("MTI mismatch: got %q, want %q", decoded.MTI, original.MTI)
		}
		if decoded.Len() != original.Len() {
			t.Fatalf("field count mismatch: got %v, want %v", decoded.Fields(), original.Fields())
		}
		for _, n := range original.Fields() {
			spec, _ := registry.Describe(n)
			want := original.Value(n)
			if spec.Kind == KindFixedNumeric {
				want = strings.Repeat("0", spec.Length-len(want)) + want
			}
			if got := decoded.Value(n); got != want {
				t.Fatalf("field %d mismatch: got %q, want %q", n, got, want)
			}
		}
	})
}

// TestBitmapSecondaryPresence tests that the secondary block appears exactly
// when a field above 64 is present
func TestBitmapSecondaryPresence(t *testing.T) {
	registry := DefaultRegistry()
	codec := NewCodec(registry)

	rapid.Check(t, func(t *rapid.T) {
		m := drawMessage(t, registry)

		data, err := codec.Pack(m)
		if err != nil {
			t.Fatalf("pack failed: %v", err)
		}

		high := false
		for _, n := range m.Fields() {
			if n > 64 {
				high = true
			}
		}
		bit1 := data[MTILength]&0x80 != 0
		if bit1 != high {
			t.Fatalf("bit 1 = %v, fields above 64 = %v (fields %v)", bit1, high, m.Fields())
		}

		var bitmap Bitmap
		copy(bitmap[:], data[MTILength:min(len(data), MTILength+2*BitmapBlockSize)])
		if got := bitmap.Fields(); !equalInts(got, m.Fields()) {
			t.Fatalf("bitmap fields %v, message fields %v", got, m.Fields())
		}
	})
}

// TestFrameRoundTrip tests that any payload up to the maximum size can be
// framed and read back
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payloadLen := rapid.IntRange(0, 4096).Draw(t, "payloadLen")
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload")

		var buf bytes.Buffer
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		decoded, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// TestUnpackNeverPanics feeds arbitrary bytes to the decoder
func TestUnpackNeverPanics(t *testing.T) {
	codec := NewCodec(DefaultRegistry())

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")
		m, err := codec.Unpack(data)
		if err == nil && m == nil {
			t.Fatalf("nil message without error")
		}
		if err != nil && m != nil {
			t.Fatalf("partial message returned with error %v", err)
		}
	})
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
