package server

import (
	"bytes"
	"fmt"
	"log"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

// rawPreviewBytes limits the hex preview of a frame
const rawPreviewBytes = 64

// DiagnosticsFactory creates the diagnostics sink of a new session
type DiagnosticsFactory func(sessionID uint64, remoteAddr string) *Diagnostics

// Diagnostics dumps the first decoded message of a connection: raw length and
// hex preview, the per-field unpack trace and a field dump. Decode failures
// are reported every time.
type Diagnostics struct {
	logger  *log.Logger
	emitted bool
}

// NewDiagnostics creates a sink writing to logger
func NewDiagnostics(logger *log.Logger) *Diagnostics {
	return &Diagnostics{logger: logger}
}

// LogDiagnostics is the default factory, writing to the standard logger with
// a per-session prefix
func LogDiagnostics(sessionID uint64, remoteAddr string) *Diagnostics {
	prefix := fmt.Sprintf("[session %d %s] ", sessionID, remoteAddr)
	return NewDiagnostics(log.New(log.Writer(), prefix, log.LstdFlags))
}

// Pending reports whether the one-shot dump has not been written yet
func (d *Diagnostics) Pending() bool {
	return !d.emitted
}

// Emit writes the dump for a successfully decoded frame. Only the first call
// has an effect.
func (d *Diagnostics) Emit(raw []byte, trace []protocol.FieldTrace, m *protocol.Message) {
	if d.emitted {
		return
	}
	d.emitted = true

	var buf bytes.Buffer
	writeRaw(&buf, raw)
	writeTrace(&buf, trace)
	protocol.Dump(&buf, m)
	d.logger.Printf("first message on connection\n%s", buf.String())
}

// Failure reports a frame that could not be decoded with the trace up to the
// failing field
func (d *Diagnostics) Failure(raw []byte, trace []protocol.FieldTrace, err error) {
	var buf bytes.Buffer
	writeRaw(&buf, raw)
	writeTrace(&buf, trace)
	d.logger.Printf("decode failed: %v\n%s", err, buf.String())
}

func writeRaw(buf *bytes.Buffer, raw []byte) {
	fmt.Fprintf(buf, "RAW len=%d hex[0:%d]=%s\n", len(raw), min(len(raw), rawPreviewBytes), protocol.HexPreview(raw, rawPreviewBytes))
}

func writeTrace(buf *bytes.Buffer, trace []protocol.FieldTrace) {
	for _, t := range trace {
		if t.Err != nil {
			fmt.Fprintf(buf, "TRACE field=%d offset=%d FAILED: %v\n", t.Field, t.Offset, t.Err)
			continue
		}
		fmt.Fprintf(buf, "TRACE field=%d offset=%d len=%d value=%s\n", t.Field, t.Offset, t.Consumed, protocol.Printable(t.Value))
	}
}
