package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{
			name:    "empty payload",
			payload: []byte{},
		},
		{
			name:    "small payload",
			payload: []byte("0800 echo"),
		},
		{
			name:    "max payload size",
			payload: make([]byte, MaxFrameSize),
		},
		{
			name:    "oversized payload (should fail)",
			payload: make([]byte, MaxFrameSize+1),
			wantErr: ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := WriteFrame(buf, tt.payload)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, buf.Len(), "nothing should be written on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, FrameHeaderSize+len(tt.payload), buf.Len())

			decoded, err := ReadFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, len(tt.payload), len(decoded))
			assert.True(t, bytes.Equal(tt.payload, decoded))
		})
	}
}

func TestFrameHeaderIsBigEndian(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, make([]byte, 0x0102)))

	header := buf.Bytes()[:2]
	assert.Equal(t, []byte{0x01, 0x02}, header)
}

func TestReadFrameEndOfStream(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "closed before header", data: nil},
		{name: "one header byte", data: []byte{0x00}},
		{name: "short payload", data: []byte{0x00, 0x05, 'a', 'b'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrEndOfStream)
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestReadFramePassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := ReadFrame(failingReader{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrEndOfStream)
}

func TestReadFrameSequence(t *testing.T) {
	buf := new(bytes.Buffer)
	payloads := [][]byte{[]byte("first"), {}, []byte("third")}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(buf, p))
	}

	for _, want := range payloads {
		got, err := ReadFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}

	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

type countingWriter struct {
	writes int
	buf    bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.buf.Write(p)
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, []byte("0200payload")))
	assert.Equal(t, 1, w.writes)
}

func TestWriteFrameFlushes(t *testing.T) {
	var out bytes.Buffer
	bw := bufio.NewWriter(&out)
	require.NoError(t, WriteFrame(bw, []byte("abc")))
	assert.Equal(t, 5, out.Len(), "bufio.Writer should be flushed")

	got, err := ReadFrame(io.Reader(&out))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
