package inspect

import (
	"testing"

	"github.com/aeolun/fraudengine/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCodec = protocol.NewCodec(protocol.DefaultRegistry())

func authorization() *protocol.Message {
	m := protocol.NewMessage("0200")
	m.Set(3, "000000")
	m.Set(4, "000000012345")
	m.Set(7, "0109103758")
	m.Set(11, "030388")
	m.Set(35, "5284971100131851D2611206000007310000")
	m.Set(41, "BAIBG301")
	m.Set(49, "710")
	return m
}

func TestSummarize(t *testing.T) {
	data, err := testCodec.Pack(authorization())
	require.NoError(t, err)

	s := Summarize(testCodec, data)
	assert.Equal(t, "0200", s.MTI)
	assert.Equal(t, "030388", s.STAN)
	assert.Equal(t, "528497******1851", s.PAN, "masked, taken from track 2")
	assert.Equal(t, "123.45 ZAR", s.Amount)
	assert.Equal(t, 7, s.Fields)
	assert.Empty(t, s.Error)

	bad := Summarize(testCodec, data[:10])
	assert.NotEmpty(t, bad.Error)
	assert.Empty(t, bad.MTI)
}

func TestFieldRows(t *testing.T) {
	rows := FieldRows(protocol.DefaultRegistry(), authorization())
	require.Len(t, rows, 7)
	assert.Equal(t, FieldRow{Field: 3, Description: "Processing Code", Value: "000000"}, rows[0])
	assert.Equal(t, 49, rows[6].Field)
}
