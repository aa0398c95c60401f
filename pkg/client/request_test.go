package client

import (
	"sync"
	"testing"
	"time"

	"github.com/aeolun/fraudengine/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationMessage(t *testing.T) {
	now := time.Date(2026, 1, 9, 10, 37, 58, 0, time.UTC)
	auth := DefaultAuthorization()
	auth.AmountMinor = 10000000

	m := auth.Message("030388", now)
	assert.Equal(t, "0200", m.MTI)
	assert.Equal(t, "000010000000", m.Value(protocol.FieldAmount))
	assert.Equal(t, "0109103758", m.Value(protocol.FieldTransmissionDateTime))
	assert.Equal(t, "010903038800", m.Value(protocol.FieldRRN))
	assert.Equal(t, auth.PAN, protocol.ExtractPAN(m.Value(protocol.FieldTrack2)))

	data, err := testCodec.Pack(m)
	require.NoError(t, err)
	back, err := testCodec.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, m.Fields(), back.Fields())
}

func TestAuthorizationLongPANTrack2Fits(t *testing.T) {
	auth := DefaultAuthorization()
	auth.PAN = "5284971100131851234"

	m := auth.Message("000001", time.Now())
	assert.LessOrEqual(t, len(m.Value(protocol.FieldTrack2)), 37)
	_, err := testCodec.Pack(m)
	assert.NoError(t, err)
}

func TestSTANCounter(t *testing.T) {
	var c STANCounter
	assert.Equal(t, "000001", c.Next())
	assert.Equal(t, "000002", c.Next())

	c.n.Store(999998)
	assert.Equal(t, "999999", c.Next())
	assert.Equal(t, "000001", c.Next(), "wraps after 999999")

	var wg sync.WaitGroup
	seen := sync.Map{}
	var fresh STANCounter
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, dup := seen.LoadOrStore(fresh.Next(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}
