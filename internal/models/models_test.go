package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadLimits_ValueScan(t *testing.T) {
	v, err := UploadLimits{"abc": 500}.Value()
	require.NoError(t, err)

	var out UploadLimits
	require.NoError(t, out.Scan(v))
	assert.Equal(t, int64(500), out["abc"])

	require.NoError(t, out.Scan(nil))
	assert.NotNil(t, out)
	assert.Empty(t, out)

	assert.Error(t, out.Scan(42))
}

func TestStateEvent_Overlap(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	e := OpenEvent("vps1", StateLow, start)
	e.Close(start.Add(48 * time.Hour))

	day2 := start.Add(24 * time.Hour)
	assert.Equal(t, 24*time.Hour, e.Overlap(start, day2, day2))
	assert.Equal(t, time.Duration(0), e.Overlap(start.Add(-24*time.Hour), start, day2))
	assert.Equal(t, 48*time.Hour, e.Elapsed())

	open := OpenEvent("vps1", StateLow, start)
	now := start.Add(3 * time.Hour)
	assert.True(t, open.IsOpen())
	assert.Equal(t, 3*time.Hour, open.Overlap(start, start.Add(24*time.Hour), now))
}

func TestStateFromThrottled(t *testing.T) {
	assert.Equal(t, StateLow, StateFromThrottled(true))
	assert.Equal(t, StateHigh, StateFromThrottled(false))
	assert.False(t, StateUnknown.Valid())
}
