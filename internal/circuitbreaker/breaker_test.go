package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosedCircuitAllows(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	assert.True(t, b.Allow("sui_getTransactionBlock"))
}

func TestTripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("sui_getCoins")
	b.RecordFailure("sui_getCoins")
	assert.True(t, b.Allow("sui_getCoins"), "below threshold, still closed")

	b.RecordFailure("sui_getCoins")
	assert.False(t, b.Allow("sui_getCoins"))
	assert.Equal(t, StateOpen, b.State("sui_getCoins"))
}

func TestOpenAdmitsOneProbeAfterCoolDown(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("unsafe_pay")
	b.RecordFailure("unsafe_pay")
	require.False(t, b.Allow("unsafe_pay"))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, b.Allow("unsafe_pay"), "cool-down elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.State("unsafe_pay"))
	assert.False(t, b.Allow("unsafe_pay"), "only one probe at a time")
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("unsafe_pay")
	b.RecordFailure("unsafe_pay")
	time.Sleep(60 * time.Millisecond)
	require.True(t, b.Allow("unsafe_pay"))

	b.RecordSuccess("unsafe_pay")
	assert.Equal(t, StateClosed, b.State("unsafe_pay"))
	assert.True(t, b.Allow("unsafe_pay"))
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("unsafe_pay")
	b.RecordFailure("unsafe_pay")
	time.Sleep(60 * time.Millisecond)
	require.True(t, b.Allow("unsafe_pay"))

	b.RecordFailure("unsafe_pay")
	assert.Equal(t, StateOpen, b.State("unsafe_pay"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("sui_getObject")
	b.RecordFailure("sui_getObject")
	b.RecordSuccess("sui_getObject")

	b.RecordFailure("sui_getObject")
	assert.True(t, b.Allow("sui_getObject"), "counter was reset")
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("sui_getCoins")
	b.RecordFailure("sui_getCoins")

	assert.False(t, b.Allow("sui_getCoins"))
	assert.True(t, b.Allow("sui_getTransactionBlock"))
}

func TestUnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	assert.Equal(t, StateClosed, b.State("never_called"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
