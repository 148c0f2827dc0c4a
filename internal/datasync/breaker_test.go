package datasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	b.RecordFailure("s1")
	b.RecordFailure("s1")
	assert.Equal(t, CircuitClosed, b.State("s1"))
	require.NoError(t, b.Allow("s1"))

	assert.Equal(t, CircuitOpen, b.RecordFailure("s1"))
	err := b.Allow("s1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeSyncFailed, schema.CodeOf(err))

	// Other jobs are unaffected.
	assert.NoError(t, b.Allow("s2"))
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	b.RecordFailure("s1")
	b.RecordSuccess("s1")
	b.RecordFailure("s1")
	assert.Equal(t, CircuitClosed, b.State("s1"))
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	b.RecordFailure("s1")
	assert.Error(t, b.Allow("s1"))

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("s1"))
	assert.Equal(t, CircuitHalfOpen, b.State("s1"))
	assert.Error(t, b.Allow("s1"), "only one trial run")

	// A failed trial reopens immediately.
	assert.Equal(t, CircuitOpen, b.RecordFailure("s1"))

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("s1"))
	b.RecordSuccess("s1")
	assert.Equal(t, CircuitClosed, b.State("s1"))
}

func TestBreaker_DisabledAndNil(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	for i := 0; i < 10; i++ {
		b.RecordFailure("s1")
	}
	assert.NoError(t, b.Allow("s1"))

	var nilBreaker *Breaker
	assert.NoError(t, nilBreaker.Allow("s1"))
	nilBreaker.RecordSuccess("s1")
	assert.Equal(t, CircuitClosed, nilBreaker.RecordFailure("s1"))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
