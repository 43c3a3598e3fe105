package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing() (int, error) { return 0, errors.New("down") }
func working() (int, error) { return 42, nil }

// TS01: Opens after max failures
func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker allowing 2 failures
	cb := NewCircuitBreaker("ollama", WithMaxFailures(2), WithResetTimeout(time.Hour))

	// When: two calls fail
	_, _ = CircuitExecute(cb, failing)
	_, _ = CircuitExecute(cb, failing)

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	_, err := CircuitExecute(cb, working)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

// TS02: Half-open trial closes on success
func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	// Given: an open circuit whose reset timeout has elapsed
	now := time.Now()
	cb := NewCircuitBreaker("ollama", WithMaxFailures(1), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	_, _ = CircuitExecute(cb, failing)
	require.Equal(t, StateOpen, cb.State())
	now = now.Add(2 * time.Second)

	// When: a trial call succeeds
	assert.Equal(t, StateHalfOpen, cb.State())
	v, err := CircuitExecute(cb, working)

	// Then: the circuit closes
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("ollama", WithMaxFailures(3), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		_, _ = CircuitExecute(cb, failing)
	}
	now = now.Add(2 * time.Second)

	_, err := CircuitExecute(cb, failing)

	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
