package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestCircuitBreakerOpensAtThreshold tests that the breaker opens only once
// enough failures land inside the window.
func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, 30*time.Second, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	// closed again once the open period expires
	now = now.Add(61 * time.Second)
	assert.False(t, cb.IsOpen())
}

// TestCircuitBreakerWindowExpiry tests that stale failures outside the window
// do not count toward the threshold.
func TestCircuitBreakerWindowExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, 30*time.Second, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()

	now = now.Add(31 * time.Second)
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())
}

// TestCircuitBreakerSuccessResets tests that one success clears the failure
// history.
func TestCircuitBreakerSuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}

// TestCircuitBreakerNilReceiver tests that a nil breaker behaves as always
// closed.
func TestCircuitBreakerNilReceiver(t *testing.T) {
	var cb *CircuitBreaker
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
