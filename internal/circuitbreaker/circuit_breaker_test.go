package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zoobzio/clockz"
)

func TestOpensAfterMaxFailures(t *testing.T) {
	clock := clockz.NewFakeClock()
	cb := NewCircuitBreaker(clock, 3, time.Minute, 2)

	cb.OnFailure()
	cb.OnFailure()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.True(t, cb.CanExecute())

	cb.OnFailure()
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.CanExecute())
}

func TestSuccessResetsFailureCountWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker(clockz.NewFakeClock(), 2, time.Minute, 1)

	cb.OnFailure()
	cb.OnSuccess()
	cb.OnFailure()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	clock := clockz.NewFakeClock()
	cb := NewCircuitBreaker(clock, 1, 30*time.Second, 2)

	cb.OnFailure()
	assert.False(t, cb.CanExecute())

	clock.Advance(29 * time.Second)
	assert.False(t, cb.CanExecute())

	clock.Advance(time.Second)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.OnSuccess()
	assert.Equal(t, StateHalfOpen, cb.GetState())
	cb.OnSuccess()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := clockz.NewFakeClock()
	cb := NewCircuitBreaker(clock, 1, time.Second, 1)

	cb.OnFailure()
	clock.Advance(time.Second)
	assert.True(t, cb.CanExecute())

	cb.OnFailure()
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.CanExecute())
}

func TestSetIsolatesGateways(t *testing.T) {
	set := NewSet(clockz.NewFakeClock(), 1, time.Minute, 1)

	set.For("stripe").OnFailure()

	assert.False(t, set.For("stripe").CanExecute())
	assert.True(t, set.For("tamara").CanExecute())
	assert.Same(t, set.For("stripe"), set.For("stripe"))

	states := set.States()
	assert.Equal(t, StateOpen, states["stripe"])
	assert.Equal(t, StateClosed, states["tamara"])
	assert.Equal(t, "open", states["stripe"].String())
}
