package prefs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBackend = errors.New("connection refused")

func fail() error { return errBackend }
func ok() error   { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	assert.Equal(t, BreakerClosed, b.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(fail), errBackend)
	}
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	_ = b.Do(fail)
	_ = b.Do(ok)
	_ = b.Do(fail)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return now }

	var transitions []string
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	_ = b.Do(fail)
	assert.Equal(t, BreakerOpen, b.State())

	now = now.Add(11 * time.Second)
	assert.ErrorIs(t, b.Do(fail), errBackend, "half-open trial runs and fails")
	assert.Equal(t, BreakerOpen, b.State())

	now = now.Add(11 * time.Second)
	assert.NoError(t, b.Do(ok))
	assert.Equal(t, BreakerClosed, b.State())

	assert.Equal(t, []string{
		"closed>open",
		"open>half-open", "half-open>open",
		"open>half-open", "half-open>closed",
	}, transitions)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "unknown", BreakerState(9).String())
}
