package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", MaxRequests: 1, Timeout: time.Hour, ConsecutiveFailures: 2})
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, "closed", b.State())
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, "open", b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b := New(Config{Name: "test", MaxRequests: 1, Timeout: 20 * time.Millisecond, ConsecutiveFailures: 1})

	_ = b.Do(func() error { return errors.New("boom") })
	assert.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestIsOpen(t *testing.T) {
	assert.False(t, IsOpen(nil))
	assert.False(t, IsOpen(errors.New("other")))
}
