package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiterBurst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newLimiter(10, 3, clock.Now)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst should be exhausted")
}

func TestLimiterRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newLimiter(10, 1, clock.Now)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, 100*time.Millisecond, l.Delay())

	clock.Advance(50 * time.Millisecond)
	assert.False(t, l.Allow())

	clock.Advance(50 * time.Millisecond)
	assert.True(t, l.Allow())
}

func TestLimiterNeverExceedsBurst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newLimiter(100, 2, clock.Now)

	clock.Advance(time.Hour)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiterDelay(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newLimiter(2, 1, clock.Now)

	assert.Equal(t, time.Duration(0), l.Delay(), "a full bucket has no delay")
	assert.True(t, l.Allow())
	assert.Equal(t, 500*time.Millisecond, l.Delay())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, l.Delay())

	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, time.Duration(0), l.Delay())
	assert.True(t, l.Allow())
}

func TestLimiterZeroRateNeverRefills(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newLimiter(0, 1, clock.Now)

	assert.True(t, l.Allow())
	clock.Advance(time.Hour)
	assert.False(t, l.Allow())
	assert.Equal(t, time.Duration(0), l.Delay())
}

func TestLimiterMinimumBurst(t *testing.T) {
	l := NewLimiter(1, 0)
	assert.True(t, l.Allow())
}
