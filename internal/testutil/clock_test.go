package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	c := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())

	start := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start, NewManualClock(start).Now())
}

func TestManualClock_AdvanceMovesTime(t *testing.T) {
	c := NewManualClock(time.Time{})
	c.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), c.Now())
}

func TestManualClock_FiresDueTimersOnly(t *testing.T) {
	c := NewManualClock(time.Time{})

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "five") })

	c.Advance(time.Second)
	assert.Empty(t, fired)
	assert.Equal(t, 2, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, []string{"two"}, fired)
	assert.Equal(t, 1, c.Pending())

	c.Advance(10 * time.Second)
	assert.Equal(t, []string{"two", "five"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestManualClock_DeadlineOrderAndTies(t *testing.T) {
	c := NewManualClock(time.Time{})

	var fired []string
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "first") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "second") })

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"first", "second", "late"}, fired)
}

func TestManualClock_CallbackSeesDeadline(t *testing.T) {
	c := NewManualClock(time.Time{})

	var seen time.Time
	c.AfterFunc(2*time.Second, func() { seen = c.Now() })
	c.Advance(time.Minute)

	assert.Equal(t, Epoch.Add(2*time.Second), seen)
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())
}

func TestManualClock_StopPreventsFiring(t *testing.T) {
	c := NewManualClock(time.Time{})

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports already stopped")

	c.Advance(time.Hour)
	assert.False(t, fired)
}

func TestManualClock_StopAfterFire(t *testing.T) {
	c := NewManualClock(time.Time{})
	timer := c.AfterFunc(time.Second, func() {})

	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestManualClock_CallbackMaySchedule(t *testing.T) {
	c := NewManualClock(time.Time{})

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock(time.Time{})
	const goroutines = 50

	var mu sync.Mutex
	fired := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AfterFunc(time.Second, func() {
				mu.Lock()
				fired++
				mu.Unlock()
			})
			_ = c.Now()
		}()
	}
	wg.Wait()

	c.Advance(time.Second)
	assert.Equal(t, goroutines, fired)
}
