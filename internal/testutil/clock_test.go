package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock()
	assert.Equal(t, Epoch, clock.Current())
}

func TestStepClock_NowAdvancesMonotonically(t *testing.T) {
	clock := NewStepClock()

	first := clock.Now()
	assert.Equal(t, Epoch.Add(time.Millisecond), first)

	second := clock.Now()
	third := clock.Now()
	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
	assert.Equal(t, third, clock.Current())
}

func TestStepClock_Freeze(t *testing.T) {
	clock := NewStepClock()
	clock.Now()
	clock.Freeze()

	a := clock.Now()
	b := clock.Now()
	assert.Equal(t, a, b)
}

func TestStepClock_SetAndReset(t *testing.T) {
	clock := NewStepClock()
	at := time.Date(2030, time.June, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(at)
	assert.Equal(t, at.Add(time.Millisecond), clock.Now())

	clock.Freeze()
	clock.Reset()
	assert.Equal(t, Epoch, clock.Current())
	assert.Equal(t, Epoch.Add(time.Millisecond), clock.Now())
}

func TestStepClock_ConcurrentAccess(t *testing.T) {
	clock := NewStepClock()
	const goroutines = 50

	var wg sync.WaitGroup
	results := make(chan time.Time, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- clock.Now()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[time.Time]bool)
	for ts := range results {
		require.False(t, seen[ts], "duplicate timestamp %v", ts)
		seen[ts] = true
	}
	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Current())
}
