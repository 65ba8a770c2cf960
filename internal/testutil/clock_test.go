package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func TestClock_FrozenUntilAdvanced(t *testing.T) {
	clock := NewClock(epoch)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())

	clock.Advance(time.Minute)
	assert.Equal(t, epoch.Add(time.Minute), clock.Now())
}

func TestClock_Set(t *testing.T) {
	clock := NewClock(epoch)
	later := epoch.Add(48 * time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestClock_ConcurrentAdvance(t *testing.T) {
	clock := NewClock(epoch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(800*time.Millisecond), clock.Now())
}
