package lockmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ridelines/draftsync/internal/clock"
)

func TestManager_Exclusivity(t *testing.T) {
	clk := clock.NewManual(time.Now())
	m := New(5*time.Second, clk)

	assert.True(t, m.Acquire("d1"))

	clk.Advance(time.Second)
	assert.False(t, m.Acquire("d1"), "second acquire within timeout must be denied")

	// after the timeout the stale lock is reclaimable
	clk.Advance(5 * time.Second)
	assert.True(t, m.Acquire("d1"))
}

func TestManager_ReleaseFreesLock(t *testing.T) {
	m := New(5*time.Second, clock.NewManual(time.Now()))

	assert.True(t, m.Acquire("d1"))
	m.Release("d1")
	assert.True(t, m.Acquire("d1"))
}

func TestManager_PerDraftIndependence(t *testing.T) {
	m := New(5*time.Second, clock.NewManual(time.Now()))

	assert.True(t, m.Acquire("d1"))
	assert.True(t, m.Acquire("d2"))
	assert.False(t, m.Acquire("d1"))
}

func TestManager_ConcurrentAcquire_OnlyOneWins(t *testing.T) {
	m := New(5*time.Second, nil)

	const n = 32
	var granted int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if m.Acquire("d1") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted)
}

func TestManager_ReleaseUnheldIsNoop(t *testing.T) {
	m := New(0, nil)
	m.Release("never-held")
	assert.True(t, m.Acquire("never-held"))
}
