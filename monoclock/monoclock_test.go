package monoclock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleby/usbhost/monoclock"
)

// countingSource counts counter accesses and can hold each read open so
// callers pile up behind it.
type countingSource struct {
	reads atomic.Int64
	gate  chan struct{}
}

func (c *countingSource) Read() (time.Duration, error) {
	if c.gate != nil {
		<-c.gate
	}
	n := c.reads.Add(1)
	return time.Duration(n) * time.Millisecond, nil
}

func TestNowServesReadings(t *testing.T) {
	src := &countingSource{}
	s := monoclock.NewService(src)
	s.Start()
	defer s.Stop()

	first, err := s.Now()
	require.NoError(t, err)
	second, err := s.Now()
	require.NoError(t, err)
	assert.Greater(t, second, first, "readings advance")
}

func TestNowCoalescesConcurrentCallers(t *testing.T) {
	src := &countingSource{gate: make(chan struct{})}
	s := monoclock.NewService(src)
	s.Start()
	defer s.Stop()

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Now()
			assert.NoError(t, err)
		}()
	}

	// Let the callers queue behind the held-open first read, then release.
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	reads := src.reads.Load()
	assert.Less(t, reads, int64(callers), "queued callers share counter reads")
	assert.GreaterOrEqual(t, reads, int64(1))
}

func TestNowFailsWhenStopped(t *testing.T) {
	s := monoclock.NewService(&countingSource{})

	_, err := s.Now()
	assert.Error(t, err, "not started yet")

	s.Start()
	_, err = s.Now()
	require.NoError(t, err)

	s.Stop()
	_, err = s.Now()
	assert.Error(t, err)

	// Restartable.
	s.Start()
	_, err = s.Now()
	require.NoError(t, err)
	s.Stop()
}

func TestDefaultSourceMonotonic(t *testing.T) {
	s := monoclock.NewService(nil)
	s.Start()
	defer s.Stop()

	a, err := s.Now()
	require.NoError(t, err)
	b, err := s.Now()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b, a)
}
