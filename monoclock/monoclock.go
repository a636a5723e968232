// Package monoclock serves monotonic timestamps from a single reader
// goroutine. Callers block on the service instead of hitting the counter
// themselves; requests that pile up while one read is in flight are all
// answered from that read, so a burst of transfer completions costs one
// counter access.
package monoclock

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Source is one monotonic counter. Read returns the elapsed time since an
// arbitrary fixed origin.
type Source interface {
	Read() (time.Duration, error)
}

type reading struct {
	ts  time.Duration
	err error
}

// Service owns the reader goroutine.
type Service struct {
	src Source
	req chan chan reading

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewService returns an unstarted service over src; a nil src selects the
// best counter the platform has.
func NewService(src Source) *Service {
	if src == nil {
		src = defaultSource()
	}
	s := &Service{
		src:  src,
		req:  make(chan chan reading),
		stop: make(chan struct{}),
	}
	close(s.stop) // not started yet; Now fails instead of blocking
	return s
}

// Start launches the reader goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

// Stop ends the reader goroutine. Pending callers get an error; the closed
// stop channel stays in place so late Now calls fail instead of blocking.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	close(s.stop)
	<-s.done
}

// Now returns a monotonic timestamp through the service.
func (s *Service) Now() (time.Duration, error) {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()

	c := make(chan reading, 1)
	select {
	case s.req <- c:
	case <-stop:
		return 0, fmt.Errorf("clock service is stopped")
	}
	select {
	case r := <-c:
		return r.ts, r.err
	case <-stop:
		return 0, fmt.Errorf("clock service is stopped")
	}
}

func (s *Service) run(stop chan struct{}, done chan struct{}) {
	// Counter reads stay on one OS thread; some timer hardware is not
	// consistent across cores.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case first := <-s.req:
			waiters := []chan reading{first}
			// Everything already queued shares this read.
		drain:
			for {
				select {
				case c := <-s.req:
					waiters = append(waiters, c)
				default:
					break drain
				}
			}
			ts, err := s.src.Read()
			r := reading{ts: ts, err: err}
			for _, c := range waiters {
				c <- r
			}
		}
	}
}

// realtimeSource falls back to the runtime clock, which is monotonic
// since process start.
type realtimeSource struct {
	origin time.Time
}

func newRealtimeSource() Source {
	return &realtimeSource{origin: time.Now()}
}

func (r *realtimeSource) Read() (time.Duration, error) {
	return time.Since(r.origin), nil
}
