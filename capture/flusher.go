package capture

import (
	"sync"
	"time"

	"github.com/ridelog-data/ridelog/timeutil"
)

// DefaultFlushInterval is how often buffered samples are persisted while
// capture is running.
const DefaultFlushInterval = 5 * time.Second

// Flusher drives the periodic flush while capture is running. Each tick
// invokes the lifecycle's serialized flush callback; the final flush on
// pause/stop is performed by the lifecycle itself after Stop returns, so
// flushes can never overlap.
type Flusher struct {
	interval time.Duration
	clock    timeutil.Clock
	tick     func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFlusher creates a Flusher invoking tick at the given interval. A
// non-positive interval falls back to DefaultFlushInterval.
func NewFlusher(interval time.Duration, clock timeutil.Clock, tick func()) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Flusher{interval: interval, clock: clock, tick: tick}
}

// Start launches the flush loop. Calling Start while running is a no-op.
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})

	go f.run(f.stopCh, f.doneCh)
}

func (f *Flusher) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C():
			f.tick()
		}
	}
}

// Stop cancels the flush loop and waits for it to exit, so no tick can
// fire after Stop returns. Safe to call when not running.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	doneCh := f.doneCh
	f.mu.Unlock()

	<-doneCh
}

// IsRunning reports whether the flush loop is active.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
