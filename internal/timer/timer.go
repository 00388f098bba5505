// Package timer provides the countdown clock that drives a quiz session.
//
// The countdown is fed by wall-clock deltas rather than by counting ticker
// callbacks, so a throttled or delayed ticker catches up with one tick per elapsed
// second. Callbacks always run on the timer's own goroutine and never while the
// timer's lock is held, so handlers may call back into the Timer.
package timer

import (
	"sync"
	"time"
)

// DefaultPollInterval is how often the running timer samples the clock.
const DefaultPollInterval = 250 * time.Millisecond

// Ticker is the subset of time.Ticker the timer needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker wraps time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// WithTicker overrides how poll tickers are created.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(t *Timer) { t.newTicker = newTicker }
}

// WithPollInterval sets the clock sampling interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.poll = d
		}
	}
}

// OnTick registers the callback receiving each new remaining value.
func OnTick(fn func(remaining int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// OnExpire registers the callback fired once when the countdown reaches zero.
func OnExpire(fn func()) Option {
	return func(t *Timer) { t.onExpire = fn }
}

// Timer is a pausable countdown in whole seconds.
type Timer struct {
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	poll      time.Duration
	onTick    func(int)
	onExpire  func()

	mu        sync.Mutex
	remaining int
	running   bool
	expired   bool
	lastTick  time.Time
	gen       uint64
	stop      chan struct{}
}

// New creates a paused timer seeded with initialSeconds. A seed of zero or less
// signals expiry at once, on the timer's own goroutine; Resume on such a timer
// does nothing until it is reseeded.
func New(initialSeconds int, opts ...Option) *Timer {
	t := &Timer{
		now:       time.Now,
		newTicker: NewTicker,
		poll:      DefaultPollInterval,
		onTick:    func(int) {},
		onExpire:  func() {},
		remaining: clampSeconds(initialSeconds),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.remaining == 0 {
		t.expired = true
		go t.onExpire()
	}
	return t
}

// Reset stops the countdown and reseeds it. The timer stays paused.
func (t *Timer) Reset(seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.haltLocked()
	t.remaining = clampSeconds(seconds)
	t.expired = false
}

// Start reseeds the countdown and runs it.
func (t *Timer) Start(seconds int) {
	t.Reset(seconds)
	t.Resume()
}

// Resume runs a paused timer without changing the remaining time. Time spent paused
// is never charged: the reference point for the next tick is now. A timer reseeded
// with no time left signals expiry instead of running.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.expired {
		return
	}
	if t.remaining <= 0 {
		t.expired = true
		onExpire := t.onExpire
		go onExpire()
		return
	}

	t.running = true
	t.lastTick = t.now()
	t.gen++
	t.stop = make(chan struct{})
	go t.loop(t.gen, t.stop, t.newTicker(t.poll))
}

// Pause stops the countdown. Any tick computed after Pause is discarded.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.haltLocked()
}

// Stop is Pause under the name used on teardown paths.
func (t *Timer) Stop() {
	t.Pause()
}

// TogglePause flips between running and paused and reports whether it now runs.
func (t *Timer) TogglePause() bool {
	if t.Running() {
		t.Pause()
		return false
	}
	t.Resume()
	return t.Running()
}

// Remaining returns the seconds left.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether the countdown is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Expired reports whether expiry has been signalled since the last reseed.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

func (t *Timer) haltLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.running = false
	t.gen++
}

func (t *Timer) loop(gen uint64, stop <-chan struct{}, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if !t.advance(gen) {
				return
			}
		}
	}
}

// advance applies whole seconds elapsed since the last tick and reports whether the
// loop for gen should keep running. A catch-up burst is delivered one second at a
// time and each step re-checks the generation, so a Pause issued from a tick
// handler cancels the rest of the burst and charges nothing further.
func (t *Timer) advance(gen uint64) bool {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return false
	}
	elapsed := int(t.now().Sub(t.lastTick) / time.Second)
	t.mu.Unlock()

	for i := 0; i < elapsed; i++ {
		t.mu.Lock()
		if gen != t.gen || !t.running || t.remaining <= 0 {
			t.mu.Unlock()
			return false
		}
		t.remaining--
		t.lastTick = t.lastTick.Add(time.Second)
		remaining := t.remaining
		expired := remaining == 0
		if expired {
			t.expired = true
			t.haltLocked()
		}
		onTick, onExpire := t.onTick, t.onExpire
		t.mu.Unlock()

		onTick(remaining)
		if expired {
			onExpire()
			return false
		}
	}
	return true
}

func clampSeconds(s int) int {
	if s < 0 {
		return 0
	}
	return s
}
