// Package eventloop runs every controller step on a single goroutine.
//
// Work arrives either as posted functions, executed in arrival order, or as
// timers kept in a heap owned by the loop. Due timers always run before the
// next posted function, so advancing a fake clock and then calling Do is
// enough to observe everything that became due.
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("event loop stopped")

// Loop is a single-threaded executor with timers.
type Loop struct {
	clock  clockwork.Clock
	logger logging.Logger

	mu     sync.Mutex
	queue  []func()
	timers timerHeap
	seq    uint64

	wake chan struct{}
	done chan struct{}
}

// New creates a loop driven by clock; nil selects the real clock.
func New(clock clockwork.Clock, logger logging.Logger) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Loop{
		clock:  clock,
		logger: logger.With(logging.Component("eventloop")),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Now is the loop clock's current time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Run executes work until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		l.runDue()
		if fn := l.pop(); fn != nil {
			l.call(fn)
			continue
		}

		var (
			timer  clockwork.Timer
			timerC <-chan time.Time
		)
		if d, ok := l.nextDelay(); ok {
			if d <= 0 {
				continue
			}
			timer = l.clock.NewTimer(d)
			timerC = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn. It never blocks and is safe from any goroutine,
// including the loop itself.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Do runs fn on the loop and waits for it. Calling Do from the loop
// deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return l.schedule(d, 0, fn)
}

// Every runs fn on the loop every period, first after one period.
func (l *Loop) Every(period time.Duration, fn func()) *Timer {
	if period <= 0 {
		panic(fmt.Sprintf("eventloop: non-positive period %v", period))
	}
	return l.schedule(period, period, fn)
}

func (l *Loop) schedule(d, period time.Duration, fn func()) *Timer {
	l.mu.Lock()
	t := &Timer{loop: l, when: l.clock.Now().Add(d), period: period, fn: fn, index: -1}
	l.seq++
	t.seq = l.seq
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t
}

// Pending reports queued functions and scheduled timers.
func (l *Loop) Pending() (queued, timers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue), len(l.timers)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) nextDelay() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	return l.timers[0].when.Sub(l.clock.Now()), true
}

// runDue fires every timer whose deadline has passed, in deadline order.
func (l *Loop) runDue() {
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(l.clock.Now()) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*Timer)
		l.mu.Unlock()

		l.call(t.fn)

		if t.period > 0 {
			l.mu.Lock()
			if !t.stopped {
				t.when = t.when.Add(t.period)
				l.seq++
				t.seq = l.seq
				heap.Push(&l.timers, t)
			}
			l.mu.Unlock()
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panicked", logging.Any("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// Timer is a scheduled callback.
type Timer struct {
	loop    *Loop
	when    time.Time
	period  time.Duration
	fn      func()
	seq     uint64
	index   int
	stopped bool
}

// Stop cancels the timer. It reports whether a pending run was removed.
func (t *Timer) Stop() bool {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	t.stopped = true
	if t.index < 0 {
		return false
	}
	heap.Remove(&l.timers, t.index)
	return true
}

// When is the next deadline.
func (t *Timer) When() time.Time {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	return t.when
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
