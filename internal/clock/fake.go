package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Scheduler for tests. Time only moves when Advance
// is called, and due callbacks run synchronously on the caller's goroutine in
// due-time order.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

// NewFake creates a fake scheduler at virtual time zero.
func NewFake() *Fake {
	return &Fake{}
}

type fakeTimer struct {
	fake     *Fake
	due      time.Duration
	period   time.Duration
	seq      int
	f        func()
	stopped  bool
	finished bool
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.stopped || t.finished {
		return false
	}
	t.stopped = true
	return true
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.add(d, 0, fn)
}

func (f *Fake) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Nanosecond
	}
	return f.add(d, d, fn)
}

func (f *Fake) add(d, period time.Duration, fn func()) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{fake: f, due: f.now + d, period: period, seq: f.seq, f: fn}
	f.timers = append(f.timers, t)
	return t
}

// Now returns the virtual time elapsed since creation.
func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Pending returns the number of live timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.finished {
			n++
		}
	}
	return n
}

// Advance moves virtual time forward by d, firing every callback that falls
// due on the way.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.due
		if next.period > 0 {
			next.due += next.period
		} else {
			next.finished = true
		}
		fn := next.f
		f.mu.Unlock()

		fn()
	}
}

// nextDue returns the earliest live timer due at or before target. Caller
// holds f.mu.
func (f *Fake) nextDue(target time.Duration) *fakeTimer {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.finished {
			live = append(live, t)
		}
	}
	f.timers = live
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].due == f.timers[j].due {
			return f.timers[i].seq < f.timers[j].seq
		}
		return f.timers[i].due < f.timers[j].due
	})
	if len(f.timers) == 0 || f.timers[0].due > target {
		return nil
	}
	return f.timers[0]
}
