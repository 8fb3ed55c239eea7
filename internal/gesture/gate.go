// Package gesture turns a continuous pointer drag into a one-shot commit
// signal. Mouse and touch input both reduce to Start/Move/End with a
// vertical coordinate.
package gesture

import "sync"

const (
	// StartZone is the fraction of the target height, measured from its top,
	// in which a drag may begin.
	StartZone = 0.3
	// CommitRatio is the fraction of the target height a drag must exceed.
	CommitRatio = 0.5
)

// Bounds is the vertical extent of the drag target.
type Bounds struct {
	Top    float64
	Height float64
}

// Gate tracks one drag at a time and commits at most once.
type Gate struct {
	mu        sync.Mutex
	origin    *float64
	travel    *float64
	committed bool
}

// New creates an idle gate.
func New() *Gate {
	return &Gate{}
}

// Start begins tracking if y falls in the top StartZone of the target.
// It reports whether tracking started.
func (g *Gate) Start(y float64, b Bounds) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.committed || b.Height <= 0 {
		return false
	}
	if y < b.Top || y >= b.Top+b.Height*StartZone {
		return false
	}
	origin, travel := y, 0.0
	g.origin = &origin
	g.travel = &travel
	return true
}

// Move records the downward travel since Start. Upward motion leaves the
// last travel untouched.
func (g *Gate) Move(y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.committed || g.origin == nil {
		return
	}
	diff := y - *g.origin
	if diff >= 0 {
		g.travel = &diff
	}
}

// End commits if the last travel exceeds CommitRatio of the target height,
// otherwise drops the drag so a new one can start. It reports whether the
// gate is committed.
func (g *Gate) End(b Bounds) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.committed {
		return true
	}
	if g.origin == nil {
		return false
	}
	if g.travel != nil && *g.travel > b.Height*CommitRatio {
		g.committed = true
	}
	g.origin = nil
	g.travel = nil
	return g.committed
}

// Committed reports whether the gate has fired.
func (g *Gate) Committed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.committed
}

// Tracking reports whether a drag is in progress.
func (g *Gate) Tracking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.origin != nil
}

// Progress returns the visible travel, clamped to limit. It is zero when
// idle and reports limit once committed.
func (g *Gate) Progress(limit float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.committed {
		return limit
	}
	if g.travel == nil {
		return 0
	}
	if *g.travel > limit {
		return limit
	}
	return *g.travel
}
