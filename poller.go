package cardlink

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Adaptive Poller
// ============================================================================

// Poll cadence policy. The table is fixed:
//
//	hidden tab            -> 60 s
//	visible, user active  -> 10 s
//	visible, user idle    -> 15 s
const (
	IntervalHidden = 60 * time.Second
	IntervalActive = 10 * time.Second
	IntervalIdle   = 15 * time.Second

	// User activity expires after this much quiet.
	activityQuiet = 60 * time.Second
)

// pollInterval is the policy table as a pure function of the two inputs.
func pollInterval(visible, active bool) time.Duration {
	if !visible {
		return IntervalHidden
	}
	if active {
		return IntervalActive
	}
	return IntervalIdle
}

// AdaptivePoller invokes a refresh callback at a cadence derived from tab
// visibility and recent user activity, recomputed on every input change and
// on every tick. Regaining focus triggers one immediate out-of-band
// invocation. The poller guarantees cadence only: callback errors are the
// owner's concern, and a panicking callback is recovered and logged so the
// next tick still happens.
type AdaptivePoller struct {
	fn    func()
	log   *zap.Logger
	quiet time.Duration

	mu           sync.Mutex
	visible      bool
	lastActivity time.Time
	running      bool
	stopCh       chan struct{}
	fireCh       chan struct{} // immediate out-of-band invocation
	recalcCh     chan struct{} // input changed, recompute the interval
}

// NewAdaptivePoller creates a stopped poller around fn. The poller starts
// out visible and active.
func NewAdaptivePoller(fn func(), log *zap.Logger) *AdaptivePoller {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdaptivePoller{
		fn:           fn,
		log:          log,
		quiet:        activityQuiet,
		visible:      true,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop. Calling Start on a running poller is a
// no-op.
func (p *AdaptivePoller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.fireCh = make(chan struct{}, 1)
	p.recalcCh = make(chan struct{}, 1)
	stop, fire, recalc := p.stopCh, p.fireCh, p.recalcCh
	p.mu.Unlock()

	go p.run(stop, fire, recalc)
}

// Stop halts the loop. The callback is not invoked again after Stop
// returns. Safe to call more than once.
func (p *AdaptivePoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
}

// SetVisible records a tab-visibility change.
func (p *AdaptivePoller) SetVisible(visible bool) {
	p.mu.Lock()
	changed := p.visible != visible
	p.visible = visible
	recalc := p.recalcCh
	running := p.running
	p.mu.Unlock()

	if changed && running {
		signal(recalc)
	}
}

// MarkActivity records user activity, restarting the quiet-period window.
func (p *AdaptivePoller) MarkActivity() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	recalc := p.recalcCh
	running := p.running
	p.mu.Unlock()

	if running {
		signal(recalc)
	}
}

// Focus handles a regained window focus: the tab is visible, the user is
// active, and one immediate refresh fires independent of the timer.
func (p *AdaptivePoller) Focus() {
	p.mu.Lock()
	p.visible = true
	p.lastActivity = time.Now()
	fire := p.fireCh
	running := p.running
	p.mu.Unlock()

	if running {
		signal(fire)
	}
}

// Interval returns the cadence the poller is currently applying.
func (p *AdaptivePoller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pollInterval(p.visible, time.Since(p.lastActivity) <= p.quiet)
}

func (p *AdaptivePoller) run(stop <-chan struct{}, fire, recalc <-chan struct{}) {
	timer := time.NewTimer(p.Interval())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-fire:
			p.invoke()
			resetTimer(timer, p.Interval())
		case <-recalc:
			resetTimer(timer, p.Interval())
		case <-timer.C:
			p.invoke()
			timer.Reset(p.Interval())
		}
	}
}

func (p *AdaptivePoller) invoke() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("poll callback panicked", zap.Any("panic", r))
		}
	}()
	p.fn()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
