package render

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Pacer stands in for a hardware frame producer: it raises the signal once
// per tick.
type Pacer struct {
	clock    clock.WithTicker
	interval time.Duration
	frames   int
}

// NewPacer creates a pacer producing frames notifications at the given
// interval. A nil clock uses the wall clock.
func NewPacer(c clock.WithTicker, interval time.Duration, frames int) *Pacer {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Pacer{clock: c, interval: interval, frames: frames}
}

// Run notifies signal on every tick until all frames were produced. A closed
// signal ends the run without error.
func (p *Pacer) Run(ctx context.Context, signal *Signal) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for i := 0; i < p.frames; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		if err := signal.NotifyReady(); err != nil {
			if errors.Is(err, ErrSignalClosed) {
				return nil
			}
			return errors.Wrapf(err, "frame %d", i)
		}
	}
	return nil
}

// CountingRenderer simulates a renderer with a fixed draw cost and counts
// what it draws. OnLimit runs once when Limit frames have been drawn.
type CountingRenderer struct {
	Clock    clock.Clock
	DrawCost time.Duration
	Limit    int64
	OnLimit  func()

	mu       sync.Mutex
	pending  bool
	updates  int64
	draws    int64
	presents int64
}

// UpdateFromLatestFrame implements Renderer.
func (r *CountingRenderer) UpdateFromLatestFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = true
	r.updates++
	return nil
}

// Draw implements Renderer.
func (r *CountingRenderer) Draw() error {
	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return errors.New("draw without a frame update")
	}
	r.pending = false
	r.mu.Unlock()

	if r.DrawCost > 0 {
		c := r.Clock
		if c == nil {
			c = clock.RealClock{}
		}
		c.Sleep(r.DrawCost)
	}

	r.mu.Lock()
	r.draws++
	reached := r.Limit > 0 && r.draws == r.Limit
	r.mu.Unlock()

	if reached && r.OnLimit != nil {
		r.OnLimit()
	}
	return nil
}

// Present implements Presenter.
func (r *CountingRenderer) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presents++
	return nil
}

// Counts returns the number of updates, draws and presents.
func (r *CountingRenderer) Counts() (updates, draws, presents int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates, r.draws, r.presents
}
