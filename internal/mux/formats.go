package mux

import (
	"context"
	"sync"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
)

// FormatBoard collects the output format of each track as the encoders
// report it, and lets the engine wait until both are known.
type FormatBoard struct {
	mu      sync.Mutex
	formats [2]*core.Format
	ready   chan struct{}
}

// NewFormatBoard creates an empty board.
func NewFormatBoard() *FormatBoard {
	return &FormatBoard{
		ready: make(chan struct{}),
	}
}

// Publish records the format for f.Kind. The first format of each kind wins;
// later calls return false.
func (b *FormatBoard) Publish(f core.Format) bool {
	if f.Kind != core.KindVideo && f.Kind != core.KindAudio {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.formats[f.Kind] != nil {
		return false
	}
	stored := f
	b.formats[f.Kind] = &stored

	if b.formats[core.KindVideo] != nil && b.formats[core.KindAudio] != nil {
		close(b.ready)
	}
	return true
}

// Format returns the published format of a kind, if any.
func (b *FormatBoard) Format(kind core.Kind) (core.Format, bool) {
	if kind != core.KindVideo && kind != core.KindAudio {
		return core.Format{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.formats[kind] == nil {
		return core.Format{}, false
	}
	return *b.formats[kind], true
}

// Ready is closed once both formats are published.
func (b *FormatBoard) Ready() <-chan struct{} {
	return b.ready
}

// Wait blocks until both formats are published or ctx is done.
func (b *FormatBoard) Wait(ctx context.Context) (video, audio core.Format, err error) {
	select {
	case <-b.ready:
	case <-ctx.Done():
		return core.Format{}, core.Format{}, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.formats[core.KindVideo], *b.formats[core.KindAudio], nil
}
