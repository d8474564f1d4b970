// Package source produces timestamped samples from elementary stream files,
// standing in for hardware encoders.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"k8s.io/utils/clock"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/mux"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// Producer yields the samples of one track in presentation order. Next
// returns io.EOF after the last sample.
type Producer interface {
	Format() core.Format
	Next() (core.Sample, error)
}

// Target receives samples, typically a *mux.Engine.
type Target interface {
	Push(sample core.Sample)
	EndOfStream(kind core.Kind)
}

// Feed publishes the producer's format on board, pushes every sample into
// target and signals end of stream when the producer is exhausted or ctx is
// done. With a non-nil realtime clock samples are released at their
// presentation time relative to the first one; otherwise as fast as
// possible. It returns the number of samples pushed.
func Feed(ctx context.Context, p Producer, target Target, board *mux.FormatBoard, realtime clock.Clock) (int, error) {
	format := p.Format()
	logger := util.ComponentLogger(nil, "source").With("kind", format.Kind)

	if board != nil && !board.Publish(format) {
		logger.Warn("Format already published, keeping the first one")
	}
	defer target.EndOfStream(format.Kind)

	var (
		pushed  int
		start   time.Time
		firstTS int64
	)
	for {
		if err := ctx.Err(); err != nil {
			logger.Debug("Feed cancelled", "pushed", pushed)
			return pushed, err
		}

		sample, err := p.Next()
		if errors.Is(err, io.EOF) {
			logger.Debug("Source exhausted", "pushed", pushed)
			return pushed, nil
		}
		if err != nil {
			return pushed, fmt.Errorf("failed to read %s sample %d: %w", format.Kind, pushed, err)
		}

		if realtime != nil {
			if pushed == 0 {
				start = realtime.Now()
				firstTS = sample.PTS
			}
			due := start.Add(time.Duration(sample.PTS-firstTS) * time.Microsecond)
			if wait := due.Sub(realtime.Now()); wait > 0 {
				select {
				case <-realtime.After(wait):
				case <-ctx.Done():
					return pushed, ctx.Err()
				}
			}
		}

		target.Push(sample)
		pushed++
	}
}
