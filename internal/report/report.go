// Package report summarizes a finished recording session.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/mux"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// Report is the persisted summary of one session
type Report struct {
	ID                 string    `toml:"id"`
	Session            string    `toml:"session"`
	Output             string    `toml:"output"`
	Container          string    `toml:"container"`
	StartedAt          time.Time `toml:"started_at"`
	Elapsed            string    `toml:"elapsed"`
	Result             string    `toml:"result"`
	DiagnosticFailures int64     `toml:"diagnostic_failures"`
	Tracks             []Track   `toml:"tracks"`
}

// Track holds the counters of one track
type Track struct {
	Kind     string `toml:"kind"`
	Codec    string `toml:"codec,omitempty"`
	Written  int64  `toml:"written"`
	Dropped  int64  `toml:"dropped"`
	Pending  int    `toml:"pending"`
	FirstPTS int64  `toml:"first_pts_us"`
	LastPTS  int64  `toml:"last_pts_us"`
	Span     string `toml:"span"`
	Ended    bool   `toml:"ended"`
}

// Session describes what was recorded
type Session struct {
	ID        string
	Output    string
	Container string
	StartedAt time.Time
	Formats   map[core.Kind]core.Format
}

// Build assembles a report from the final engine stats. A nil runErr marks
// the session as successful.
func Build(s Session, stats mux.Stats, runErr error, now time.Time) Report {
	r := Report{
		ID:                 uuid.NewString(),
		Session:            s.ID,
		Output:             s.Output,
		Container:          s.Container,
		StartedAt:          s.StartedAt.UTC().Truncate(time.Millisecond),
		Elapsed:            now.Sub(s.StartedAt).Round(time.Millisecond).String(),
		Result:             "ok",
		DiagnosticFailures: stats.DiagnosticFailures,
	}
	if runErr != nil {
		r.Result = runErr.Error()
	}

	for _, kind := range core.Kinds {
		ks := stats.Kind(kind)
		t := Track{
			Kind:     kind.String(),
			Written:  ks.Written,
			Dropped:  ks.Dropped,
			Pending:  ks.Pending,
			FirstPTS: ks.FirstPTS,
			LastPTS:  ks.LastPTS,
			Ended:    ks.Ended,
		}
		if f, ok := s.Formats[kind]; ok {
			t.Codec = string(f.Codec)
		}
		if ks.Written > 0 {
			t.Span = (time.Duration(ks.LastPTS-ks.FirstPTS) * time.Microsecond).String()
		}
		r.Tracks = append(r.Tracks, t)
	}
	return r
}

// OK reports whether the session finished without error.
func (r Report) OK() bool {
	return r.Result == "ok"
}

// WriteTOML saves the report to path, creating parent directories.
func (r Report) WriteTOML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := toml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// Load reads a report written by WriteTOML.
func Load(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("failed to read report file: %w", err)
	}
	if err := toml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to parse report file: %w", err)
	}
	return r, nil
}

// Columns are the table columns of Rows.
func Columns() []util.TableColumn {
	return []util.TableColumn{
		{Header: "TRACK", Key: "kind"},
		{Header: "CODEC", Key: "codec"},
		{Header: "WRITTEN", Key: "written"},
		{Header: "DROPPED", Key: "dropped"},
		{Header: "PENDING", Key: "pending"},
		{Header: "SPAN", Key: "span"},
		{Header: "EOS", Key: "ended"},
	}
}

// Rows returns one table row per track.
func (r Report) Rows() []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(r.Tracks))
	for _, t := range r.Tracks {
		span := t.Span
		if span == "" {
			span = "-"
		}
		codec := t.Codec
		if codec == "" {
			codec = "-"
		}
		rows = append(rows, map[string]interface{}{
			"kind":    t.Kind,
			"codec":   codec,
			"written": t.Written,
			"dropped": t.Dropped,
			"pending": t.Pending,
			"span":    span,
			"ended":   t.Ended,
		})
	}
	return rows
}
