package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/babelcloud/gbox/packages/avsync/config"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/mux"
	"github.com/babelcloud/gbox/packages/avsync/internal/report"
	"github.com/babelcloud/gbox/packages/avsync/internal/sink"
	"github.com/babelcloud/gbox/packages/avsync/internal/source"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// RecordOptions holds the flags of the record command
type RecordOptions struct {
	Video       string
	Audio       string
	Output      string
	Format      string
	FPS         int
	Strict      bool
	Realtime    bool
	Diagnostics string
	Report      string
	NoReport    bool
	Preview     bool
}

// containerExtensions maps container formats to file extensions.
var containerExtensions = map[string]string{
	"fmp4": "mp4",
	"mkv":  "mkv",
}

// NewRecordCommand creates the record command
func NewRecordCommand() *cobra.Command {
	opts := &RecordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Merge a video and an audio stream into one recording",
		Long: `Merge an H.264 Annex-B elementary stream and an AAC ADTS stream into one
container. Samples are written in presentation-time order while both
streams are fed concurrently.`,
		Example: `  # Record into the default videos directory
  avsync record --video in.h264 --audio in.aac

  # Matroska output at 25 fps, paced like a live encoder
  avsync record --video in.h264 --audio in.aac --format mkv --fps 25 --realtime

  # Keep a per-sample trace log
  avsync record --video in.h264 --audio in.aac --diagnostics trace.log

  # Also feed the video to local WebRTC preview tracks
  avsync record --video in.h264 --audio in.aac --preview`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Video, "video", "", "H.264 Annex-B input file")
	flags.StringVar(&opts.Audio, "audio", "", "AAC ADTS input file")
	flags.StringVarP(&opts.Output, "out", "o", "", "Output file (default: <videos dir>/avsync-<unix ms>.<ext>)")
	flags.StringVarP(&opts.Format, "format", "f", config.GetFormat(), "Container format: fmp4 or mkv")
	flags.IntVar(&opts.FPS, "fps", config.GetFPS(), "Frame rate of the video stream")
	flags.BoolVar(&opts.Strict, "strict", config.GetStrictInterleave(), "Hold samples until both streams have data")
	flags.BoolVar(&opts.Realtime, "realtime", false, "Feed samples at their presentation time")
	flags.StringVar(&opts.Diagnostics, "diagnostics", config.GetDiagnosticsPath(), "Append a per-sample trace log to this file")
	flags.StringVar(&opts.Report, "report", "", "Session report path (default: <report dir>/<session>.toml)")
	flags.BoolVar(&opts.NoReport, "no-report", false, "Do not write a session report")
	flags.BoolVar(&opts.Preview, "preview", false, "Forward the merged stream to WebRTC preview tracks")
	_ = cmd.MarkFlagRequired("video")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}

// defaultOutputPath returns a timestamped recording path in dir.
func defaultOutputPath(dir, format string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("avsync-%d.%s", now.UnixMilli(), containerExtensions[format]))
}

// newContainerSink creates the sink for a container format writing to w.
func newContainerSink(format string, w io.Writer, logger *slog.Logger) (core.Sink, error) {
	switch format {
	case "fmp4":
		return sink.NewFMP4(w, logger), nil
	case "mkv":
		return sink.NewMKV(w, logger), nil
	default:
		return nil, errors.Errorf("unsupported format %q, expected fmp4 or mkv", format)
	}
}

func runRecord(ctx context.Context, out io.Writer, opts *RecordOptions) error {
	logger := util.GetLogger()

	if _, ok := containerExtensions[opts.Format]; !ok {
		return errors.Errorf("unsupported format %q, expected fmp4 or mkv", opts.Format)
	}

	video, err := source.OpenAnnexB(opts.Video, opts.FPS)
	if err != nil {
		return errors.Wrap(err, "failed to open video source")
	}
	audio, err := source.OpenADTS(opts.Audio)
	if err != nil {
		return errors.Wrap(err, "failed to open audio source")
	}

	output := opts.Output
	if output == "" {
		output = defaultOutputPath(config.GetOutputDir(), opts.Format, time.Now())
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	file, err := os.Create(output)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	// Closed by the sink on release; this covers sessions that never open.
	defer file.Close()

	container, err := newContainerSink(opts.Format, file, logger)
	if err != nil {
		return err
	}

	engineOpts := mux.Options{
		Logger:           logger,
		StrictInterleave: opts.Strict,
		DrainOnStop:      config.GetDrainOnStop(),
	}
	if opts.Diagnostics != "" {
		trace, err := mux.OpenTraceLog(opts.Diagnostics)
		if err != nil {
			return errors.Wrap(err, "failed to open diagnostics log")
		}
		defer trace.Close()
		engineOpts.Diagnostics = trace
	}

	engine := mux.NewEngine(engineOpts)
	board := mux.NewFormatBoard()

	var preview *sink.WebRTC
	if opts.Preview {
		preview = sink.NewWebRTC("avsync-"+engine.ID(), logger)
		container = sink.NewTee(container, preview, logger)
	}
	startedAt := time.Now()

	var pacing clock.Clock
	if opts.Realtime {
		pacing = clock.RealClock{}
	}

	p := newProgress(verbose, fmt.Sprintf("Recording %d video and %d audio samples to %s", video.Len(), audio.Len(), output))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := source.Feed(gctx, video, engine, board, pacing)
		return err
	})
	g.Go(func() error {
		_, err := source.Feed(gctx, audio, engine, board, pacing)
		return err
	})
	g.Go(func() error {
		if err := engine.OpenWhenReady(gctx, container, board); err != nil {
			return err
		}
		return engine.Run(gctx)
	})

	runErr := g.Wait()
	interrupted := ctx.Err() != nil && errors.Is(runErr, context.Canceled)
	if interrupted {
		runErr = nil
	}
	if err := engine.Release(); err != nil && runErr == nil {
		runErr = err
	}
	stats := engine.Stats()

	if runErr != nil {
		p.Fail(fmt.Sprintf("Recording failed: %v", runErr))
	} else if interrupted {
		p.Success(fmt.Sprintf("Recording stopped, saved to %s", color.CyanString(output)))
	} else {
		p.Success(fmt.Sprintf("Recording saved to %s", color.CyanString(output)))
	}

	formats := map[core.Kind]core.Format{}
	for _, kind := range core.Kinds {
		if f, ok := board.Format(kind); ok {
			formats[kind] = f
		}
	}
	r := report.Build(report.Session{
		ID:        engine.ID(),
		Output:    output,
		Container: opts.Format,
		StartedAt: startedAt,
		Formats:   formats,
	}, stats, runErr, time.Now())

	fmt.Fprintln(out)
	util.RenderTable(out, report.Columns(), r.Rows())

	if preview != nil {
		videoSent, videoSkipped := preview.Samples(core.KindVideo)
		audioSent, _ := preview.Samples(core.KindAudio)
		fmt.Fprintf(out, "\nPreview: %d video samples sent, %d skipped before the first key frame, %d audio samples sent\n",
			videoSent, videoSkipped, audioSent)
	}

	if !opts.NoReport {
		path := opts.Report
		if path == "" {
			path = filepath.Join(config.GetReportDir(), engine.ID()+".toml")
		}
		if err := r.WriteTOML(path); err != nil {
			logger.Warn("Failed to write session report", "path", path, "error", err)
		} else {
			fmt.Fprintf(out, "\nReport written to %s\n", color.CyanString(path))
		}
	}

	if runErr != nil {
		return errors.Wrap(runErr, "recording failed")
	}
	return nil
}
