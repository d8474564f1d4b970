package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/babelcloud/gbox/packages/avsync/config"
	"github.com/babelcloud/gbox/packages/avsync/internal/render"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

// RenderCheckOptions holds the flags of the render-check command
type RenderCheckOptions struct {
	Profile  string
	FPS      int
	Frames   int
	DrawCost time.Duration
	Timeout  time.Duration
}

// NewRenderCheckCommand creates the render-check command
func NewRenderCheckCommand() *cobra.Command {
	opts := &RenderCheckOptions{}

	cmd := &cobra.Command{
		Use:   "render-check",
		Short: "Check frame-ready pacing against a simulated renderer",
		Long: `Drive the frame-ready synchronizer with a fixed-rate frame producer and a
renderer with a fixed draw cost. The check fails when a frame is signalled
before the previous one was consumed, or when no frame arrives in time.`,
		Example: `  # 120 frames at 60 fps with 4ms draws
  avsync render-check --fps 60 --frames 120 --draw-cost 4ms

  # Encode profile timeout
  avsync render-check --profile encode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRenderCheck(ctx, cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Profile, "profile", "decode", "Timeout profile: decode or encode")
	flags.IntVar(&opts.FPS, "fps", 60, "Frame rate of the simulated producer")
	flags.IntVar(&opts.Frames, "frames", 120, "Number of frames to produce")
	flags.DurationVar(&opts.DrawCost, "draw-cost", 2*time.Millisecond, "Simulated draw time per frame")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "Frame wait timeout (default: from the profile)")

	return cmd
}

// profileTimeout returns the configured wait timeout of a profile.
func profileTimeout(p render.Profile) time.Duration {
	if p == render.ProfileEncode {
		return config.GetEncodeTimeout()
	}
	return config.GetDecodeTimeout()
}

func runRenderCheck(ctx context.Context, out io.Writer, opts *RenderCheckOptions) error {
	profile, err := render.ParseProfile(opts.Profile)
	if err != nil {
		return err
	}
	if opts.FPS <= 0 || opts.Frames <= 0 {
		return errors.Errorf("fps and frames must be positive, got %d and %d", opts.FPS, opts.Frames)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = profileTimeout(profile)
	}

	return checkRender(ctx, out, clock.RealClock{}, profile, timeout, opts)
}

// checkRender runs one pacer against one render loop on clk.
func checkRender(ctx context.Context, out io.Writer, clk clock.WithTickerAndDelayedExecution, profile render.Profile, timeout time.Duration, opts *RenderCheckOptions) error {
	logger := util.GetLogger()

	sig := render.NewSignalWithClock(clk)
	renderer := &render.CountingRenderer{
		Clock:    clk,
		DrawCost: opts.DrawCost,
		Limit:    int64(opts.Frames),
	}
	loop := render.NewLoop(sig, renderer, render.LoopConfig{
		Profile: profile,
		Timeout: timeout,
		Logger:  logger,
	})
	renderer.OnLimit = loop.Stop
	interval := time.Second / time.Duration(opts.FPS)
	pacer := render.NewPacer(clk, interval, opts.Frames)

	fmt.Fprintf(out, "Profile %s, timeout %s, frame interval %s, draw cost %s\n",
		color.CyanString(string(profile)), loop.Timeout(), interval, opts.DrawCost)

	started := clk.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := pacer.Run(gctx, sig)
		if err != nil {
			loop.Stop()
		}
		return err
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	err := g.Wait()

	updates, draws, presents := renderer.Counts()
	util.RenderTable(out, []util.TableColumn{
		{Header: "FRAMES", Key: "frames"},
		{Header: "UPDATES", Key: "updates"},
		{Header: "DRAWS", Key: "draws"},
		{Header: "PRESENTS", Key: "presents"},
		{Header: "ELAPSED", Key: "elapsed"},
	}, []map[string]interface{}{{
		"frames":   opts.Frames,
		"updates":  updates,
		"draws":    draws,
		"presents": presents,
		"elapsed":  clk.Since(started).Round(time.Millisecond),
	}})

	switch {
	case err != nil:
		fmt.Fprintf(out, "%s %v\n", color.RedString("✗"), err)
		return errors.Wrap(err, "render check failed")
	case draws < int64(opts.Frames) && ctx.Err() == nil:
		fmt.Fprintf(out, "%s only %d of %d frames drawn\n", color.RedString("✗"), draws, opts.Frames)
		return errors.Errorf("render check drew %d of %d frames", draws, opts.Frames)
	default:
		fmt.Fprintf(out, "%s one draw per frame\n", color.GreenString("✓"))
		return nil
	}
}
