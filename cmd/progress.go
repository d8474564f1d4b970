package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// progress shows a spinner while a long running step is in progress. It
// falls back to plain lines when output is not a terminal or debug logging
// is on.
type progress struct {
	w  io.Writer
	sp *spinner.Spinner
}

func newProgress(debug bool, message string) *progress {
	p := &progress{w: os.Stdout}

	if !debug && term.IsTerminal(int(os.Stdout.Fd())) {
		// Use dots spinner style (CharSet 14)
		p.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stdout))
		p.sp.Prefix = "  "
		p.sp.Suffix = " " + message
		p.sp.Start()
	} else {
		fmt.Fprintf(p.w, "  %s\n", message)
	}
	return p
}

// Success stops the spinner and prints a success message
func (p *progress) Success(message string) {
	p.stop()
	fmt.Fprintf(p.w, "  %s %s\n", color.GreenString("✓"), message)
}

// Fail stops the spinner and prints an error message
func (p *progress) Fail(message string) {
	p.stop()
	fmt.Fprintf(p.w, "  %s %s\n", color.RedString("✗"), message)
}

func (p *progress) stop() {
	if p.sp != nil {
		p.sp.Stop()
		fmt.Fprint(p.w, "\r\033[K") // \033[K clears the line
	}
}
