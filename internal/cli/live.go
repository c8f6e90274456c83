package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/harness"
	"github.com/roach88/keyrx/internal/ir"
)

// liveLine is one line read from stdin in live mode.
type liveLine struct {
	n    int
	text string
}

// liveFrame is one live-mode step in JSON output.
type liveFrame struct {
	Input   string   `json:"input"`
	Outputs []string `json:"outputs"`
}

// runLive drives p from stdin in real time.
//
// One goroutine reads lines; the loop below owns the processor, so every
// ProcessEvent and Tick happens on a single goroutine. Events are stamped
// with the monotonic clock when they are read. While a tap/hold key is
// pending the loop wakes at its deadline, or every tick interval if that
// comes first.
func runLive(opts *RunOptions, lp *loadedProfile, p *engine.Processor, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg := opts.Config
	interval := cfg.GetDuration(KeyTickInterval)
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	lines := make(chan liveLine)
	readErr := make(chan error, 1)
	go readLines(ctx, cmd.InOrStdin(), lines, readErr)

	clock := engine.NewMonotonicClock()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var frames []engine.Frame
	emit := func(step engine.Step, out []ir.OutputEvent) error {
		f := engine.Frame{Step: step, Output: append([]ir.OutputEvent(nil), out...), State: p.Snapshot()}
		frames = append(frames, f)
		if len(out) == 0 && step.Kind == engine.StepTick {
			return nil
		}
		return writeLiveFrame(formatter, f)
	}

	opts.Logger.Info("live mode started", "profile", lp.Path, "tick_interval", interval)

	var err error
loop:
	for {
		if d, ok := p.NextDeadline(); ok {
			wait := time.Duration(d-clock.Now()) * time.Microsecond
			if d < clock.Now() {
				wait = 0
			}
			timer.Reset(min(wait, interval))
		}

		select {
		case <-ctx.Done():
			break loop
		case e := <-readErr:
			if e != nil {
				err = WrapExitError(ExitCommandError, "read stdin", e)
			}
			break loop
		case l := <-lines:
			in, perr := parseCommand(strings.Fields(l.text))
			if perr != nil {
				formatter.VerboseLog("line %d: %v", l.n, perr)
				_ = formatter.Error(ErrCodeValidation, (&InputError{Line: l.n, Message: perr.Error()}).Error(), nil)
				continue
			}
			now := clock.Now()
			if in.tick {
				if err = emit(engine.TickStep(now), p.Tick(now)); err != nil {
					break loop
				}
				continue
			}
			in.event.Time = now
			if err = emit(engine.EventStep(in.event), p.ProcessEvent(in.event)); err != nil {
				break loop
			}
		case <-timer.C:
			now := clock.Now()
			if err = emit(engine.TickStep(now), p.Tick(now)); err != nil {
				break loop
			}
		}
	}

	// Resolve what is still pending so nothing stays held.
	for {
		d, ok := p.NextDeadline()
		if !ok {
			break
		}
		if werr := emit(engine.TickStep(d), p.Tick(d)); werr != nil && err == nil {
			err = werr
		}
	}

	if opts.Record {
		id, rerr := recordRun(context.WithoutCancel(ctx), cfg.GetString(KeyDatabase), opts.liveName(), lp, p, cfg.GetBool(KeyInterruptOnRelease), frames)
		if rerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "record run", rerr)
		}
		if rerr == nil {
			formatter.VerboseLog("recording: %s", id)
			opts.Logger.Info("live run recorded", "recording", id, "steps", len(frames))
		}
	}

	opts.Logger.Info("live mode stopped", "steps", len(frames), "stats", fmt.Sprintf("%+v", p.Stats()))
	return err
}

func (o *RunOptions) liveName() string {
	if o.Name != "" {
		return o.Name
	}
	return "live"
}

// readLines sends non-empty, non-comment lines from r until EOF or ctx ends.
// The final error (nil on EOF) is sent on errc.
//
// A blocked read only returns when r is closed, so r is closed on cancel if
// it is an io.Closer. Other readers keep the goroutine until their next line.
func readLines(ctx context.Context, r io.Reader, lines chan<- liveLine, errc chan<- error) {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		select {
		case lines <- liveLine{n: n, text: text}:
		case <-ctx.Done():
			return
		}
	}
	errc <- sc.Err()
}

func writeLiveFrame(f *OutputFormatter, frame engine.Frame) error {
	lf := liveFrame{Input: harness.FormatStep(frame.Step), Outputs: make([]string, 0, len(frame.Output))}
	for _, o := range frame.Output {
		lf.Outputs = append(lf.Outputs, harness.FormatOutput(o))
	}
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(lf)
	}
	for _, out := range lf.Outputs {
		if _, err := fmt.Fprintln(f.Writer, out); err != nil {
			return err
		}
	}
	return nil
}
