package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/openmined/syftxfer/internal/handler"
	"github.com/openmined/syftxfer/internal/history"
	"github.com/openmined/syftxfer/internal/transfer"
)

const (
	exitFailure       = 1
	exitConfiguration = 2
	exitLocked        = 3
	exitInterrupted   = 130
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, transfer.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, handler.ErrLocked):
		return exitLocked
	case transfer.IsCancelled(err):
		return exitInterrupted
	default:
		return exitFailure
	}
}

type jsonOperation struct {
	Op      transfer.OpKind `json:"op"`
	Source  string          `json:"source,omitempty"`
	Target  string          `json:"target"`
	Replace bool            `json:"replace,omitempty"`
}

type jsonReport struct {
	Handler    string             `json:"handler"`
	Target     handler.Target     `json:"target"`
	DryRun     bool               `json:"dryRun"`
	Operations []jsonOperation    `json:"operations,omitempty"`
	Run        *history.Run       `json:"run,omitempty"`
	Failures   []*history.Failure `json:"failures,omitempty"`
}

func newJSONReport(r *handler.Report) *jsonReport {
	out := &jsonReport{Handler: r.Handler, Target: r.Target, DryRun: r.DryRun}
	for _, op := range r.Operations {
		out.Operations = append(out.Operations, jsonOperation{
			Op:      op.Kind,
			Source:  op.SourcePath,
			Target:  op.TargetPath,
			Replace: op.Replace,
		})
	}
	if r.Result != nil {
		out.Run, out.Failures = history.RunFromResult(r.Handler, r.Direction, r.Target.LocalPath, r.Target.RemotePath, r.Result)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printProgress prints a line per finished path until events is closed
func printProgress(w io.Writer, events <-chan *transfer.StatusEvent) {
	for ev := range events {
		switch ev.Status.State {
		case transfer.OpStateCompleted:
			fmt.Fprintf(w, "%s %-16s %s\n", green("✓"), ev.Status.Op, ev.Path)
		case transfer.OpStateFailed:
			fmt.Fprintf(w, "%s %-16s %s %s\n", red("✗"), ev.Status.Op, ev.Path, gray(ev.Status.Error))
		}
	}
}

func printReport(w io.Writer, r *handler.Report) {
	if r.DryRun {
		for _, op := range r.Operations {
			line := fmt.Sprintf("%-16s %s", op.Kind, op.TargetPath)
			if op.Replace {
				line += " (replace)"
			}
			if op.Kind == transfer.OpSkip {
				line = gray(line)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "%s %s: %d operations planned, nothing executed\n", cyan("dry run"), r.Handler, len(r.Operations))
		return
	}

	res := r.Result
	summary := fmt.Sprintf("%s: %d succeeded, %d skipped, %s in %s",
		r.Handler,
		res.Count(transfer.StatusSucceeded),
		res.Count(transfer.StatusSkipped),
		humanize.Bytes(uint64(res.Bytes())),
		res.Duration.Round(time.Millisecond),
	)

	for _, o := range res.Warnings() {
		fmt.Fprintf(w, "%s %s: %v\n", cyan("warning"), o.Path, o.Warning)
	}

	if !res.Failed() && len(res.Cancelled()) == 0 {
		fmt.Fprintln(w, green("done"), summary)
		return
	}

	for _, o := range res.Failures() {
		fmt.Fprintf(w, "%s %s: %v\n", red(o.Status), o.Path, o.Err)
	}
	fmt.Fprintf(w, "%s %s, %d failed, %d not attempted, %d cancelled\n",
		red("incomplete"), summary,
		res.Count(transfer.StatusFailed),
		res.Count(transfer.StatusDependencyFailed),
		res.Count(transfer.StatusCancelled),
	)
}
