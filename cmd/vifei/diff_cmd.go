package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/vifei/pkg/delta"
	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/eventlog"
)

// runDiffCmd compares two committed event streams by commit_index and
// exits 5 when they diverge.
func runDiffCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(stderr)
	robot := fs.Bool("robot", false, "emit machine-readable envelope")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "Usage: vifei diff <left.jsonl> <right.jsonl> [--robot]")
		return exitUsage
	}
	leftPath, rightPath := fs.Arg(0), fs.Arg(1)

	readLog := func(path string) ([]event.CommittedEvent, int) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			emit(stdout, *robot, failEnvelope("eventlog_not_found", "no EventLog at "+path, exitNotFound),
				"EventLog not found: "+path)
			return nil, exitNotFound
		}
		events, err := eventlog.Read(path)
		if err != nil {
			emit(stdout, *robot, failEnvelope("eventlog_read_failure", err.Error(), exitRuntime),
				"EventLog read failed: "+err.Error())
			return nil, exitRuntime
		}
		return events, exitOK
	}

	leftEvents, code := readLog(leftPath)
	if code != exitOK {
		return code
	}
	rightEvents, code := readLog(rightPath)
	if code != exitOK {
		return code
	}

	d := delta.DiffRuns(leftEvents, rightEvents)
	if d.Clean() {
		human := fmt.Sprintf("No divergences: %d event(s) identical", d.LeftEventCount)
		emit(stdout, *robot, okEnvelope("diff_clean", human, d), human)
		return exitOK
	}

	env := failEnvelope("diff_found",
		fmt.Sprintf("%d divergence(s) between %s and %s", len(d.Divergences), leftPath, rightPath),
		exitDiff,
		"inspect the divergence list; events match by commit_index only")
	env.Data = d
	if *robot {
		emit(stdout, true, env, "")
	} else {
		fmt.Fprintf(stdout, "%d divergence(s):\n", len(d.Divergences))
		for _, div := range d.Divergences {
			fmt.Fprintf(stdout, "  commit_index=%d %s %s", div.CommitIndex, div.Path, div.ChangeClass)
			if div.ChangeClass == delta.ValueMismatch {
				fmt.Fprintf(stdout, " left=%q right=%q", div.LeftValue, div.RightValue)
			}
			fmt.Fprintln(stdout)
		}
	}
	return exitDiff
}
