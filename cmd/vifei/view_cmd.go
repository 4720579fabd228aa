package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Mindburn-Labs/vifei/pkg/config"
	"github.com/Mindburn-Labs/vifei/pkg/eventlog"
	"github.com/Mindburn-Labs/vifei/pkg/projection"
	"github.com/Mindburn-Labs/vifei/pkg/reduce"
)

// runViewCmd replays the EventLog, projects the ViewModel, and prints the
// HUD confession. The command is a read-only consumer: it renders
// ViewModel fields, it is never a source.
func runViewCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("view", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data", "", "data directory (default .vifei)")
	robot := fs.Bool("robot", false, "emit machine-readable envelope")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		emit(stdout, *robot, failEnvelope("config_failure", err.Error(), exitRuntime), "Configuration failed: "+err.Error())
		return exitRuntime
	}

	if _, err := os.Stat(cfg.EventLogPath); os.IsNotExist(err) {
		emit(stdout, *robot, failEnvelope("eventlog_not_found", "no EventLog at "+cfg.EventLogPath, exitNotFound,
			"run `vifei import` first"), "No EventLog found at "+cfg.EventLogPath)
		return exitNotFound
	}

	events, err := eventlog.Read(cfg.EventLogPath)
	if err != nil {
		emit(stdout, *robot, failEnvelope("eventlog_read_failure", err.Error(), exitRuntime),
			"EventLog read failed: "+err.Error())
		return exitRuntime
	}

	// Resume from the newest usable checkpoint, reducing only the suffix.
	state := reduce.NewState()
	mgr, err := reduce.NewCheckpointManager(cfg.CheckpointDir)
	if err == nil {
		if ckpt, loadErr := mgr.LoadLatest(); loadErr == nil && ckpt != nil && ckpt.LastCommitIndex < uint64(len(events)) {
			state = ckpt.State
			events = events[ckpt.LastCommitIndex+1:]
		}
	}
	state, _ = reduce.ReplayFrom(state, events)

	inv := projection.NewInvariants()
	if level, parseErr := projection.ParseLadderLevel(state.LastDegradationLevel); parseErr == nil {
		inv = inv.WithLevel(level)
	}
	vm := projection.Project(state, inv)

	if *robot {
		data := map[string]any{
			"viewmodel":      vm,
			"viewmodel_hash": projection.Hash(&vm),
			"state_hash":     reduce.StateHash(state),
		}
		emit(stdout, true, okEnvelope("view", "HUD projection", data), "")
		return exitOK
	}

	fmt.Fprintf(stdout, "── Truth HUD ──\n")
	fmt.Fprintf(stdout, "  Level:     %s\n", vm.DegradationLevel)
	if vm.AggregationBinSize != nil {
		fmt.Fprintf(stdout, "  Agg:       %s (bin=%d)\n", vm.AggregationMode, *vm.AggregationBinSize)
	} else {
		fmt.Fprintf(stdout, "  Agg:       %s\n", vm.AggregationMode)
	}
	fmt.Fprintf(stdout, "  Pressure:  %d%%\n", int(vm.QueuePressure()*100))
	fmt.Fprintf(stdout, "  Drops:     %d\n", vm.TierADrops)
	fmt.Fprintf(stdout, "  Export:    %s\n", vm.ExportSafetyState)
	fmt.Fprintf(stdout, "  Version:   %s\n", vm.ProjectionInvariantsVersion)
	fmt.Fprintf(stdout, "\n── Tier A events ──\n")
	names := make([]string, 0, len(vm.TierASummaries))
	for name := range vm.TierASummaries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-20s %d\n", name, vm.TierASummaries[name])
	}
	fmt.Fprintf(stdout, "\n  Hash: %s\n", projection.Hash(&vm))
	return exitOK
}
