package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/vifei/pkg/tour"
)

// runTourCmd drives the stress harness and reports the proof artifacts.
func runTourCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tour", flag.ContinueOnError)
	fs.SetOutput(stderr)
	stress := fs.Bool("stress", false, "run in stress mode (required)")
	outDir := fs.String("out", "tour-output", "output directory for proof artifacts")
	eventsPerSec := fs.Float64("events-per-sec", 0, "optional ingest pacing (0 = unpaced)")
	robot := fs.Bool("robot", false, "emit machine-readable envelope")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: vifei tour --stress <fixture.jsonl> [--out DIR]")
		return exitUsage
	}
	fixture := fs.Arg(0)
	if _, err := os.Stat(fixture); os.IsNotExist(err) {
		emit(stdout, *robot, failEnvelope("fixture_not_found", "no fixture at "+fixture, exitNotFound),
			"Fixture not found: "+fixture)
		return exitNotFound
	}

	result, err := tour.Run(&tour.Config{
		FixturePath:  fixture,
		OutputDir:    *outDir,
		Stress:       *stress,
		EventsPerSec: *eventsPerSec,
	})
	if err != nil {
		emit(stdout, *robot, failEnvelope("tour_failure", err.Error(), exitRuntime), "Tour failed: "+err.Error())
		return exitRuntime
	}

	if result.Metrics.TierADrops != 0 {
		msg := fmt.Sprintf("tier_a_drops = %d: Tier A truth was lost", result.Metrics.TierADrops)
		emit(stdout, *robot, failEnvelope("tier_a_drops", msg, exitRuntime), "Tour failed: "+msg)
		return exitRuntime
	}

	data := map[string]any{
		"output_dir":     result.OutputDir,
		"viewmodel_hash": result.ViewModelHash,
		"event_count":    result.Metrics.EventCountTotal,
		"tier_a_drops":   result.Metrics.TierADrops,
	}
	human := fmt.Sprintf("Tour complete: %d event(s), tier_a_drops=0\n  viewmodel.hash: %s\n  artifacts: %s",
		result.Metrics.EventCountTotal, result.ViewModelHash, result.OutputDir)
	emit(stdout, *robot, okEnvelope("tour", "proof artifacts emitted", data), human)
	return exitOK
}
