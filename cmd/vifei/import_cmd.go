package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/vifei/pkg/backpressure"
	"github.com/Mindburn-Labs/vifei/pkg/blob"
	"github.com/Mindburn-Labs/vifei/pkg/config"
	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/eventlog"
	"github.com/Mindburn-Labs/vifei/pkg/importer"
	"github.com/Mindburn-Labs/vifei/pkg/observability"
	"github.com/Mindburn-Labs/vifei/pkg/reduce"
)

// ingestQueueCapacity bounds the single-writer queue feeding the append
// writer. Producers suspend when it is full; the backpressure controller
// observes the same depth.
const ingestQueueCapacity = 1024

// runImportCmd ingests an Agent Cassette fixture through the append
// writer behind a bounded queue, with the backpressure controller
// observing pressure and the checkpoint manager snapshotting State. A
// writer failure is fatal ingest (FM-APPEND-FAIL / FM-BLOB-WRITE-FAIL):
// the command fails safe to L5 and exits non-zero without claiming
// success.
func runImportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data", "", "data directory (default .vifei)")
	robot := fs.Bool("robot", false, "emit machine-readable envelope")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: vifei import <fixture.jsonl> [--data DIR] [--robot]")
		return exitUsage
	}
	fixturePath := fs.Arg(0)

	cfg, err := config.Load(*dataDir)
	if err != nil {
		emit(stdout, *robot, failEnvelope("config_failure", err.Error(), exitRuntime), "Configuration failed: "+err.Error())
		return exitRuntime
	}
	if err := cfg.EnsureDirs(); err != nil {
		emit(stdout, *robot, failEnvelope("config_failure", err.Error(), exitRuntime), "Workspace setup failed: "+err.Error())
		return exitRuntime
	}

	ctx := context.Background()
	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "vifei",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		emit(stdout, *robot, failEnvelope("observability_failure", err.Error(), exitRuntime), "Telemetry setup failed: "+err.Error())
		return exitRuntime
	}
	defer obs.Shutdown(ctx)

	f, err := os.Open(fixturePath)
	if err != nil {
		if os.IsNotExist(err) {
			emit(stdout, *robot, failEnvelope("fixture_not_found", err.Error(), exitNotFound,
				"check the fixture path"), "Fixture not found: "+fixturePath)
			return exitNotFound
		}
		emit(stdout, *robot, failEnvelope("fixture_open_failure", err.Error(), exitRuntime), "Cannot open fixture: "+err.Error())
		return exitRuntime
	}
	imports := importer.ParseCassette(f)
	f.Close()

	blobs, err := blob.Open(cfg.BlobDir)
	if err != nil {
		emit(stdout, *robot, failEnvelope("blob_store_failure", err.Error(), exitRuntime), "Blob store failed: "+err.Error())
		return exitRuntime
	}
	writer, err := eventlog.OpenWriter(cfg.EventLogPath, eventlog.WithBlobStore(blobs))
	if err != nil {
		emit(stdout, *robot, failEnvelope("eventlog_open_failure", err.Error(), exitRuntime), "EventLog open failed: "+err.Error())
		return exitRuntime
	}
	defer writer.Close()

	runID := "ingest"
	if len(imports) > 0 {
		runID = imports[0].RunID
	}

	// The controller commits its PolicyDecision events through the same
	// writer handle, keeping the single-writer discipline intact.
	queue := make(chan event.ImportEvent, ingestQueueCapacity)
	ctrl := backpressure.New(runID,
		func(decision event.ImportEvent) (event.CommittedEvent, error) {
			res, err := writer.Append(decision)
			return res.Committed, err
		},
		func() (int, int) { return len(queue), ingestQueueCapacity })

	ctrlCtx, stopCtrl := context.WithCancel(ctx)
	defer stopCtrl()
	go func() { _ = ctrl.Run(ctrlCtx) }()

	go func() {
		for _, imp := range imports {
			queue <- imp
		}
		close(queue)
	}()

	committed := 0
	detections := 0
	for imp := range queue {
		start := time.Now()
		res, err := writer.Append(imp)
		if err != nil {
			ctrl.FailSafe("append_failure")
			var stall *eventlog.AppendStallError
			code := "append_failure"
			if errors.As(err, &stall) {
				code = "append_stall"
			}
			msg := fmt.Sprintf("ingest halted at safe stop (L5) after %d events: %v", committed, err)
			emit(stdout, *robot, failEnvelope(code, msg, exitRuntime,
				"the EventLog is readable at its last-known-good state",
				"resolve the storage failure before re-running import"), "Import failed: "+msg)
			return exitRuntime
		}
		obs.RecordCommit(ctx, string(res.Committed.Tier), time.Since(start))
		committed++
		detections += len(res.Detections)
	}
	stopCtrl()
	if err := writer.Flush(); err != nil {
		emit(stdout, *robot, failEnvelope("append_failure", err.Error(), exitRuntime), "Final flush failed: "+err.Error())
		return exitRuntime
	}

	// Checkpoint pass over committed truth, including any PolicyDecision
	// events the controller interleaved.
	ckpts, err := reduce.NewCheckpointManager(cfg.CheckpointDir)
	if err != nil {
		emit(stdout, *robot, failEnvelope("checkpoint_failure", err.Error(), exitRuntime), "Checkpoint setup failed: "+err.Error())
		return exitRuntime
	}
	all, err := eventlog.Read(cfg.EventLogPath)
	if err != nil {
		emit(stdout, *robot, failEnvelope("eventlog_read_failure", err.Error(), exitRuntime),
			"EventLog read failed: "+err.Error())
		return exitRuntime
	}
	if _, err := ckpts.ReplayWithCheckpoints(reduce.NewState(), all); err != nil {
		emit(stdout, *robot, failEnvelope("checkpoint_failure", err.Error(), exitRuntime), "Checkpoint write failed: "+err.Error())
		return exitRuntime
	}

	data := map[string]any{
		"eventlog_path":     cfg.EventLogPath,
		"events_committed":  committed,
		"skew_detections":   detections,
		"next_commit_index": writer.NextIndex(),
		"ladder_level":      ctrl.Level().String(),
	}
	human := fmt.Sprintf("Imported %d event(s) into %s (%d clock-skew detection(s))", committed, cfg.EventLogPath, detections)
	emit(stdout, *robot, okEnvelope("imported", human, data), human)
	return exitOK
}
