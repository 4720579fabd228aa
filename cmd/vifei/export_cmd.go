package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/vifei/pkg/blob"
	"github.com/Mindburn-Labs/vifei/pkg/config"
	"github.com/Mindburn-Labs/vifei/pkg/export"
)

// runExportCmd runs the share-safe pipeline: scan, then bundle or refuse.
// Refusal is exit code 3 and is the correct behavior, not a bug; the
// refusal report path lands in the suggestions so callers can inspect the
// blocked items.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data", "", "data directory (default .vifei)")
	output := fs.String("o", "", "output bundle path (.tar.zst)")
	shareSafe := fs.Bool("share-safe", false, "run the secret scan before bundling (required)")
	allowOversize := fs.Bool("allow-oversize-blobs", false, "lift the 50 MB per-blob refusal")
	robot := fs.Bool("robot", false, "emit machine-readable envelope")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if !*shareSafe {
		fmt.Fprintln(stderr, "export requires --share-safe: unscanned bundles are never produced")
		return exitUsage
	}
	if *output == "" {
		fmt.Fprintln(stderr, "Usage: vifei export --share-safe -o <bundle.tar.zst> [--data DIR]")
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

	blobs, err := blob.Open(cfg.BlobDir)
	if err != nil {
		emit(stdout, *robot, failEnvelope("blob_store_failure", err.Error(), exitRuntime), "Blob store failed: "+err.Error())
		return exitRuntime
	}

	reportPath := filepath.Join(filepath.Dir(*output), "refusal-report.json")
	result, err := export.Run(export.Config{
		EventLogPath:       cfg.EventLogPath,
		OutputPath:         *output,
		RefusalReportPath:  reportPath,
		BlobStore:          blobs,
		AllowOversizeBlobs: *allowOversize,
	})
	if err != nil {
		emit(stdout, *robot, failEnvelope("export_failure", err.Error(), exitRuntime), "Export failed: "+err.Error())
		return exitRuntime
	}

	if result.Refused != nil {
		msg := result.Refused.Summary
		env := failEnvelope("export_refused", msg, exitRefused,
			"refusal report: "+reportPath,
			"redact the blocked items at the source, then re-import and re-export")
		env.Data = map[string]any{
			"refusal_report_path": reportPath,
			"blocked_item_count":  len(result.Refused.BlockedItems),
		}
		emit(stdout, *robot, env,
			fmt.Sprintf("%s\nRefusal report written to %s", msg, reportPath))
		return exitRefused
	}

	data := map[string]any{
		"bundle_path": result.Bundled.BundlePath,
		"bundle_hash": result.Bundled.BundleHash,
		"event_count": result.Bundled.EventCount,
		"blob_count":  result.Bundled.BlobCount,
	}
	human := fmt.Sprintf("Bundle written to %s\n  bundle_hash: %s\n  events: %d, blobs: %d",
		result.Bundled.BundlePath, result.Bundled.BundleHash,
		result.Bundled.EventCount, result.Bundled.BlobCount)
	emit(stdout, *robot, okEnvelope("exported", "bundle created", data), human)
	return exitOK
}
