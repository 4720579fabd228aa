package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/vifei/pkg/cache"
	"github.com/Mindburn-Labs/vifei/pkg/config"
	"github.com/Mindburn-Labs/vifei/pkg/eventlog"
)

// runReindexCmd rebuilds the SQLite derived cache from the EventLog. The
// cache is a rebuildable projection, never truth; a rebuild always starts
// from an empty schema.
func runReindexCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
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

	db, err := cache.Open(cfg.CachePath)
	if err != nil {
		emit(stdout, *robot, failEnvelope("cache_open_failure", err.Error(), exitRuntime), "Cache open failed: "+err.Error())
		return exitRuntime
	}
	defer db.Close()

	if err := cache.Rebuild(db, events); err != nil {
		emit(stdout, *robot, failEnvelope("cache_rebuild_failure", err.Error(), exitRuntime), "Reindex failed: "+err.Error())
		return exitRuntime
	}

	data := map[string]any{
		"cache_path":  cfg.CachePath,
		"event_count": len(events),
	}
	human := fmt.Sprintf("Reindexed %d event(s) into %s", len(events), cfg.CachePath)
	emit(stdout, *robot, okEnvelope("reindexed", human, data), human)
	return exitOK
}
