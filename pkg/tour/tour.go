// Package tour is the stress harness: a repeatable drive of the full
// pipeline against a fixture that emits byte-stable proof artifacts.
//
// Tour is NOT a benchmark. It proves that under load, truth was not
// compromised: same fixture + same invariants version ⇒ byte-identical
// viewmodel.hash, every run.
package tour

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/vifei/pkg/blob"
	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/eventlog"
	"github.com/Mindburn-Labs/vifei/pkg/importer"
	"github.com/Mindburn-Labs/vifei/pkg/projection"
	"github.com/Mindburn-Labs/vifei/pkg/reduce"
)

// seekPointTarget is roughly how many time-travel seek points a run
// captures.
const seekPointTarget = 20

// Config configures a tour run.
type Config struct {
	// FixturePath is the Agent Cassette JSONL fixture.
	FixturePath string
	// OutputDir receives the proof artifacts.
	OutputDir string
	// Stress must be set; tour only runs in stress mode.
	Stress bool
	// EventsPerSec optionally paces ingest to model a live source.
	// Zero means unpaced. Pacing affects wall time only, never artifact
	// content.
	EventsPerSec float64
}

// Result of a tour run.
type Result struct {
	OutputDir     string
	Metrics       *Metrics
	ViewModelHash string
}

// StageProfile carries per-stage wall-clock timings. Informational only;
// never written into any deterministic artifact.
type StageProfile struct {
	ParseFixture time.Duration
	AppendWriter time.Duration
	Reducer      time.Duration
	Projection   time.Duration
	EmitOutput   time.Duration
	Total        time.Duration
}

// Run executes the harness.
func Run(cfg *Config) (*Result, error) {
	result, _, err := RunWithProfile(cfg)
	return result, err
}

// RunWithProfile executes the harness and returns stage timings.
func RunWithProfile(cfg *Config) (*Result, *StageProfile, error) {
	if !cfg.Stress {
		return nil, nil, errors.New("tour: --stress is required")
	}
	totalStart := time.Now()
	profile := &StageProfile{}

	parseStart := time.Now()
	f, err := os.Open(cfg.FixturePath)
	if err != nil {
		return nil, nil, err
	}
	imports := importer.ParseCassette(f)
	f.Close()
	profile.ParseFixture = time.Since(parseStart)

	if len(imports) == 0 {
		return nil, nil, errors.New("tour: fixture contains no events")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, nil, err
	}

	// Drive the real append writer against a scratch log so the run
	// exercises the same commit path as live ingest.
	appendStart := time.Now()
	scratch, err := os.MkdirTemp("", "vifei-tour-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(scratch)

	blobs, err := blob.Open(filepath.Join(scratch, "blobs"))
	if err != nil {
		return nil, nil, err
	}
	writer, err := eventlog.OpenWriter(filepath.Join(scratch, "eventlog.jsonl"), eventlog.WithBlobStore(blobs))
	if err != nil {
		return nil, nil, err
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSec), 1)
	}

	committed := make([]event.CommittedEvent, 0, len(imports)+8)
	for _, imp := range imports {
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				writer.Close()
				return nil, nil, err
			}
		}
		res, err := writer.Append(imp)
		if err != nil {
			writer.Close()
			return nil, nil, fmt.Errorf("tour: append: %w", err)
		}
		committed = append(committed, res.Detections...)
		committed = append(committed, res.Committed)
	}
	if err := writer.Close(); err != nil {
		return nil, nil, err
	}
	profile.AppendWriter = time.Since(appendStart)

	// Reduce with periodic seek-point capture for time travel.
	reduceStart := time.Now()
	state := reduce.NewState()
	interval := len(committed) / seekPointTarget
	if interval < 1 {
		interval = 1
	}
	inv := projection.NewInvariants()
	var seekPoints []SeekPoint
	for i := range committed {
		reduce.ReduceInPlace(state, &committed[i])
		if (i+1)%interval == 0 || i == len(committed)-1 {
			vm := projection.Project(state, inv)
			seekPoints = append(seekPoints, SeekPoint{
				CommitIndex:   committed[i].CommitIndex,
				StateHash:     reduce.StateHash(state),
				ViewModelHash: projection.Hash(&vm),
			})
		}
	}
	profile.Reducer = time.Since(reduceStart)

	projectionStart := time.Now()
	vm := projection.Project(state, inv)
	profile.Projection = time.Since(projectionStart)

	emitStart := time.Now()
	vmHash := projection.Hash(&vm)
	metrics := buildMetrics(state, &vm, len(committed))
	if err := emitArtifacts(cfg.OutputDir, metrics, &vm, vmHash, len(committed), seekPoints); err != nil {
		return nil, nil, err
	}
	profile.EmitOutput = time.Since(emitStart)
	profile.Total = time.Since(totalStart)

	return &Result{
		OutputDir:     cfg.OutputDir,
		Metrics:       metrics,
		ViewModelHash: vmHash,
	}, profile, nil
}
