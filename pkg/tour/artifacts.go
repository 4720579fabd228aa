package tour

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/vifei/pkg/projection"
)

// TimeTravelCapture is the timetravel.capture artifact: ordered seek
// points allowing any replay position to be cross-checked against the
// recorded hashes.
type TimeTravelCapture struct {
	ProjectionInvariantsVersion string      `json:"projection_invariants_version"`
	SeekPoints                  []SeekPoint `json:"seek_points"`
}

// SeekPoint records the hash pair at one commit_index.
type SeekPoint struct {
	CommitIndex   uint64 `json:"commit_index"`
	StateHash     string `json:"state_hash"`
	ViewModelHash string `json:"viewmodel_hash"`
}

// ANSI escapes used by the capture. Raw constants, no terminal probing —
// same ViewModel, identical bytes.
const (
	ansiReset   = "\x1b[0m"
	ansiBold    = "\x1b[1m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiRed     = "\x1b[31m"
	ansiWhite   = "\x1b[37m"
	ansiMagenta = "\x1b[35m"
	ansiGray    = "\x1b[90m"
)

// emitArtifacts writes the four proof artifacts to outputDir.
func emitArtifacts(outputDir string, metrics *Metrics, vm *projection.ViewModel, vmHash string, eventCount int, seekPoints []SeekPoint) error {
	if err := metrics.validate(); err != nil {
		return err
	}
	metricsJSON, err := prettyJSON(metrics)
	if err != nil {
		return fmt.Errorf("tour: serialize metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "metrics.json"), metricsJSON, 0o644); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(outputDir, "viewmodel.hash"), []byte(vmHash+"\n"), 0o644); err != nil {
		return err
	}

	ansi := renderANSICapture(vm, eventCount, vmHash)
	if err := os.WriteFile(filepath.Join(outputDir, "ansi.capture"), []byte(ansi), 0o644); err != nil {
		return err
	}

	capture := TimeTravelCapture{
		ProjectionInvariantsVersion: vm.ProjectionInvariantsVersion,
		SeekPoints:                  seekPoints,
	}
	captureJSON, err := prettyJSON(&capture)
	if err != nil {
		return fmt.Errorf("tour: serialize timetravel: %w", err)
	}
	return os.WriteFile(filepath.Join(outputDir, "timetravel.capture"), captureJSON, 0o644)
}

func levelColor(level projection.LadderLevel) string {
	switch {
	case level == projection.L0:
		return ansiGreen
	case level <= projection.L3:
		return ansiYellow
	default:
		return ansiRed
	}
}

func dropsColor(drops uint64) string {
	if drops > 0 {
		return ansiRed
	}
	return ansiGreen
}

func exportColor(state projection.ExportSafetyState) string {
	switch state {
	case projection.ExportClean:
		return ansiGreen
	case projection.ExportDirty, projection.ExportRefused:
		return ansiRed
	default:
		return ansiGray
	}
}

func pressureColor(pct int) string {
	switch {
	case pct >= 80:
		return ansiRed
	case pct >= 50:
		return ansiYellow
	default:
		return ansiGreen
	}
}

// renderANSICapture renders the HUD confession deterministically. The
// final viewmodel hash appears as a token so visual-regression checks can
// anchor on it.
func renderANSICapture(vm *projection.ViewModel, eventCount int, vmHash string) string {
	var b bytes.Buffer

	fmt.Fprintf(&b, "%s%s╔══════════════════════════════════════════════════════════════╗%s\n", ansiMagenta, ansiBold, ansiReset)
	fmt.Fprintf(&b, "%s%s║  Vifei Tour · ansi.capture                                   ║%s\n", ansiMagenta, ansiBold, ansiReset)
	fmt.Fprintf(&b, "%s%s╚══════════════════════════════════════════════════════════════╝%s\n", ansiMagenta, ansiBold, ansiReset)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "%s%s── Truth HUD ──%s\n", ansiMagenta, ansiBold, ansiReset)
	fmt.Fprintf(&b, "  %sLevel:%s    %s%s%s\n", ansiWhite, ansiReset, levelColor(vm.DegradationLevel), vm.DegradationLevel, ansiReset)

	agg := vm.AggregationMode
	if vm.AggregationBinSize != nil {
		agg = fmt.Sprintf("%s (bin=%d)", vm.AggregationMode, *vm.AggregationBinSize)
	}
	fmt.Fprintf(&b, "  %sAgg:%s      %s\n", ansiWhite, ansiReset, agg)

	pct := int(vm.QueuePressure() * 100)
	fmt.Fprintf(&b, "  %sPressure:%s %s%d%%%s\n", ansiWhite, ansiReset, pressureColor(pct), pct, ansiReset)
	fmt.Fprintf(&b, "  %sDrops:%s    %s%d%s\n", ansiWhite, ansiReset, dropsColor(vm.TierADrops), vm.TierADrops, ansiReset)
	fmt.Fprintf(&b, "  %sExport:%s   %s%s%s\n", ansiWhite, ansiReset, exportColor(vm.ExportSafetyState), vm.ExportSafetyState, ansiReset)
	fmt.Fprintf(&b, "  %sVersion:%s  %s%s%s\n", ansiWhite, ansiReset, ansiGray, vm.ProjectionInvariantsVersion, ansiReset)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "%s%s── Summary ──%s\n", ansiMagenta, ansiBold, ansiReset)
	fmt.Fprintf(&b, "  %sEvents:%s   %d\n", ansiWhite, ansiReset, eventCount)
	fmt.Fprintf(&b, "  %sHash:%s     %s\n", ansiWhite, ansiReset, vmHash)

	return b.String()
}

func prettyJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
