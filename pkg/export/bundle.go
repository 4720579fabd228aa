package export

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Mindburn-Labs/vifei/pkg/blob"
	"github.com/Mindburn-Labs/vifei/pkg/canonical"
	"github.com/Mindburn-Labs/vifei/pkg/projection"
)

// ManifestVersion is the bundle manifest schema contract.
const ManifestVersion = "manifest-v0.1"

// zstdLevel is pinned — never the library default, which may drift.
const zstdLevel = 3

// BundleManifest is manifest.json inside the archive.
type BundleManifest struct {
	ManifestVersion string          `json:"manifest_version"`
	Files           []ManifestEntry `json:"files"`
	// CommitIndexRange is [min, max] over bundled events, null when the
	// log is empty.
	CommitIndexRange            *[2]uint64 `json:"commit_index_range"`
	ProjectionInvariantsVersion string     `json:"projection_invariants_version"`
}

// ManifestEntry describes one archived file.
type ManifestEntry struct {
	Path   string `json:"path"`
	Blake3 string `json:"blake3"`
	Size   uint64 `json:"size"`
}

// BundleResult is a successful deterministic bundle.
type BundleResult struct {
	BundlePath string
	// BundleHash is BLAKE3 of the final archive bytes, byte-stable
	// across re-runs on identical inputs.
	BundleHash string
	EventCount int
	BlobCount  int
}

// Bundle produces the normalized POSIX-PAX tar + zstd(3) archive.
//
// Normalizations: entries sorted lexicographically by path, mtime 0,
// uid/gid 0, empty username/groupname, mode 0644, regular files only.
// The archive is assembled in memory so the result can be hashed before
// it touches disk.
func Bundle(content *Content, store *blob.Store, outputPath string) (*BundleResult, error) {
	type entry struct {
		path string
		data []byte
	}

	eventlogBytes, err := os.ReadFile(content.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("export: read eventlog: %w", err)
	}
	entries := []entry{{"eventlog.jsonl", eventlogBytes}}

	blobCount := 0
	if store != nil {
		for _, ref := range content.BlobRefs() {
			data, err := store.Read(ref)
			if err == blob.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry{"blobs/" + ref, data})
			blobCount++
		}
	}

	var indexRange *[2]uint64
	for _, e := range content.Events {
		if indexRange == nil {
			indexRange = &[2]uint64{e.CommitIndex, e.CommitIndex}
			continue
		}
		if e.CommitIndex < indexRange[0] {
			indexRange[0] = e.CommitIndex
		}
		if e.CommitIndex > indexRange[1] {
			indexRange[1] = e.CommitIndex
		}
	}

	manifest := BundleManifest{
		ManifestVersion:             ManifestVersion,
		CommitIndexRange:            indexRange,
		ProjectionInvariantsVersion: projection.InvariantsVersion,
	}
	for _, e := range entries {
		manifest.Files = append(manifest.Files, ManifestEntry{
			Path:   e.path,
			Blake3: canonical.HashBytes(e.data),
			Size:   uint64(len(e.data)),
		})
	}
	manifestJSON, err := prettyJSON(&manifest)
	if err != nil {
		return nil, fmt.Errorf("export: manifest: %w", err)
	}
	entries = append(entries, entry{"manifest.json", manifestJSON})

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("export: zstd init: %w", err)
	}
	tw := tar.NewWriter(enc)
	for _, e := range entries {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.path,
			Size:     int64(len(e.data)),
			Mode:     0o644,
			ModTime:  time.Unix(0, 0).UTC(),
			Uid:      0,
			Gid:      0,
			Uname:    "",
			Gname:    "",
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("export: tar header %s: %w", e.path, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return nil, fmt.Errorf("export: tar data %s: %w", e.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("export: tar finish: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("export: zstd finish: %w", err)
	}

	bundleHash := canonical.HashBytes(compressed.Bytes())
	if err := os.WriteFile(outputPath, compressed.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("export: write bundle: %w", err)
	}

	return &BundleResult{
		BundlePath: outputPath,
		BundleHash: bundleHash,
		EventCount: len(content.Events),
		BlobCount:  blobCount,
	}, nil
}

// prettyJSON marshals with two-space indentation and no HTML escaping.
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
