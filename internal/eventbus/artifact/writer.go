// Package artifact is the durable, gap-free system of record for run
// events. Every event a run produces is appended here before (and
// independently of) any eventbus.Bus fan-out; poll_events always reads
// from here, never from the live bus.
//
// Layout on disk, under one run's directory:
//
//	<runDir>/manifest.json
//	<runDir>/events.jsonl
//	<runDir>/<agentKey>/stdout.raw
//	<runDir>/<agentKey>/stderr.raw
//	<runDir>/<agentKey>/diff.patch
//	<runDir>/<agentKey>/score.json
//	<runDir>/<agentKey>/test_output.txt
//	<runDir>/<agentKey>/lint_output.txt
//	<runDir>/<agentKey>/conflict_report.txt
package artifact

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

const eventsFileName = "events.jsonl"
const manifestFileName = "manifest.json"

// Writer appends events to one run's durable log and assigns each one the
// next monotonic, gap-free sequence number. One Writer must not be shared
// across processes for the same run; within a process it is safe for
// concurrent use.
type Writer struct {
	runDir  string
	mu      sync.Mutex
	f       *os.File
	nextSeq int64
}

// OpenWriter opens (creating if absent) the event log for runDir, resuming
// the sequence counter from whatever was already written.
func OpenWriter(runDir string) (*Writer, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, herr.Wrap(herr.CodeStorageFailed, err, "create run directory")
	}

	path := filepath.Join(runDir, eventsFileName)
	last, err := lastSequence(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, herr.Wrap(herr.CodeStorageFailed, err, "open event log")
	}

	return &Writer{runDir: runDir, f: f, nextSeq: last + 1}, nil
}

func lastSequence(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, herr.Wrap(herr.CodeStorageFailed, err, "open event log for recovery")
	}
	defer func() { _ = f.Close() }()

	var last int64
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		var ev hydraapi.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // a torn final line from a crash; skip, don't fail recovery
		}
		if ev.Sequence > last {
			last = ev.Sequence
		}
	}
	return last, scanner.Err()
}

// Append assigns ev the next sequence number, writes it, and fsyncs before
// returning so a crash immediately after Append cannot lose it.
func (w *Writer) Append(ev hydraapi.Event) (hydraapi.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ev.Sequence = w.nextSeq
	data, err := json.Marshal(ev)
	if err != nil {
		return ev, herr.Wrap(herr.CodeInternal, err, "marshal event")
	}
	data = append(data, '\n')

	if _, err := w.f.Write(data); err != nil {
		return ev, herr.Wrap(herr.CodeStorageFailed, err, "append event")
	}
	if err := w.f.Sync(); err != nil {
		return ev, herr.Wrap(herr.CodeStorageFailed, err, "fsync event log")
	}

	w.nextSeq++
	return ev, nil
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// WriteManifest writes (or overwrites) the run's manifest atomically: it
// writes to a temp file in the same directory and renames, so a reader
// never observes a partially-written manifest.
func WriteManifest(runDir string, m hydraapi.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return herr.Wrap(herr.CodeInternal, err, "marshal manifest")
	}

	path := filepath.Join(runDir, manifestFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return herr.Wrap(herr.CodeStorageFailed, err, "write manifest temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return herr.Wrap(herr.CodeStorageFailed, err, "rename manifest into place")
	}
	return nil
}

// ReadManifest reads a run's manifest.json.
func ReadManifest(runDir string) (hydraapi.Manifest, error) {
	var m hydraapi.Manifest
	data, err := os.ReadFile(filepath.Join(runDir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, herr.New(herr.CodeNotFound, "manifest not found")
		}
		return m, herr.Wrap(herr.CodeStorageFailed, err, "read manifest")
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, herr.Wrap(herr.CodeInternal, err, "parse manifest")
	}
	return m, nil
}

// ArtifactPath returns the on-disk path for one of a run's fixed-kind
// artifacts, agentKey empty for run-scoped kinds.
func ArtifactPath(runDir, agentKey string, kind hydraapi.ArtifactKind) string {
	dir := runDir
	if agentKey != "" {
		dir = filepath.Join(runDir, agentKey)
	}
	var name string
	switch kind {
	case hydraapi.ArtifactManifest:
		name = manifestFileName
	case hydraapi.ArtifactEventsJSONL:
		name = eventsFileName
	case hydraapi.ArtifactRawStdout:
		name = "stdout.raw"
	case hydraapi.ArtifactRawStderr:
		name = "stderr.raw"
	case hydraapi.ArtifactDiffUnified:
		name = "diff.patch"
	case hydraapi.ArtifactScoreJSON:
		name = "score.json"
	case hydraapi.ArtifactTestOutput:
		name = "test_output.txt"
	case hydraapi.ArtifactLintOutput:
		name = "lint_output.txt"
	case hydraapi.ArtifactConflictReport:
		name = "conflict_report.txt"
	default:
		name = string(kind)
	}
	return filepath.Join(dir, name)
}

// WriteArtifact persists raw bytes for a fixed-kind artifact and returns a
// hydraapi.Artifact reference including its content hash.
func WriteArtifact(runDir, agentKey string, kind hydraapi.ArtifactKind, data []byte) (hydraapi.Artifact, error) {
	path := ArtifactPath(runDir, agentKey, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hydraapi.Artifact{}, herr.Wrap(herr.CodeStorageFailed, err, "create artifact directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return hydraapi.Artifact{}, herr.Wrap(herr.CodeStorageFailed, err, fmt.Sprintf("write artifact %s", kind))
	}
	return hydraapi.Artifact{
		RunID:    filepath.Base(runDir),
		AgentKey: agentKey,
		Kind:     kind,
		Path:     path,
		SHA256:   sha256Hex(data),
	}, nil
}
