package artifact

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Reader serves cursor-based, idempotent reads over a run's durable event
// log. Calling ReadSince(0) then repeatedly ReadSince(lastSeq) is safe to
// repeat from any process, any number of times: it only ever depends on
// what has actually been fsynced to events.jsonl.
type Reader struct {
	runDir string
}

// NewReader opens a Reader over an existing run directory.
func NewReader(runDir string) *Reader {
	return &Reader{runDir: runDir}
}

// ReadSince returns every event with Sequence > afterSeq, in order. It
// tolerates a torn final line (a crash mid-append) by stopping there
// rather than failing the whole read.
func (r *Reader) ReadSince(afterSeq int64) ([]hydraapi.Event, error) {
	path := filepath.Join(r.runDir, eventsFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, herr.Wrap(herr.CodeStorageFailed, err, "open event log")
	}
	defer func() { _ = f.Close() }()

	var out []hydraapi.Event
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev hydraapi.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			break // torn trailing write; everything before it is still valid
		}
		if ev.Sequence > afterSeq {
			out = append(out, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, herr.Wrap(herr.CodeStorageFailed, err, "scan event log")
	}
	return out, nil
}

// Tail returns the most recent n events (n <= 0 returns everything).
func (r *Reader) Tail(n int) ([]hydraapi.Event, error) {
	all, err := r.ReadSince(0)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
