package artifact

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	for i := 0; i < 3; i++ {
		ev, err := w.Append(hydraapi.Event{RunID: "r1", EventType: hydraapi.EvMessage})
		require.NoError(t, err)
		require.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestOpenWriterResumesSequenceAfterRestart(t *testing.T) {
	dir := t.TempDir()
	w1, err := OpenWriter(dir)
	require.NoError(t, err)
	_, err = w1.Append(hydraapi.Event{RunID: "r1"})
	require.NoError(t, err)
	_, err = w1.Append(hydraapi.Event{RunID: "r1"})
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := OpenWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w2.Close() }()
	ev, err := w2.Append(hydraapi.Event{RunID: "r1"})
	require.NoError(t, err)
	require.Equal(t, int64(3), ev.Sequence)
}

func TestReaderReadSinceIsCursorBasedAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	for i := 0; i < 5; i++ {
		_, err := w.Append(hydraapi.Event{RunID: "r1", EventType: hydraapi.EvProgress})
		require.NoError(t, err)
	}

	r := NewReader(dir)
	first, err := r.ReadSince(0)
	require.NoError(t, err)
	require.Len(t, first, 5)

	second, err := r.ReadSince(first[len(first)-1].Sequence)
	require.NoError(t, err)
	require.Empty(t, second)

	repeat, err := r.ReadSince(0)
	require.NoError(t, err)
	require.Equal(t, first, repeat)
}

func TestManifestRoundTripsAtomically(t *testing.T) {
	dir := t.TempDir()
	m := hydraapi.Manifest{
		SchemaVersion: 1,
		RunID:         "r1",
		RepoRoot:      "/repo",
		Adapters:      []string{"claude", "codex"},
		Status:        hydraapi.RunRunning,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, WriteManifest(dir, m))

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, m.RunID, got.RunID)
	require.Equal(t, m.Adapters, got.Adapters)
}

func TestReadManifestMissingReturnsNotFound(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	require.Error(t, err)
}

func TestWriteArtifactComputesHash(t *testing.T) {
	dir := t.TempDir()
	data := []byte("diff --git a/x b/x\n")
	art, err := WriteArtifact(dir, "claude", hydraapi.ArtifactDiffUnified, data)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "claude", "diff.patch"), art.Path)
	require.NotEmpty(t, art.SHA256)
}
