package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

func TestRegistryListIsStableAndClosed(t *testing.T) {
	r := New(nil)
	keys := r.List()
	assert.Equal(t, []string{"claude", "codex", "cursor-agent", "acp", "mock"}, keys)
}

func TestRegistryGetUnknownAdapter(t *testing.T) {
	r := New(nil)
	_, err := r.Get("does-not-exist")
	require.Error(t, err)
}

func TestRegistryDetectMissingBinary(t *testing.T) {
	r := New(nil)
	records := r.Detect(context.Background())
	require.Len(t, records, 4)
	for _, rec := range records {
		if rec.Key == "mock" {
			continue
		}
		assert.Equal(t, hydraapi.DetectMissing, rec.Detection, "adapter %s", rec.Key)
	}
}

func TestRegistryReadyBlocksExperimentalByDefault(t *testing.T) {
	r := New(nil)
	r.Detect(context.Background())
	err := r.Ready("cursor-agent", false)
	require.Error(t, err)
}

func TestBuildCommandNeverPutsPromptInShellInterpolatedFlag(t *testing.T) {
	r := New(nil)
	cmd, err := r.BuildCommand("claude", BuildRequest{Prompt: "rm -rf /; echo pwned", Model: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "rm -rf /; echo pwned", cmd.Stdin, "claude delivers prompts via stdin")
	for _, a := range cmd.Args() {
		assert.NotContains(t, a, "pwned")
	}
}

func TestLineParserFallsBackAfterConsecutiveFailures(t *testing.T) {
	def := NewCursorAgent()
	p := NewLineParser(def)

	for i := 0; i < degradeFailureThreshold; i++ {
		ev, err := p.Feed("run1", "cursor-agent", int64(i+1), []byte("plain text output"), time.Now())
		require.NoError(t, err)
		require.Equal(t, hydraapi.EvAgentStdout, ev.EventType)
	}

	degraded, reason := p.Degraded()
	assert.True(t, degraded)
	assert.NotEmpty(t, reason)
}

func TestMockAdapterParsesOwnProtocol(t *testing.T) {
	def := NewMock()
	ev, ok, err := def.ParseLine([]byte(`{"type":"message","text":"hello"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hydraapi.EvMessage, ev.EventType)
	assert.Equal(t, "hello", ev.Data["text"])
}
