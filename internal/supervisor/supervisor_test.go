package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/adapter"
)

func TestSpawnPipesCapturesStdout(t *testing.T) {
	s := New(nil)
	cmd := adapter.Cmd("/bin/sh", "-c", "echo hello; echo world 1>&2").Build()

	h, err := s.Spawn(context.Background(), SpawnRequest{
		Command: cmd,
		Mode:    ModePipes,
		Bounds:  Bounds{Hard: 5 * time.Second},
	})
	require.NoError(t, err)

	code, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Contains(t, string(h.Stdout()), "hello")
	require.Contains(t, string(h.Stderr()), "world")
	require.Equal(t, StatusExited, h.Status())
}

func TestSpawnHardTimeoutKillsProcess(t *testing.T) {
	s := New(nil)
	cmd := adapter.Cmd("/bin/sh", "-c", "sleep 30").Build()

	h, err := s.Spawn(context.Background(), SpawnRequest{
		Command: cmd,
		Mode:    ModePipes,
		Bounds:  Bounds{Hard: 200 * time.Millisecond},
	})
	require.NoError(t, err)

	start := time.Now()
	_, _ = h.Wait()
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, StatusTimedOut, h.Status())
}

func TestCancelStopsRunningProcess(t *testing.T) {
	s := New(nil)
	cmd := adapter.Cmd("/bin/sh", "-c", "sleep 30").Build()

	h, err := s.Spawn(context.Background(), SpawnRequest{Command: cmd, Mode: ModePipes})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.Cancel(2*time.Second))
	_, _ = h.Wait()
	require.Equal(t, StatusCancelled, h.Status())
}

func TestRingBufferTruncatesOldestBytes(t *testing.T) {
	rb := NewRingBuffer(8)
	_, _ = rb.Write([]byte("0123456789"))
	require.True(t, rb.Truncated())
	require.Equal(t, "23456789", string(rb.Bytes()))
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	s := New(nil)
	_, err := s.Spawn(context.Background(), SpawnRequest{Command: adapter.Command{}})
	require.Error(t, err)
}

func TestPumpStreamsLinesToCallback(t *testing.T) {
	s := New(nil)
	var lines []string
	cmd := adapter.Cmd("/bin/sh", "-c", "printf 'a\\nb\\nc\\n'").Build()

	h, err := s.Spawn(context.Background(), SpawnRequest{
		Command: cmd,
		Mode:    ModePipes,
		OnOutput: func(stream string, line []byte) {
			lines = append(lines, string(line))
		},
	})
	require.NoError(t, err)
	_, _ = h.Wait()
	require.Equal(t, strings.Join([]string{"a", "b", "c"}, ","), strings.Join(lines, ","))
}
