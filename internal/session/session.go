// Package session implements Hydra's interactive session manager: a
// process-wide, reader-writer-guarded map of PTY-backed adapter sessions
// a human can type into directly, distinct from the unattended races
// internal/orchestrator drives. It reuses internal/supervisor for the
// actual process/PTY plumbing the same way a race's agent runs do.
package session

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/tuzig/vt10x"
	"go.opentelemetry.io/otel/trace"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/supervisor"
	"github.com/hydra-run/hydra/internal/telemetry"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

const (
	defaultCols = 120
	defaultRows = 30

	// maxBufferedEvents bounds one session's in-memory output log; beyond
	// this the oldest events are dropped and Poll's caller sees a gap,
	// the same truncation trade-off supervisor.RingBuffer makes for raw
	// bytes.
	maxBufferedEvents = 20000
)

// AdapterChecker is the subset of adapter.Registry the session manager
// needs: readiness/capability gating and command construction.
type AdapterChecker interface {
	Ready(key string, allowExperimental bool) error
	Cached(key string) (hydraapi.AdapterRecord, bool)
	BuildCommand(key string, req adapter.BuildRequest) (adapter.Command, error)
}

// StartRequest is the input to Manager.Start.
type StartRequest struct {
	AdapterKey        string
	Build             adapter.BuildRequest
	Cwd               string
	Cols, Rows        int
	AllowExperimental bool
	UnsafeMode        bool // skip the clean-working-tree gate
}

type session struct {
	mu  sync.RWMutex
	rec hydraapi.InteractiveSession

	handle  *supervisor.Handle
	writeMu sync.Mutex // exclusive PTY writer handle

	events        []hydraapi.SessionOutputEvent
	nextSeq       int64
	eventsDropped bool

	term *vt10x.State
	span trace.Span

	stopRequested bool
}

func (s *session) appendEvent(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	s.events = append(s.events, hydraapi.SessionOutputEvent{
		Sequence:  s.nextSeq,
		Timestamp: time.Now().UTC(),
		Stream:    "pty",
		Data:      data,
	})
	if len(s.events) > maxBufferedEvents {
		drop := len(s.events) - maxBufferedEvents
		s.events = s.events[drop:]
		s.eventsDropped = true
	}
	if s.term != nil {
		_, _ = s.term.Write(data)
	}
}

func (s *session) eventsSince(cursor int64) []hydraapi.SessionOutputEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hydraapi.SessionOutputEvent, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Sequence > cursor {
			out = append(out, ev)
		}
	}
	return out
}

// snapshot renders the session's current terminal screen as plain text,
// if terminal-state tracking produced one.
func (s *session) snapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.term == nil {
		return ""
	}
	s.term.Lock()
	defer s.term.Unlock()
	return s.term.String()
}

func (s *session) setStatus(status hydraapi.InteractiveSessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Status = status
	if status != hydraapi.SessionRunning && status != hydraapi.SessionStarting && s.rec.StoppedAt == nil {
		now := time.Now().UTC()
		s.rec.StoppedAt = &now
	}
}

func (s *session) record() hydraapi.InteractiveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// Manager owns every live session in the process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	sup      *supervisor.Supervisor
	adapters AdapterChecker
	log      *logger.Logger
}

// New returns a Manager. log may be nil in tests that never exercise a
// logging path.
func New(sup *supervisor.Supervisor, adapters AdapterChecker, log *logger.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		sup:      sup,
		adapters: adapters,
		log:      log,
	}
}

// Start provisions a new PTY-backed session after checking the same
// safety gates a race checks before spawning an agent, plus the
// headless-plain-text capability gate unique to interactive passthrough.
func (m *Manager) Start(ctx context.Context, req StartRequest) (hydraapi.InteractiveSession, error) {
	sessionID := uuid.NewString()
	_, span := telemetry.StartInteractiveSession(ctx, sessionID, req.AdapterKey)

	if err := m.adapters.Ready(req.AdapterKey, req.AllowExperimental); err != nil {
		telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
		return hydraapi.InteractiveSession{}, err
	}

	rec, ok := m.adapters.Cached(req.AdapterKey)
	if !ok {
		err := herr.Newf(herr.CodeNotFound, "adapter %q has not been detected yet", req.AdapterKey)
		telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
		return hydraapi.InteractiveSession{}, err
	}
	plainText := rec.Capabilities[hydraapi.CapPlainText]
	if !plainText.Supported || plainText.Confidence == hydraapi.ConfidenceUnknown {
		err := herr.Newf(herr.CodeSafetyGate, "adapter %q has no observed headless plain-text capability", req.AdapterKey)
		telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
		return hydraapi.InteractiveSession{}, err
	}

	if !req.UnsafeMode {
		dirty, err := hasUncommittedChanges(ctx, req.Cwd)
		if err != nil {
			err = herr.Wrap(herr.CodeSafetyGate, err, "check working tree status")
			telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
			return hydraapi.InteractiveSession{}, err
		}
		if dirty {
			err := herr.New(herr.CodeDirtyWorktree, "working tree has uncommitted changes")
			telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
			return hydraapi.InteractiveSession{}, err
		}
	}

	cmd, err := m.adapters.BuildCommand(req.AdapterKey, req.Build)
	if err != nil {
		err = herr.Wrap(herr.CodeInvalidConfig, err, "build adapter command")
		telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
		return hydraapi.InteractiveSession{}, err
	}

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	s := &session{
		rec: hydraapi.InteractiveSession{
			ID:         sessionID,
			AdapterKey: req.AdapterKey,
			Cwd:        req.Cwd,
			Status:     hydraapi.SessionStarting,
			Cols:       cols,
			Rows:       rows,
			StartedAt:  time.Now().UTC(),
		},
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		span: span,
	}

	handle, err := m.sup.Spawn(ctx, supervisor.SpawnRequest{
		Command: cmd,
		Dir:     req.Cwd,
		Mode:    supervisor.ModePTY,
		Cols:    cols,
		Rows:    rows,
		OnOutput: func(_ string, line []byte) {
			s.appendEvent(line)
		},
	})
	if err != nil {
		err = herr.Wrap(herr.CodeSpawnFailed, err, "start interactive session")
		telemetry.EndInteractiveSession(span, string(hydraapi.SessionFailed), err)
		return hydraapi.InteractiveSession{}, err
	}
	s.handle = handle
	s.setStatus(hydraapi.SessionRunning)

	m.mu.Lock()
	m.sessions[s.rec.ID] = s
	m.mu.Unlock()

	go m.awaitExit(s)

	return s.record(), nil
}

func (m *Manager) awaitExit(s *session) {
	_, err := s.handle.Wait()

	s.mu.RLock()
	stopRequested := s.stopRequested
	s.mu.RUnlock()

	var final hydraapi.InteractiveSessionStatus
	switch {
	case stopRequested:
		final = hydraapi.SessionStopped
	case err != nil || s.handle.Status() == supervisor.StatusTimedOut:
		final = hydraapi.SessionFailed
	default:
		final = hydraapi.SessionCompleted
	}
	s.setStatus(final)
	if s.span != nil {
		telemetry.EndInteractiveSession(s.span, string(final), err)
	}
}

// Poll returns every output event strictly after cursor, plus the new
// cursor value to pass on the next call. A cursor of 0 returns everything
// buffered.
func (m *Manager) Poll(sessionID string, cursor int64) ([]hydraapi.SessionOutputEvent, int64, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, cursor, err
	}
	events := s.eventsSince(cursor)
	newCursor := cursor
	if len(events) > 0 {
		newCursor = events[len(events)-1].Sequence
	}
	return events, newCursor, nil
}

// Write queues input for the session's PTY, serialized against any other
// concurrent write to the same session.
func (m *Manager) Write(sessionID string, input []byte) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, werr := s.handle.Write(input)
	if werr != nil {
		return herr.Wrap(herr.CodeInternal, werr, "write session input")
	}
	return nil
}

// Resize forwards a terminal resize to the session's PTY and its parsed
// terminal-state tracker.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if err := s.handle.Resize(uint16(cols), uint16(rows)); err != nil {
		return herr.Wrap(herr.CodeInternal, err, "resize session")
	}
	s.mu.Lock()
	s.rec.Cols, s.rec.Rows = cols, rows
	if s.term != nil {
		s.term.Resize(cols, rows)
	}
	s.mu.Unlock()
	return nil
}

// Stop requests graceful cancellation of the session's process.
func (m *Manager) Stop(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()

	if err := s.handle.Cancel(5 * time.Second); err != nil {
		if m.log != nil {
			m.log.Warn("session stop failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

// List returns a snapshot of every session's record, including ones that
// have since stopped, most-recently-started first.
func (m *Manager) List() []hydraapi.InteractiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]hydraapi.InteractiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.record())
	}
	return out
}

// Snapshot returns the session's current terminal screen as plain text,
// normalized from its parsed terminal-state tracker rather than the raw
// ANSI byte stream Poll returns.
func (m *Manager) Snapshot(sessionID string) (string, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return "", err
	}
	return s.snapshot(), nil
}

func (m *Manager) get(sessionID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, herr.Newf(herr.CodeSessionUnknown, "unknown session %q", sessionID)
	}
	return s, nil
}

func hasUncommittedChanges(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) != "", nil
}
