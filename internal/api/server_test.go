package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/doctor"
	"github.com/hydra-run/hydra/internal/engine"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/merge"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/internal/session"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// fakeEngine implements engine.Engine entirely in memory, so the HTTP
// layer can be tested without spinning up git repos or real processes.
type fakeEngine struct {
	startRaceErr error
	run          hydraapi.Run
	raceResult   engine.RaceResult
	executeErr   error
}

func (f *fakeEngine) ListAdapters(context.Context) []hydraapi.AdapterRecord { return nil }
func (f *fakeEngine) RunPreflight(context.Context, string) doctor.Report    { return doctor.Report{OK: true} }
func (f *fakeEngine) StartRace(context.Context, orchestrator.StartRunRequest) (hydraapi.Run, error) {
	return f.run, f.startRaceErr
}
func (f *fakeEngine) PollRaceEvents(context.Context, string, int64) ([]hydraapi.Event, int64, error) {
	return []hydraapi.Event{{Sequence: 1, EventType: hydraapi.EvRunStarted}}, 1, nil
}
func (f *fakeEngine) GetRaceResult(string) (engine.RaceResult, error) { return f.raceResult, nil }
func (f *fakeEngine) GetCandidateDiff(string, string, string) ([]byte, error) {
	return []byte("diff --git a b\n"), nil
}
func (f *fakeEngine) PreviewMerge(context.Context, string, string, bool) (merge.PreviewResult, error) {
	return merge.PreviewResult{Conflicted: true, ConflictFiles: []string{"a.go"}}, nil
}
func (f *fakeEngine) ExecuteMerge(context.Context, string, string, bool) (merge.ExecuteResult, error) {
	return merge.ExecuteResult{MergeCommitSHA: "abc123"}, f.executeErr
}
func (f *fakeEngine) GetWorkingTreeStatus(context.Context, string) (engine.WorkingTreeStatus, error) {
	return engine.WorkingTreeStatus{Clean: true}, nil
}
func (f *fakeEngine) StartInteractiveSession(context.Context, session.StartRequest) (hydraapi.InteractiveSession, error) {
	return hydraapi.InteractiveSession{ID: "sess-1"}, nil
}
func (f *fakeEngine) PollInteractiveEvents(string, int64) ([]hydraapi.SessionOutputEvent, int64, error) {
	return nil, 0, nil
}
func (f *fakeEngine) WriteInteractiveInput(string, []byte) error        { return nil }
func (f *fakeEngine) ResizeInteractiveSession(string, int, int) error    { return nil }
func (f *fakeEngine) StopInteractiveSession(string) error                { return nil }
func (f *fakeEngine) ListInteractiveSessions() []hydraapi.InteractiveSession {
	return []hydraapi.InteractiveSession{{ID: "sess-1"}}
}

var _ engine.Engine = (*fakeEngine)(nil)

func newTestServer(fe *fakeEngine) *Server {
	return NewServer(fe, nil)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsOK(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRaceReturnsAccepted(t *testing.T) {
	s := newTestServer(&fakeEngine{run: hydraapi.Run{ID: "run-1", Status: hydraapi.RunRunning}})
	rec := doRequest(s, http.MethodPost, "/v1/races", `{"repo_root":"/repo","adapters":["mock"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "run-1")
}

func TestStartRaceMapsInvalidConfigToBadRequest(t *testing.T) {
	s := newTestServer(&fakeEngine{startRaceErr: herr.New(herr.CodeInvalidConfig, "repo_root is required")})
	rec := doRequest(s, http.MethodPost, "/v1/races", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_config")
}

func TestExecuteMergeMapsSafetyGateToConflict(t *testing.T) {
	s := newTestServer(&fakeEngine{executeErr: herr.New(herr.CodeSafetyGate, "candidate failed scoring gates")})
	rec := doRequest(s, http.MethodPost, "/v1/races/run-1/candidates/mock/merge/execute", `{}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetCandidateDiffReturnsDiffBody(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := doRequest(s, http.MethodGet, "/v1/races/run-1/candidates/mock/diff", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "diff --git")
}

func TestStartInteractiveSessionReturnsCreated(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := doRequest(s, http.MethodPost, "/v1/sessions", `{"adapter_key":"mock","cwd":"/repo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "sess-1")
}

func TestListInteractiveSessionsReturnsOK(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := doRequest(s, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sess-1")
}

func TestStopInteractiveSessionReturnsNoContent(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := doRequest(s, http.MethodPost, "/v1/sessions/sess-1/stop", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}
