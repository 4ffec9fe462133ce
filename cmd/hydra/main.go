// Command hydra is a thin command-line front end over internal/engine.Engine.
// It parses arguments, wires the engine's collaborators, dispatches one
// command, and prints JSON to stdout. It holds no business logic of its
// own: every behavior lives in internal/engine and the packages it
// composes, the same split cmd/agentctl keeps between argument handling
// and internal/agentctl/process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/api"
	"github.com/hydra-run/hydra/internal/common/config"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/doctor"
	"github.com/hydra-run/hydra/internal/engine"
	"github.com/hydra-run/hydra/internal/eventbus"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/merge"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/internal/scoring"
	"github.com/hydra-run/hydra/internal/session"
	"github.com/hydra-run/hydra/internal/store"
	"github.com/hydra-run/hydra/internal/store/postgres"
	"github.com/hydra-run/hydra/internal/store/sqlite"
	"github.com/hydra-run/hydra/internal/supervisor"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// globalFlags are accepted before the subcommand name, the same
// flag-before-subcommand convention the spf13/cobra-free mcp-server
// binary uses for its single flat flag set.
var (
	repoFlag     = flag.String("repo", ".", "repository root")
	natsURLFlag  = flag.String("nats-url", "", "NATS server URL; unset uses the in-process event bus")
	postgresFlag = flag.String("postgres-dsn", "", "Postgres DSN for the run index; unset uses sqlite")
	addrFlag     = flag.String("addr", ":8089", "listen address for the serve command")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]

	repoRoot, err := filepath.Abs(*repoFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve repo root: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(herr.ExitCode(herr.CodeInvalidConfig))
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	eng, cleanup, err := buildEngine(repoRoot, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(herr.ExitCode(herr.CodeOf(err)))
	}
	defer cleanup()

	if cmd == "serve" {
		serve(eng, log)
		return
	}

	handler, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	result, err := handler(ctx, eng, repoRoot, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(herr.ExitCode(herr.CodeOf(err)))
	}
	if result != nil {
		printJSON(result)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: hydra [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	names := make([]string, 0, len(commands)+1)
	names = append(names, "serve")
	for name := range commands {
		names = append(names, name)
	}
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", name)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// buildEngine composes an Engine from freshly constructed collaborators,
// the same dependency graph internal/engine.New documents, wired here
// instead of in a DI container since the whole graph is built exactly
// once per process.
func buildEngine(repoRoot string, cfg config.Config, log *logger.Logger) (engine.Engine, func(), error) {
	adapters := adapter.New(log)

	workspaceDir := filepath.Join(repoRoot, cfg.General.WorkspaceDir)
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, nil, herr.Wrap(herr.CodeInvalidConfig, err, "create workspace directory")
	}

	index, err := openIndex(workspaceDir)
	if err != nil {
		return nil, nil, err
	}

	wt, err := worktree.NewManager(worktree.DefaultConfig(), index, log)
	if err != nil {
		return nil, nil, herr.Wrap(herr.CodeInvalidConfig, err, "construct worktree manager")
	}

	sup := supervisor.New(log)

	bus, err := openBus(log)
	if err != nil {
		return nil, nil, err
	}

	scorer := scoring.New(cfg.Scoring, log)
	orch := orchestrator.New(cfg, adapters, wt, sup, bus, scorer, log)
	mergeCoordinator := merge.New(log)
	sessions := session.New(sup, adapters, log)
	doc := doctor.New(adapters, log)

	eng := engine.New(cfg, adapters, orch, mergeCoordinator, sessions, doc, index, log)

	cleanup := func() {
		if err := bus.Close(); err != nil {
			log.Warn("close event bus", zap.Error(err))
		}
		if err := index.Close(); err != nil {
			log.Warn("close run index", zap.Error(err))
		}
	}
	return eng, cleanup, nil
}

func openIndex(workspaceDir string) (store.Index, error) {
	if *postgresFlag != "" {
		idx, err := postgres.Open(context.Background(), *postgresFlag, 10)
		if err != nil {
			return nil, herr.Wrap(herr.CodeStorageFailed, err, "open postgres run index")
		}
		return idx, nil
	}
	dbPath := filepath.Join(workspaceDir, "index.db")
	idx, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, herr.Wrap(herr.CodeStorageFailed, err, "open sqlite run index")
	}
	return idx, nil
}

func openBus(log *logger.Logger) (eventbus.Bus, error) {
	if *natsURLFlag != "" {
		bus, err := eventbus.NewNATSBus(*natsURLFlag, log)
		if err != nil {
			return nil, herr.Wrap(herr.CodeInvalidConfig, err, "connect to NATS")
		}
		return bus, nil
	}
	return eventbus.NewMemoryBus(log), nil
}

// serve starts the HTTP transposition of the engine and blocks until a
// shutdown signal arrives, mirroring agentctl's listen-then-wait-for-
// SIGINT/SIGTERM shape.
func serve(eng engine.Engine, log *logger.Logger) {
	apiServer := api.NewServer(eng, log)

	srv := &http.Server{
		Addr:         *addrFlag,
		Handler:      apiServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}

// commandFunc handles one spec.md §6 operation, returning the value to
// print as JSON (nil to print nothing).
type commandFunc func(ctx context.Context, eng engine.Engine, repoRoot string, args []string) (any, error)

var commands = map[string]commandFunc{
	"list-adapters":              cmdListAdapters,
	"run-preflight":              cmdRunPreflight,
	"start-race":                 cmdStartRace,
	"poll-race-events":           cmdPollRaceEvents,
	"get-race-result":            cmdGetRaceResult,
	"get-candidate-diff":         cmdGetCandidateDiff,
	"preview-merge":              cmdPreviewMerge,
	"execute-merge":              cmdExecuteMerge,
	"get-working-tree-status":    cmdGetWorkingTreeStatus,
	"start-interactive-session":  cmdStartInteractiveSession,
	"poll-interactive-events":    cmdPollInteractiveEvents,
	"write-interactive-input":    cmdWriteInteractiveInput,
	"resize-interactive-session": cmdResizeInteractiveSession,
	"stop-interactive-session":   cmdStopInteractiveSession,
	"list-interactive-sessions":  cmdListInteractiveSessions,
}

func cmdListAdapters(ctx context.Context, eng engine.Engine, _ string, _ []string) (any, error) {
	return eng.ListAdapters(ctx), nil
}

func cmdRunPreflight(ctx context.Context, eng engine.Engine, repoRoot string, _ []string) (any, error) {
	return eng.RunPreflight(ctx, repoRoot), nil
}

func cmdStartRace(ctx context.Context, eng engine.Engine, repoRoot string, args []string) (any, error) {
	fs := flag.NewFlagSet("start-race", flag.ExitOnError)
	prompt := fs.String("task-prompt", "", "task prompt given to every agent")
	agentsCSV := fs.String("agents", "", "comma-separated adapter keys")
	allowExperimental := fs.Bool("allow-experimental", false, "allow experimental adapters")
	cwd := fs.String("cwd", repoRoot, "repository working directory")
	maxTokens := fs.Int64("max-tokens", 0, "budget: max total tokens (0 = unlimited)")
	maxCost := fs.Float64("max-cost-usd", 0, "budget: max cost in USD (0 = unlimited)")
	maxRuntime := fs.Float64("max-runtime-minutes", 0, "budget: max runtime in minutes (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	req := orchestrator.StartRunRequest{
		RepoRoot:          *cwd,
		TaskPrompt:        *prompt,
		Adapters:          splitCSV(*agentsCSV),
		AllowExperimental: *allowExperimental,
		Budget: hydraapi.Budget{
			MaxTokensTotal:    *maxTokens,
			MaxCostUSD:        *maxCost,
			MaxRuntimeMinutes: *maxRuntime,
		},
	}
	return eng.StartRace(ctx, req)
}

func cmdPollRaceEvents(ctx context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("poll-race-events", flag.ExitOnError)
	runID := fs.String("run-id", "", "run id")
	cursor := fs.Int64("cursor", 0, "event cursor")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	events, newCursor, err := eng.PollRaceEvents(ctx, *runID, *cursor)
	if err != nil {
		return nil, err
	}
	return struct {
		Events []hydraapi.Event `json:"events"`
		Cursor int64            `json:"cursor"`
	}{events, newCursor}, nil
}

func cmdGetRaceResult(_ context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("get-race-result", flag.ExitOnError)
	runID := fs.String("run-id", "", "run id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return eng.GetRaceResult(*runID)
}

func cmdGetCandidateDiff(_ context.Context, eng engine.Engine, repoRoot string, args []string) (any, error) {
	fs := flag.NewFlagSet("get-candidate-diff", flag.ExitOnError)
	runID := fs.String("run-id", "", "run id")
	agentKey := fs.String("agent-key", "", "adapter key")
	cwd := fs.String("cwd", repoRoot, "repository working directory")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	diff, err := eng.GetCandidateDiff(*runID, *agentKey, *cwd)
	if err != nil {
		return nil, err
	}
	os.Stdout.Write(diff)
	return nil, nil
}

func cmdPreviewMerge(ctx context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("preview-merge", flag.ExitOnError)
	runID := fs.String("run-id", "", "run id")
	agentKey := fs.String("agent-key", "", "adapter key")
	unsafe := fs.Bool("unsafe", false, "skip the clean-working-tree gate")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return eng.PreviewMerge(ctx, *runID, *agentKey, *unsafe)
}

func cmdExecuteMerge(ctx context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("execute-merge", flag.ExitOnError)
	runID := fs.String("run-id", "", "run id")
	agentKey := fs.String("agent-key", "", "adapter key")
	unsafe := fs.Bool("unsafe", false, "skip the clean-working-tree gate")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return eng.ExecuteMerge(ctx, *runID, *agentKey, *unsafe)
}

func cmdGetWorkingTreeStatus(ctx context.Context, eng engine.Engine, repoRoot string, args []string) (any, error) {
	fs := flag.NewFlagSet("get-working-tree-status", flag.ExitOnError)
	cwd := fs.String("cwd", repoRoot, "repository working directory")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return eng.GetWorkingTreeStatus(ctx, *cwd)
}

func cmdStartInteractiveSession(ctx context.Context, eng engine.Engine, repoRoot string, args []string) (any, error) {
	fs := flag.NewFlagSet("start-interactive-session", flag.ExitOnError)
	adapterKey := fs.String("adapter-key", "", "adapter key")
	cwd := fs.String("cwd", repoRoot, "repository working directory")
	cols := fs.Int("cols", 0, "terminal columns")
	rows := fs.Int("rows", 0, "terminal rows")
	allowExperimental := fs.Bool("allow-experimental", false, "allow experimental adapters")
	unsafe := fs.Bool("unsafe", false, "skip the clean-working-tree gate")
	model := fs.String("model", "", "adapter model override")
	prompt := fs.String("prompt", "", "initial prompt, if the adapter takes one")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return eng.StartInteractiveSession(ctx, session.StartRequest{
		AdapterKey: *adapterKey,
		Build: adapter.BuildRequest{
			Model:       *model,
			Prompt:      *prompt,
			WorktreeDir: *cwd,
		},
		Cwd:               *cwd,
		Cols:              *cols,
		Rows:              *rows,
		AllowExperimental: *allowExperimental,
		UnsafeMode:        *unsafe,
	})
}

func cmdPollInteractiveEvents(_ context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("poll-interactive-events", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	cursor := fs.Int64("cursor", 0, "event cursor")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	events, newCursor, err := eng.PollInteractiveEvents(*sessionID, *cursor)
	if err != nil {
		return nil, err
	}
	return struct {
		Events []hydraapi.SessionOutputEvent `json:"events"`
		Cursor int64                         `json:"cursor"`
	}{events, newCursor}, nil
}

func cmdWriteInteractiveInput(_ context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("write-interactive-input", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	data := fs.String("data", "", "raw bytes to write, as-is")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return nil, eng.WriteInteractiveInput(*sessionID, []byte(*data))
}

func cmdResizeInteractiveSession(_ context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("resize-interactive-session", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	cols := fs.Int("cols", defaultSessionCols, "terminal columns")
	rows := fs.Int("rows", defaultSessionRows, "terminal rows")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return nil, eng.ResizeInteractiveSession(*sessionID, *cols, *rows)
}

func cmdStopInteractiveSession(_ context.Context, eng engine.Engine, _ string, args []string) (any, error) {
	fs := flag.NewFlagSet("stop-interactive-session", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return nil, eng.StopInteractiveSession(*sessionID)
}

func cmdListInteractiveSessions(_ context.Context, eng engine.Engine, _ string, _ []string) (any, error) {
	return eng.ListInteractiveSessions(), nil
}

const (
	defaultSessionCols = 120
	defaultSessionRows = 30
)

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
