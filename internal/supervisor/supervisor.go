// Package supervisor spawns and watches one adapter CLI invocation at a
// time: either PTY-backed (so interactive/TUI-style adapters behave as
// they would in a real terminal) or pipe-backed (plain stdout/stderr),
// enforcing three independent timeout bounds and a SIGTERM-then-SIGKILL
// grace window on shutdown.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/herr"
)

// Mode selects how the child process's I/O is wired up.
type Mode string

const (
	// ModePTY runs the adapter attached to a pseudo-terminal, for CLIs
	// that behave differently (or only work at all) under a real tty.
	ModePTY Mode = "pty"
	// ModePipes runs the adapter with plain stdout/stderr pipes, for
	// CLIs with a well-defined line-oriented protocol.
	ModePipes Mode = "pipes"
)

// Status is the lifecycle state of a supervised process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusExited    Status = "exited"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Bounds are the three independent timeout limits a supervised process is held to.
type Bounds struct {
	// Start is how long to wait for the process to produce its first
	// byte of output before treating it as hung on startup.
	Start time.Duration
	// Idle is how long to wait between output events before treating
	// the process as stuck.
	Idle time.Duration
	// Hard is the absolute ceiling on total runtime regardless of
	// output activity.
	Hard time.Duration
}

// SpawnRequest describes one adapter invocation.
type SpawnRequest struct {
	Command    adapter.Command
	Dir        string
	Env        []string
	Mode       Mode
	Bounds     Bounds
	Cols, Rows int // only used in ModePTY; defaults to 120x40

	// OnOutput is invoked for every line read from stdout ("stdout") or
	// stderr ("stderr"); in PTY mode everything arrives as "stdout".
	OnOutput func(stream string, line []byte)
}

// Handle is a running or finished supervised process.
type Handle struct {
	cmd    *exec.Cmd
	pty    PTY
	stdout *RingBuffer
	stderr *RingBuffer

	mu       sync.Mutex
	status   Status
	exitCode int
	exitErr  error

	done chan struct{}
	log  *logger.Logger
}

// Supervisor spawns adapter processes according to SpawnRequest.
type Supervisor struct {
	log *logger.Logger
}

// New returns a Supervisor. A nil logger falls back to logger.Default().
func New(log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{log: log.With(zap.String("component", "supervisor"))}
}

// Spawn starts req.Command and returns a Handle immediately; the process
// runs asynchronously until it exits, is cancelled, or trips one of the
// three timeout bounds.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	if req.Command.IsEmpty() {
		return nil, herr.New(herr.CodeInvalidConfig, "spawn requires a non-empty command")
	}

	cmd := exec.Command(req.Command.Program, req.Command.Args()...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}

	h := &Handle{
		cmd:    cmd,
		stdout: NewRingBuffer(1 << 20),
		stderr: NewRingBuffer(1 << 20),
		status: StatusRunning,
		done:   make(chan struct{}),
		log:    s.log,
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 40
	}

	var stdoutR, stderrR io.Reader
	switch req.Mode {
	case ModePTY:
		p, err := startPTY(cmd, cols, rows)
		if err != nil {
			return nil, herr.Wrap(herr.CodeSpawnFailed, err, "start pty")
		}
		h.pty = p
		stdoutR = p
		if req.Command.Stdin != "" {
			go func() {
				_, _ = io.WriteString(p, req.Command.Stdin+"\n")
			}()
		}
	case ModePipes, "":
		applyPdeathsig(cmd)
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, herr.Wrap(herr.CodeSpawnFailed, err, "stdout pipe")
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, herr.Wrap(herr.CodeSpawnFailed, err, "stderr pipe")
		}
		if req.Command.Stdin != "" {
			cmd.Stdin = strings.NewReader(req.Command.Stdin)
		}
		if err := cmd.Start(); err != nil {
			return nil, herr.Wrap(herr.CodeSpawnFailed, err, "start process")
		}
		stdoutR, stderrR = stdoutPipe, stderrPipe
	default:
		return nil, herr.Newf(herr.CodeInvalidConfig, "unknown supervisor mode %q", req.Mode)
	}

	activity := make(chan struct{}, 1)
	notifyActivity := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go h.pump("stdout", stdoutR, h.stdout, req.OnOutput, notifyActivity, &wg)
	if stderrR != nil {
		wg.Add(1)
		go h.pump("stderr", stderrR, h.stderr, req.OnOutput, notifyActivity, &wg)
	}

	go h.wait(&wg)
	go h.watch(ctx, req.Bounds, activity)

	return h, nil
}

func (h *Handle) pump(stream string, r io.Reader, buf *RingBuffer, onOutput func(string, []byte), notify func(), wg *sync.WaitGroup) {
	defer wg.Done()
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		buf.Write(line)
		buf.Write([]byte("\n"))
		notify()
		if onOutput != nil {
			cp := make([]byte, len(line))
			copy(cp, line)
			onOutput(stream, cp)
		}
	}
}

func (h *Handle) wait(wg *sync.WaitGroup) {
	wg.Wait()
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.status == StatusRunning {
		h.status = StatusExited
	}
	h.exitErr = err
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Unlock()

	close(h.done)
}

func (h *Handle) watch(ctx context.Context, bounds Bounds, activity <-chan struct{}) {
	var hardTimer, startTimer, idleTimer *time.Timer
	if bounds.Hard > 0 {
		hardTimer = time.NewTimer(bounds.Hard)
		defer hardTimer.Stop()
	}
	if bounds.Start > 0 {
		startTimer = time.NewTimer(bounds.Start)
		defer startTimer.Stop()
	}
	if bounds.Idle > 0 {
		idleTimer = time.NewTimer(bounds.Idle)
		defer idleTimer.Stop()
	}

	timedOut := func() {
		h.mu.Lock()
		if h.status != StatusRunning {
			h.mu.Unlock()
			return
		}
		h.status = StatusTimedOut
		h.mu.Unlock()
		_ = h.Cancel(5 * time.Second)
	}

	for {
		var startCh, idleCh, hardCh <-chan time.Time
		if startTimer != nil {
			startCh = startTimer.C
		}
		if idleTimer != nil {
			idleCh = idleTimer.C
		}
		if hardTimer != nil {
			hardCh = hardTimer.C
		}

		select {
		case <-h.done:
			return
		case <-ctx.Done():
			_ = h.Cancel(5 * time.Second)
			return
		case <-activity:
			startTimer = nil // first output satisfies the start bound permanently
			if bounds.Idle > 0 {
				if idleTimer != nil {
					idleTimer.Stop()
				}
				idleTimer = time.NewTimer(bounds.Idle)
			}
		case <-startCh:
			timedOut()
			return
		case <-idleCh:
			timedOut()
			return
		case <-hardCh:
			timedOut()
			return
		}
	}
}

// Cancel requests graceful termination: SIGTERM (or the Windows
// equivalent) followed by SIGKILL if the process hasn't exited within
// grace.
func (h *Handle) Cancel(grace time.Duration) error {
	h.mu.Lock()
	if h.status == StatusRunning {
		h.status = StatusCancelled
	}
	proc := h.cmd.Process
	h.mu.Unlock()

	if proc == nil {
		return nil
	}

	if err := terminateGroup(proc.Pid); err != nil {
		h.log.Debug("terminate signal failed, proceeding to hard kill", zap.Error(err))
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	select {
	case <-h.done:
		return nil
	default:
	}

	return killGroup(proc.Pid)
}

// Wait blocks until the process exits (by any means) and returns its exit
// code and any wait error.
func (h *Handle) Wait() (int, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exitErr
}

// Status returns the handle's current lifecycle status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Stdout returns a snapshot of buffered stdout (or combined PTY output).
func (h *Handle) Stdout() []byte { return h.stdout.Bytes() }

// Stderr returns a snapshot of buffered stderr (empty in PTY mode).
func (h *Handle) Stderr() []byte { return h.stderr.Bytes() }

// StreamTruncated reports whether either buffer has ever dropped bytes.
func (h *Handle) StreamTruncated() bool {
	return h.stdout.Truncated() || h.stderr.Truncated()
}

// Resize forwards a terminal resize to the underlying PTY, if any.
func (h *Handle) Resize(cols, rows uint16) error {
	if h.pty == nil {
		return fmt.Errorf("handle is not pty-backed")
	}
	return h.pty.Resize(cols, rows)
}

// Write sends bytes to the process's stdin (PTY mode) or is a no-op
// otherwise, since pipe-mode adapters receive their entire prompt up
// front via Command.Stdin.
func (h *Handle) Write(p []byte) (int, error) {
	if h.pty == nil {
		return 0, fmt.Errorf("handle is not pty-backed")
	}
	return h.pty.Write(p)
}
