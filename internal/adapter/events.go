package adapter

import (
	"time"

	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// degradeWindowSize bounds how many recent parse outcomes are tracked when
// deciding whether an adapter's structured-event stream has gone bad.
const degradeWindowSize = 100

// degradeFailureThreshold is the number of consecutive unparseable lines,
// within the window, that trips permanent fallback to plain-text mode for
// the remainder of the run.
const degradeFailureThreshold = 3

// LineParser wraps one Definition's ParseLine with the shared degraded-mode
// policy: once the adapter's output stops looking structured, Hydra stops
// trying to parse it and instead emits raw stdout lines, rather than
// silently dropping or repeatedly erroring on content it can't understand.
type LineParser struct {
	def Definition

	window              []bool // true = parsed as structured event
	consecutiveFailures int
	degraded            bool
	degradedReason       string
}

// NewLineParser returns a fresh parser bound to def.
func NewLineParser(def Definition) *LineParser {
	return &LineParser{def: def, window: make([]bool, 0, degradeWindowSize)}
}

// Degraded reports whether this parser has permanently fallen back to
// plain-text mode for the rest of the run, and why.
func (p *LineParser) Degraded() (bool, string) {
	return p.degraded, p.degradedReason
}

// Feed interprets one line of an adapter's stdout. seq supplies the next
// event sequence number and is always consumed exactly once per call.
func (p *LineParser) Feed(runID, agentKey string, seq int64, line []byte, now time.Time) (*hydraapi.Event, error) {
	if p.degraded {
		return p.plainTextEvent(runID, agentKey, seq, line, now), nil
	}

	ev, ok, err := p.def.ParseLine(line)
	p.record(ok && err == nil)

	if err != nil || !ok {
		if p.consecutiveFailures >= degradeFailureThreshold {
			p.degraded = true
			p.degradedReason = herr.New(herr.CodeParserDegraded,
				"adapter output stopped matching the expected structured format; falling back to plain text").Error()
		}
		return p.plainTextEvent(runID, agentKey, seq, line, now), nil
	}

	if ev.Sequence == 0 {
		ev.Sequence = seq
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if ev.RunID == "" {
		ev.RunID = runID
	}
	if ev.AgentKey == "" {
		ev.AgentKey = agentKey
	}
	return ev, nil
}

func (p *LineParser) record(ok bool) {
	if ok {
		p.consecutiveFailures = 0
	} else {
		p.consecutiveFailures++
	}
	if len(p.window) == degradeWindowSize {
		p.window = p.window[1:]
	}
	p.window = append(p.window, ok)
}

func (p *LineParser) plainTextEvent(runID, agentKey string, seq int64, line []byte, now time.Time) *hydraapi.Event {
	return &hydraapi.Event{
		Sequence:  seq,
		Timestamp: now,
		RunID:     runID,
		AgentKey:  agentKey,
		EventType: hydraapi.EvAgentStdout,
		Data:      map[string]any{"line": string(line)},
	}
}
