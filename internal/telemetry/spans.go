package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const raceTracerName = "hydra-orchestrator"

func raceTracer() trace.Tracer {
	return Tracer(raceTracerName)
}

// StartRace creates a span covering one race end to end.
func StartRace(ctx context.Context, runID, repoRoot string, adapters []string) (context.Context, trace.Span) {
	ctx, span := raceTracer().Start(ctx, "race.start", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("repo_root", repoRoot),
		attribute.StringSlice("adapters", adapters),
	)
	return ctx, span
}

// EndRace records the race's terminal status on its span.
func EndRace(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartAgentRun creates a child span for one adapter's run within a race.
func StartAgentRun(ctx context.Context, runID, adapterKey string) (context.Context, trace.Span) {
	ctx, span := raceTracer().Start(ctx, "race.agent_run", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("adapter_key", adapterKey),
	)
	return ctx, span
}

// SetAgentOutcome records an agent run's terminal status on its span
// without ending it, for callers that close the span via defer.
func SetAgentOutcome(span trace.Span, status string, exitCode int, err error) {
	span.SetAttributes(
		attribute.String("status", status),
		attribute.Int("exit_code", exitCode),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// StartScoring creates a span for scoring one candidate.
func StartScoring(ctx context.Context, runID, adapterKey string) (context.Context, trace.Span) {
	ctx, span := raceTracer().Start(ctx, "race.score_candidate", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("adapter_key", adapterKey),
	)
	return ctx, span
}

// EndScoring records a candidate's score outcome on its span.
func EndScoring(span trace.Span, composite float64, mergeable bool, err error) {
	span.SetAttributes(
		attribute.Float64("composite", composite),
		attribute.Bool("mergeable", mergeable),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

const mergeTracerName = "hydra-merge"

func mergeTracer() trace.Tracer {
	return Tracer(mergeTracerName)
}

// StartMergePreview creates a span for a dry-run merge preview.
func StartMergePreview(ctx context.Context, targetBranch, candidateBranch string) (context.Context, trace.Span) {
	ctx, span := mergeTracer().Start(ctx, "merge.preview", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("target_branch", targetBranch),
		attribute.String("candidate_branch", candidateBranch),
	)
	return ctx, span
}

// StartMergeExecute creates a span for a real merge.
func StartMergeExecute(ctx context.Context, targetBranch, candidateBranch, strategy string) (context.Context, trace.Span) {
	ctx, span := mergeTracer().Start(ctx, "merge.execute", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("target_branch", targetBranch),
		attribute.String("candidate_branch", candidateBranch),
		attribute.String("strategy", strategy),
	)
	return ctx, span
}

// EndMerge records a merge operation's conflict/error outcome on its span
// without ending it, for callers that close the span via defer.
func EndMerge(span trace.Span, conflicted bool, err error) {
	span.SetAttributes(attribute.Bool("conflicted", conflicted))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

const sessionTracerName = "hydra-session"

func sessionTracer() trace.Tracer {
	return Tracer(sessionTracerName)
}

// StartInteractiveSession creates a span covering one interactive session's
// lifetime, from Start through its terminal Stop.
func StartInteractiveSession(ctx context.Context, sessionID, adapterKey string) (context.Context, trace.Span) {
	ctx, span := sessionTracer().Start(ctx, "session.lifetime", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("adapter_key", adapterKey),
	)
	return ctx, span
}

// EndInteractiveSession records a session's terminal status on its span.
func EndInteractiveSession(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
