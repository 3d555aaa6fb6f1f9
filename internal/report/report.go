// Package report fans a finished PipelineRun out to every configured sink.
// Sinks are write-only: nothing written here is read back by the pipeline,
// and a failing sink never changes a run's outcome.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/yllvar/Compound-Explorer/internal/domain"
	"github.com/yllvar/Compound-Explorer/internal/notify"
)

const sinkTimeout = 15 * time.Second

// Sink receives finished runs.
type Sink interface {
	Name() string
	Write(ctx context.Context, run domain.PipelineRun) error
}

// Reporter delivers runs to its sinks sequentially.
type Reporter struct {
	sinks  []Sink
	logger *slog.Logger
}

// New creates a Reporter. Nil sinks are skipped.
func New(logger *slog.Logger, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{logger: logger.With(slog.String("component", "report"))}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Sinks lists the active sink names.
func (r *Reporter) Sinks() []string {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Report writes run to every sink, logging failures.
func (r *Reporter) Report(ctx context.Context, run domain.PipelineRun) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.Write(sctx, run)
		cancel()
		if err != nil {
			r.logger.Warn("report sink failed",
				slog.String("sink", s.Name()),
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// EventName maps a run to its notification and audit event type.
func EventName(run domain.PipelineRun) string {
	switch {
	case run.Kind == domain.RunSeed && run.Succeeded():
		return notify.EventSeedSuccess
	case run.Kind == domain.RunSeed:
		return notify.EventSeedFailed
	case run.Outcome == domain.OutcomeNothingToReinvest:
		return notify.EventReinvestNoop
	case run.Succeeded():
		return notify.EventReinvestSuccess
	default:
		return notify.EventReinvestFailed
	}
}
