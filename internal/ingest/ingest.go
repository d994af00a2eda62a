// Package ingest feeds sensor readings from streaming sources into the
// scoring engine.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"equipguard/internal/config"
	"equipguard/internal/model"
	"equipguard/internal/normalize"
	"equipguard/internal/observability"
)

// Pipeline is the shared tail of every source: parse, normalize, enqueue.
type Pipeline struct {
	cfg    *config.Manager
	out    chan<- model.SensorReading
	logger *slog.Logger
	obs    *observability.PromObs
}

func NewPipeline(cfg *config.Manager, out chan<- model.SensorReading, logger *slog.Logger, obs *observability.PromObs) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, out: out, logger: logger, obs: obs}
}

// Handle parses one line and enqueues the reading. It reports whether a
// reading was enqueued.
func (p *Pipeline) Handle(ctx context.Context, parser *Parser, line, source string) bool {
	fields, err := parser.ParseLine(line)
	if err != nil {
		p.reject(source, "parse", err)
		return false
	}
	if fields == nil {
		return false
	}
	r, err := normalize.Normalize(*fields, p.cfg.Get())
	if err != nil {
		p.reject(source, "normalize", err)
		return false
	}
	r.Source = source
	return SendNonBlocking(ctx, p.out, r, p.logger)
}

func (p *Pipeline) reject(source, stage string, err error) {
	p.obs.IncRejected(source)
	p.logger.Warn(source+" "+stage+" error", "err", err)
}

func SendNonBlocking(ctx context.Context, out chan<- model.SensorReading, r model.SensorReading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "machine_id", r.MachineID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
