package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"equipguard/internal/alerts"
	"equipguard/internal/artifact"
	"equipguard/internal/config"
	"equipguard/internal/metrics"
	"equipguard/internal/model"
	"equipguard/internal/observability"
	"equipguard/internal/scaler"
	"equipguard/internal/storage"
)

type Classifier interface {
	PredictStatus(fv model.FeatureVector) (model.Status, error)
}

type Detector interface {
	IsAnomaly(fv model.FeatureVector) (bool, error)
}

// Models is the read-only set the engine scores with.
type Models struct {
	Scaler      scaler.Params
	Classifier  Classifier
	Detector    Detector
	Fingerprint string
	CreatedAt   time.Time
}

func ModelsFromBundle(b *artifact.Bundle) *Models {
	return &Models{
		Scaler:      b.Scaler,
		Classifier:  b.Classifier,
		Detector:    b.Detector,
		Fingerprint: b.Fingerprint,
		CreatedAt:   b.CreatedAt,
	}
}

// Score normalizes fv and asks both models for their verdict. The two
// signals are returned as-is; a Healthy status with an anomaly flag is a
// valid result.
func Score(fv model.FeatureVector, sc scaler.Params, clf Classifier, det Detector) (model.PredictionResult, error) {
	if clf == nil || det == nil {
		return model.PredictionResult{}, model.ErrModelsNotReady
	}
	for i, v := range fv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.PredictionResult{}, fmt.Errorf("%w: %s is not finite", model.ErrShapeMismatch, model.FeatureOrder[i])
		}
	}
	x := sc.Transform(fv)
	status, err := clf.PredictStatus(x)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("classify: %w", err)
	}
	anomalous, err := det.IsAnomaly(x)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("detect: %w", err)
	}
	return model.PredictionResult{Status: status, IsAnomaly: anomalous}, nil
}

type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.Store
	alerts   *alerts.Store
	store    storage.Store
	obs      *observability.PromObs
	cfg      atomic.Value
	models   *Models
	notReady error
	started  time.Time
	cooldown *Cooldown
}

type Status struct {
	Ready       bool      `json:"ready"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Fingerprint string    `json:"dataset_fingerprint,omitempty"`
	TrainedAt   time.Time `json:"trained_at,omitzero"`
	StartedAt   time.Time `json:"started_at"`
	Uptime      string    `json:"uptime"`
}

// NewEngine builds the scoring context. A nil models set, or a non-nil
// loadErr, leaves the engine NotReady for its whole lifetime.
func NewEngine(cfg *config.Config, logger *slog.Logger, models *Models, loadErr error, metricsStore *metrics.Store, alertsStore *alerts.Store, store storage.Store, obs *observability.PromObs) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:   logger,
		metrics:  metricsStore,
		alerts:   alertsStore,
		store:    store,
		obs:      obs,
		started:  time.Now().UTC(),
		cooldown: NewCooldown(),
	}
	switch {
	case loadErr != nil:
		e.notReady = loadErr
	case models == nil || models.Classifier == nil || models.Detector == nil:
		e.notReady = errors.New("no models loaded")
	default:
		e.models = models
	}
	if e.notReady != nil {
		logger.Warn("engine not ready", "error", e.notReady)
	}
	obs.SetReady(e.models != nil)
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Ready() bool { return e.models != nil }

func (e *Engine) Status() Status {
	now := time.Now().UTC()
	st := Status{
		Ready:     e.Ready(),
		State:     "ready",
		StartedAt: e.started,
		Uptime:    now.Sub(e.started).Truncate(time.Second).String(),
	}
	if e.models == nil {
		st.State = "not_ready"
		st.Reason = e.notReady.Error()
		return st
	}
	st.Fingerprint = e.models.Fingerprint
	st.TrainedAt = e.models.CreatedAt
	return st
}

// Predict scores one feature vector. It never blocks.
func (e *Engine) Predict(fv model.FeatureVector) (model.PredictionResult, error) {
	if e.models == nil {
		e.obs.IncNotReady()
		return model.PredictionResult{}, fmt.Errorf("%w: %v", model.ErrModelsNotReady, e.notReady)
	}
	start := time.Now()
	res, err := Score(fv, e.models.Scaler, e.models.Classifier, e.models.Detector)
	if err != nil {
		return res, err
	}
	e.obs.ObservePrediction(res, time.Since(start))
	return res, nil
}

// ProcessReading scores a reading and records it in the machine stats,
// the alert ring and, when configured, the database.
func (e *Engine) ProcessReading(ctx context.Context, r model.SensorReading) (model.Prediction, []model.Alert, error) {
	res, err := e.Predict(r.Features())
	if err != nil {
		return model.Prediction{}, nil, err
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p := model.Prediction{
		ID:        uuid.NewString(),
		Timestamp: ts,
		MachineID: r.MachineID,
		Source:    r.Source,
		Features:  r.Features(),
		Result:    res,
	}
	if e.metrics != nil {
		e.metrics.Record(p)
	}
	if e.store != nil {
		if err := e.store.SavePrediction(ctx, p); err != nil {
			e.logger.Error("save prediction failed", "machine_id", p.MachineID, "error", err)
		}
	}

	cfg := e.config()
	var out []model.Alert
	if alert, ok := e.evaluate(cfg, p); ok {
		out = append(out, alert)
		if e.alerts != nil {
			e.alerts.Add(alert)
		}
		e.obs.IncAlert(alert.AlertType)
		e.logger.Warn("alert triggered",
			"machine_id", alert.MachineID,
			"alert_type", alert.AlertType,
			"severity", alert.Severity,
			"rules", alert.Rules,
		)
		if e.store != nil && cfg.Alerts.PersistAlerts {
			if err := e.store.SaveAlert(ctx, alert); err != nil {
				e.logger.Error("save alert failed", "machine_id", alert.MachineID, "error", err)
			}
		}
	}
	return p, out, nil
}

func (e *Engine) evaluate(cfg *config.Config, p model.Prediction) (model.Alert, bool) {
	var rules []string
	switch p.Result.Status {
	case model.StatusCritical:
		if cfg.Alerts.OnCritical {
			rules = append(rules, "status_critical")
		}
	case model.StatusWarning:
		if cfg.Alerts.OnWarning {
			rules = append(rules, "status_warning")
		}
	case model.StatusHealthy:
	}
	if p.Result.IsAnomaly && cfg.Alerts.OnAnomaly {
		rules = append(rules, "anomaly_detected")
	}
	if len(rules) == 0 {
		return model.Alert{}, false
	}

	alertType, severity := "machine_warning", "medium"
	switch {
	case p.Result.Status == model.StatusCritical && cfg.Alerts.OnCritical:
		alertType, severity = "machine_critical", "critical"
	case p.Result.IsAnomaly && cfg.Alerts.OnAnomaly:
		alertType, severity = "anomaly_detected", "high"
	}
	if !e.cooldown.Allow(p.MachineID, alertType, cfg.Alerts.Cooldown) {
		return model.Alert{}, false
	}
	return model.Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		MachineID: p.MachineID,
		Severity:  severity,
		AlertType: alertType,
		Status:    p.Result.Status,
		IsAnomaly: p.Result.IsAnomaly,
		Features:  p.Features,
		Rules:     rules,
		Context: map[string]string{
			"source":        p.Source,
			"prediction_id": p.ID,
			"reading_ts":    p.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}, true
}

// Start scores readings from in until ctx is cancelled or in is closed.
func (e *Engine) Start(ctx context.Context, in <-chan model.SensorReading) {
	go func() {
		for {
			select {
			case r, ok := <-in:
				if !ok {
					return
				}
				e.obs.SetQueueLength(len(in))
				if _, _, err := e.ProcessReading(ctx, r); err != nil {
					e.logger.Debug("reading not scored", "machine_id", r.MachineID, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) Reset() {
	if e.metrics != nil {
		e.metrics.Clear()
	}
	if e.alerts != nil {
		e.alerts.Clear()
	}
	e.cooldown.Clear()
}
