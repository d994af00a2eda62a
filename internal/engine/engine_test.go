package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"equipguard/internal/alerts"
	"equipguard/internal/config"
	"equipguard/internal/metrics"
	"equipguard/internal/model"
	"equipguard/internal/scaler"
)

// stubClassifier labels by normalized temperature alone.
type stubClassifier struct{}

func (stubClassifier) PredictStatus(fv model.FeatureVector) (model.Status, error) {
	switch {
	case fv[model.FeatureTemperature] > 3:
		return model.StatusCritical, nil
	case fv[model.FeatureTemperature] > 2:
		return model.StatusWarning, nil
	}
	return model.StatusHealthy, nil
}

// stubDetector flags large normalized vibration alone.
type stubDetector struct{}

func (stubDetector) IsAnomaly(fv model.FeatureVector) (bool, error) {
	return math.Abs(fv[model.FeatureVibration]) > 4, nil
}

type failingDetector struct{}

func (failingDetector) IsAnomaly(model.FeatureVector) (bool, error) {
	return false, errors.New("boom")
}

func testScaler() scaler.Params {
	return scaler.Params{
		Mean:   model.FeatureVector{55, 12, 220},
		StdDev: model.FeatureVector{10, 2, 5},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Alerts.Cooldown = 0
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngineForTest(cfg *config.Config) *Engine {
	models := &Models{Scaler: testScaler(), Classifier: stubClassifier{}, Detector: stubDetector{}, Fingerprint: "abc"}
	return NewEngine(cfg, quietLogger(), models, nil, metrics.NewStore(100), alerts.NewStore(100), nil, nil)
}

func TestScoreKeepsSignalsIndependent(t *testing.T) {
	res, err := Score(model.FeatureVector{55, 212, 220}, testScaler(), stubClassifier{}, stubDetector{})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Status != model.StatusHealthy || !res.IsAnomaly {
		t.Fatalf("expected Healthy+anomaly, got %+v", res)
	}

	res, err = Score(model.FeatureVector{95, 12, 220}, testScaler(), stubClassifier{}, stubDetector{})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Status != model.StatusCritical || res.IsAnomaly {
		t.Fatalf("expected Critical without anomaly, got %+v", res)
	}
}

func TestScoreRejectsNonFinite(t *testing.T) {
	_, err := Score(model.FeatureVector{math.NaN(), 12, 220}, testScaler(), stubClassifier{}, stubDetector{})
	if !errors.Is(err, model.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestScorePropagatesModelError(t *testing.T) {
	if _, err := Score(model.FeatureVector{55, 12, 220}, testScaler(), stubClassifier{}, failingDetector{}); err == nil {
		t.Fatalf("expected detector error")
	}
}

func TestNotReadyEngine(t *testing.T) {
	eng := NewEngine(testConfig(), quietLogger(), nil, errors.New("scaler: artifact not found"), nil, nil, nil, nil)
	if eng.Ready() {
		t.Fatalf("expected engine not ready")
	}
	_, err := eng.Predict(model.FeatureVector{55, 12, 220})
	if !errors.Is(err, model.ErrModelsNotReady) {
		t.Fatalf("expected ErrModelsNotReady, got %v", err)
	}
	st := eng.Status()
	if st.State != "not_ready" || st.Reason == "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, _, err := eng.ProcessReading(context.Background(), model.SensorReading{MachineID: "M-001"}); !errors.Is(err, model.ErrModelsNotReady) {
		t.Fatalf("expected ErrModelsNotReady from ProcessReading, got %v", err)
	}
}

func TestConcurrentPredict(t *testing.T) {
	eng := newEngineForTest(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := eng.Predict(model.FeatureVector{55 + float64(i), 12, 220}); err != nil {
					t.Errorf("predict: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestProcessReadingRaisesAlerts(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx := context.Background()

	_, out, err := eng.ProcessReading(ctx, model.SensorReading{MachineID: "M-001", Temperature: 55, Vibration: 12, Voltage: 220})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("unexpected alert for healthy reading: %+v", out)
	}

	_, out, err = eng.ProcessReading(ctx, model.SensorReading{MachineID: "M-001", Temperature: 95, Vibration: 212, Voltage: 220, Source: "tcp"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one alert, got %d", len(out))
	}
	a := out[0]
	if a.AlertType != "machine_critical" || a.Severity != "critical" || len(a.Rules) != 2 {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.Context["source"] != "tcp" {
		t.Fatalf("expected source in alert context, got %v", a.Context)
	}

	_, out, _ = eng.ProcessReading(ctx, model.SensorReading{MachineID: "M-002", Temperature: 55, Vibration: 212, Voltage: 220})
	if len(out) != 1 || out[0].AlertType != "anomaly_detected" {
		t.Fatalf("expected anomaly alert, got %+v", out)
	}

	st, _, ok := eng.metrics.Get("M-001")
	if !ok || st.Predictions != 2 || st.ByStatus["Critical"] != 1 || st.Anomalies != 1 {
		t.Fatalf("unexpected machine stats %+v", st)
	}
	if eng.alerts.Len() != 2 {
		t.Fatalf("expected 2 stored alerts, got %d", eng.alerts.Len())
	}
}

func TestAlertCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.Cooldown = time.Hour
	eng := newEngineForTest(cfg)
	ctx := context.Background()
	hot := model.SensorReading{MachineID: "M-001", Temperature: 95, Vibration: 12, Voltage: 220}

	_, first, _ := eng.ProcessReading(ctx, hot)
	_, second, _ := eng.ProcessReading(ctx, hot)
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("expected cooldown to suppress repeat, got %d then %d", len(first), len(second))
	}
	hot.MachineID = "M-002"
	if _, other, _ := eng.ProcessReading(ctx, hot); len(other) != 1 {
		t.Fatalf("cooldown must be per machine")
	}
}

func TestWarningAlertsAreOptIn(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	warm := model.SensorReading{MachineID: "M-001", Temperature: 80, Vibration: 12, Voltage: 220}
	if _, out, _ := eng.ProcessReading(context.Background(), warm); len(out) != 0 {
		t.Fatalf("warning alerts should be off by default")
	}
	cfg2 := testConfig()
	cfg2.Alerts.OnWarning = true
	eng.UpdateConfig(cfg2)
	if _, out, _ := eng.ProcessReading(context.Background(), warm); len(out) != 1 || out[0].AlertType != "machine_warning" {
		t.Fatalf("expected warning alert after config update, got %+v", out)
	}
}

func TestStartConsumesChannel(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan model.SensorReading, 4)
	eng.Start(ctx, in)
	for i := 0; i < 3; i++ {
		in <- model.SensorReading{MachineID: "M-007", Temperature: 55, Vibration: 12, Voltage: 220}
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _, ok := eng.metrics.Get("M-007"); ok && st.Predictions == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("engine did not consume readings")
}

func TestCooldownAllowKey(t *testing.T) {
	c := NewCooldown()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	if !c.AllowKey("k", time.Minute) {
		t.Fatalf("first call should pass")
	}
	if c.AllowKey("k", time.Minute) {
		t.Fatalf("second call within cooldown should be suppressed")
	}
	now = now.Add(2 * time.Minute)
	if !c.AllowKey("k", time.Minute) {
		t.Fatalf("call after cooldown should pass")
	}
}

func TestResetWhileScoring(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.Cooldown = time.Hour
	models := &Models{Scaler: testScaler(), Classifier: stubClassifier{}, Detector: stubDetector{}}
	// No stores, so only the cooldown is shared between the goroutines.
	eng := NewEngine(cfg, quietLogger(), models, nil, nil, nil, nil, nil)
	hot := model.SensorReading{MachineID: "M-001", Temperature: 95, Vibration: 12, Voltage: 220}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, _, err := eng.ProcessReading(context.Background(), hot); err != nil {
				t.Errorf("process: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			eng.Reset()
		}
	}()
	wg.Wait()

	eng.Reset()
	if _, out, _ := eng.ProcessReading(context.Background(), hot); len(out) != 1 {
		t.Fatalf("reset should clear the cooldown, got %d alerts", len(out))
	}
}

func TestCooldownClear(t *testing.T) {
	c := NewCooldown()
	if !c.Allow("M-001", "machine_critical", time.Hour) {
		t.Fatalf("first call should pass")
	}
	c.Clear()
	if !c.Allow("M-001", "machine_critical", time.Hour) {
		t.Fatalf("call after Clear should pass")
	}
}
