package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equipguard/internal/alerts"
	"equipguard/internal/config"
	"equipguard/internal/engine"
	"equipguard/internal/metrics"
	"equipguard/internal/model"
	"equipguard/internal/observability"
	"equipguard/internal/scaler"
)

type tempClassifier struct{}

func (tempClassifier) PredictStatus(fv model.FeatureVector) (model.Status, error) {
	if fv[model.FeatureTemperature] > 3 {
		return model.StatusCritical, nil
	}
	return model.StatusHealthy, nil
}

type vibDetector struct{}

func (vibDetector) IsAnomaly(fv model.FeatureVector) (bool, error) {
	return fv[model.FeatureVibration] > 4, nil
}

func newTestServer(t *testing.T, ready bool) (*Server, *prometheus.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Alerts.Cooldown = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	obs := observability.NewPromObs(reg)
	ms := metrics.NewStore(10)
	as := alerts.NewStore(10)

	var models *engine.Models
	var loadErr error
	if ready {
		models = &engine.Models{
			Scaler:      scaler.Params{Mean: model.FeatureVector{55, 12, 220}, StdDev: model.FeatureVector{10, 2, 5}},
			Classifier:  tempClassifier{},
			Detector:    vibDetector{},
			Fingerprint: "f00d",
		}
	} else {
		loadErr = errors.New("load scaler: artifact not found")
	}
	eng := engine.NewEngine(cfg, logger, models, loadErr, ms, as, nil, obs)
	return NewServer(config.NewStaticManager(cfg), ms, as, eng, reg, logger, "test"), reg
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPredictContract(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := do(t, s.Handler(), http.MethodPost, "/predict", `{"Temperature": 95.0, "Vibration": 12.0, "Voltage": 220.0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 95.0, body["input"]["Temperature"])
	assert.Equal(t, "Critical", body["prediction"]["status"])
	assert.Equal(t, false, body["prediction"]["is_anomaly"])
}

func TestPredictRejectsBadShape(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Handler()
	cases := map[string]string{
		"missing feature": `{"Temperature": 55, "Vibration": 12}`,
		"extra feature":   `{"Temperature": 55, "Vibration": 12, "Voltage": 220, "Pressure": 1}`,
		"not json":        `temperature=55`,
		"wrong type":      `{"Temperature": "hot", "Vibration": 12, "Voltage": 220}`,
	}
	for name, body := range cases {
		rec := do(t, h, http.MethodPost, "/predict", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/predict", "").Code)
}

func TestPredictNotReady(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.Handler()
	rec := do(t, h, http.MethodPost, "/predict", `{"Temperature": 55, "Vibration": 12, "Voltage": 220}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "models not ready")

	rec = do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_ready"`)
	assert.Contains(t, rec.Body.String(), "artifact not found")
}

func TestPredictWithMachineRecordsStats(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Handler()
	rec := do(t, h, http.MethodPost, "/predict?machine_id=M-042", `{"Temperature": 55, "Vibration": 212, "Voltage": 220}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_anomaly":true`)
	assert.Contains(t, rec.Body.String(), `"status":"Healthy"`)

	rec = do(t, h, http.MethodGet, "/machines/M-042", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"anomalies":1`)
	assert.Contains(t, rec.Body.String(), "anomaly_detected")

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/machines/M-404", "").Code)

	rec = do(t, h, http.MethodGet, "/alerts?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/alerts?since=yesterday", "").Code)

	rec = do(t, h, http.MethodPost, "/admin/clear", `{"target":"all"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, do(t, h, http.MethodGet, "/machines", "").Body.String(), `"count":0`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, true)
	h := s.Handler()
	do(t, h, http.MethodPost, "/predict", `{"Temperature": 55, "Vibration": 12, "Voltage": 220}`)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `equipguard_predictions_total{status="Healthy"} 1`)
	assert.Contains(t, rec.Body.String(), "equipguard_models_ready 1")
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}
