package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"equipguard/internal/alerts"
	"equipguard/internal/config"
	"equipguard/internal/engine"
	"equipguard/internal/metrics"
	"equipguard/internal/model"
)

type Scorer interface {
	Predict(fv model.FeatureVector) (model.PredictionResult, error)
	ProcessReading(ctx context.Context, r model.SensorReading) (model.Prediction, []model.Alert, error)
	Status() engine.Status
	Reset()
}

type Server struct {
	cfg      *config.Manager
	metrics  *metrics.Store
	alerts   *alerts.Store
	engine   Scorer
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Models     engine.Status `json:"models"`
	Ingest     ingestStatus  `json:"ingest"`
	API        apiStatus     `json:"api"`
}

type ingestStatus struct {
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
}

type apiStatus struct {
	Enabled bool     `json:"enabled"`
	Addr    string   `json:"addr"`
	CORS    []string `json:"cors_origins"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func NewServer(cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, scorer Scorer, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		metrics:  metricsStore,
		alerts:   alertsStore,
		engine:   scorer,
		gatherer: gatherer,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/machines", s.handleMachines)
	mux.HandleFunc("/machines/", s.handleMachines)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.withCORS(mux)
}

// Start serves the API in the background. The caller stops it with
// Shutdown on the returned server, which is nil when the API is disabled.
func Start(ctx context.Context, s *Server) (*http.Server, net.Addr, error) {
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil, nil, nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", current.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("api listen: %w", err)
	}
	s.logger.Info("api enabled", "addr", ln.Addr().String())

	httpServer := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer, ln.Addr(), nil
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := s.cfg.Get().API.CORSOrigins
			switch {
			case slices.Contains(allowed, "*"):
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(allowed, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// scoreRequest uses pointers so a missing feature is told apart from 0.
type scoreRequest struct {
	Temperature *float64 `json:"Temperature"`
	Vibration   *float64 `json:"Vibration"`
	Voltage     *float64 `json:"Voltage"`
}

func decodeScoreRequest(body io.Reader) (model.ScoreRequest, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	var req scoreRequest
	if err := dec.Decode(&req); err != nil {
		// encoding/json has no typed error for unknown fields.
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return model.ScoreRequest{}, fmt.Errorf("%w: %v", model.ErrShapeMismatch, err)
		}
		return model.ScoreRequest{}, err
	}
	values := []*float64{req.Temperature, req.Vibration, req.Voltage}
	for i, v := range values {
		if v == nil {
			return model.ScoreRequest{}, fmt.Errorf("%w: missing %s", model.ErrShapeMismatch, model.FeatureOrder[i])
		}
	}
	return model.ScoreRequest{Temperature: *req.Temperature, Vibration: *req.Vibration, Voltage: *req.Voltage}, nil
}

// handlePredict scores one request. With ?machine_id= the reading is also
// recorded in the machine stats and may raise an alert.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeScoreRequest(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Detail: err.Error()})
		return
	}

	var res model.PredictionResult
	if machine := strings.TrimSpace(r.URL.Query().Get("machine_id")); machine != "" {
		var p model.Prediction
		p, _, err = s.engine.ProcessReading(r.Context(), model.SensorReading{
			Timestamp:   time.Now().UTC(),
			MachineID:   machine,
			Temperature: req.Temperature,
			Vibration:   req.Vibration,
			Voltage:     req.Voltage,
			Source:      "api",
		})
		res = p.Result
	} else {
		res, err = s.engine.Predict(req.Features())
	}
	switch {
	case errors.Is(err, model.ErrModelsNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "models not ready", Detail: err.Error()})
		return
	case errors.Is(err, model.ErrShapeMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Detail: err.Error()})
		return
	case err != nil:
		s.logger.Error("prediction failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "prediction failed", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, model.ScoreResponse{Input: req, Prediction: res})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": s.engine.Status().Ready})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	models := s.engine.Status()
	resp := statusResponse{
		Status:     models.State,
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Models:     models,
		Ingest: ingestStatus{
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr, CORS: cfg.API.CORSOrigins},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/machines"), "/")
	if id != "" {
		stats, updated, ok := s.metrics.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown machine", Detail: id})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"machine_id": id,
			"updated_at": updated.Format(time.RFC3339Nano),
			"stats":      stats,
			"alerts":     s.alerts.ForMachine(id, 20),
		})
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"machines": all,
		"count":    len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Detail: v})
			return
		}
		limit = n
	}
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since", Detail: sinceStr})
			return
		}
		list = s.alerts.Since(ts)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.engine.Reset()
	case "alerts":
		s.alerts.Clear()
	case "machines":
		s.metrics.Clear()
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown target", Detail: target})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
