package model

import (
	"fmt"
	"strings"
	"time"
)

type Status int

const (
	StatusHealthy Status = iota
	StatusWarning
	StatusCritical
)

// NumStatuses is the number of classes the status classifier predicts.
const NumStatuses = 3

var statusNames = [NumStatuses]string{"Healthy", "Warning", "Critical"}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) Valid() bool {
	return s >= StatusHealthy && s <= StatusCritical
}

func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "healthy":
		return StatusHealthy, nil
	case "warning":
		return StatusWarning, nil
	case "critical":
		return StatusCritical, nil
	}
	return 0, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Feature indexes. The order is part of every trained artifact.
const (
	FeatureTemperature = iota
	FeatureVibration
	FeatureVoltage
	NumFeatures
)

var FeatureOrder = []string{"temperature", "vibration", "voltage"}

type FeatureVector [NumFeatures]float64

func (f FeatureVector) Slice() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, f[:])
	return out
}

func FeatureVectorFromSlice(v []float64) (FeatureVector, error) {
	var fv FeatureVector
	if len(v) != NumFeatures {
		return fv, fmt.Errorf("%w: got %d features, want %d", ErrShapeMismatch, len(v), NumFeatures)
	}
	copy(fv[:], v)
	return fv, nil
}

type SensorReading struct {
	Timestamp   time.Time `json:"timestamp"`
	MachineID   string    `json:"machine_id"`
	Temperature float64   `json:"temperature"`
	Vibration   float64   `json:"vibration"`
	Voltage     float64   `json:"voltage"`
	Status      Status    `json:"status"`
	Source      string    `json:"source,omitempty"`
}

func (r SensorReading) Features() FeatureVector {
	return FeatureVector{r.Temperature, r.Vibration, r.Voltage}
}

type PredictionResult struct {
	Status    Status `json:"status"`
	IsAnomaly bool   `json:"is_anomaly"`
}

// ScoreRequest is the body accepted by the scoring endpoint.
type ScoreRequest struct {
	Temperature float64 `json:"Temperature"`
	Vibration   float64 `json:"Vibration"`
	Voltage     float64 `json:"Voltage"`
}

func (r ScoreRequest) Features() FeatureVector {
	return FeatureVector{r.Temperature, r.Vibration, r.Voltage}
}

type ScoreResponse struct {
	Input      ScoreRequest     `json:"input"`
	Prediction PredictionResult `json:"prediction"`
}

type Prediction struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	MachineID string           `json:"machine_id"`
	Source    string           `json:"source"`
	Features  FeatureVector    `json:"features"`
	Result    PredictionResult `json:"result"`
}

type MachineStats struct {
	MachineID   string           `json:"machine_id"`
	Predictions int              `json:"predictions"`
	ByStatus    map[string]int   `json:"by_status"`
	Anomalies   int              `json:"anomalies"`
	Last        PredictionResult `json:"last"`
	LastInput   FeatureVector    `json:"last_input"`
}

type Alert struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	MachineID string            `json:"machine_id"`
	Severity  string            `json:"severity"`
	AlertType string            `json:"alert_type"`
	Status    Status            `json:"status"`
	IsAnomaly bool              `json:"is_anomaly"`
	Features  FeatureVector     `json:"features"`
	Rules     []string          `json:"rules"`
	Context   map[string]string `json:"context,omitempty"`
}
