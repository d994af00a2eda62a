package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"equipguard/internal/config"
	"equipguard/internal/model"
)

// ReadingFields are the raw string values of one reading before typing.
type ReadingFields struct {
	Timestamp   string
	MachineID   string
	Temperature string
	Vibration   string
	Voltage     string
	Status      string
	Extras      map[string]string
	Raw         string
}

func Normalize(fields ReadingFields, cfg *config.Config) (model.SensorReading, error) {
	machine := strings.TrimSpace(fields.MachineID)
	if machine == "" {
		machine = cfg.Ingest.Parser.DefaultMachineID
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.SensorReading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	values := [model.NumFeatures]string{fields.Temperature, fields.Vibration, fields.Voltage}
	var fv model.FeatureVector
	for i, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return model.SensorReading{}, fmt.Errorf("%w: missing %s", model.ErrShapeMismatch, model.FeatureOrder[i])
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.SensorReading{}, fmt.Errorf("parse %s: %w", model.FeatureOrder[i], err)
		}
		fv[i] = v
	}

	// Labels on live readings are informational only; unknown values are
	// dropped rather than rejected.
	status := model.StatusHealthy
	if s, err := model.ParseStatus(fields.Status); err == nil {
		status = s
	}

	return model.SensorReading{
		Timestamp:   ts,
		MachineID:   machine,
		Temperature: fv[model.FeatureTemperature],
		Vibration:   fv[model.FeatureVibration],
		Voltage:     fv[model.FeatureVoltage],
		Status:      status,
		Source:      "log",
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05-07:00",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
