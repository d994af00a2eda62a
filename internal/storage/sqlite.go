package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"equipguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:equipguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			source TEXT NOT NULL,
			temperature REAL NOT NULL,
			vibration REAL NOT NULL,
			voltage REAL NOT NULL,
			status TEXT NOT NULL,
			is_anomaly INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_machine_ts ON predictions(machine_id, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			status TEXT NOT NULL,
			is_anomaly INTEGER NOT NULL,
			features_json TEXT NOT NULL,
			rules_json TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	})
}

func (s *sqliteStore) SavePrediction(ctx context.Context, p model.Prediction) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, ts, machine_id, source, temperature, vibration, voltage, status, is_anomaly)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Timestamp.UTC(),
		p.MachineID,
		p.Source,
		p.Features[model.FeatureTemperature],
		p.Features[model.FeatureVibration],
		p.Features[model.FeatureVoltage],
		p.Result.Status.String(),
		p.Result.IsAnomaly,
	)
	return err
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, machine_id, severity, alert_type, status, is_anomaly, features_json, rules_json, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Timestamp.UTC(),
		alert.MachineID,
		alert.Severity,
		alert.AlertType,
		alert.Status.String(),
		alert.IsAnomaly,
		encodeJSON(alert.Features),
		encodeJSON(alert.Rules),
		encodeJSON(alert.Context),
	)
	return err
}
