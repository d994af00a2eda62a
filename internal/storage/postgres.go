package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"equipguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/equipguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresWithDB(db), nil
}

func newPostgresWithDB(db *sql.DB) *postgresStore {
	return &postgresStore{baseStore{db: db}}
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			machine_id TEXT NOT NULL,
			source TEXT NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			vibration DOUBLE PRECISION NOT NULL,
			voltage DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			is_anomaly BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_machine_ts ON predictions(machine_id, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			machine_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			status TEXT NOT NULL,
			is_anomaly BOOLEAN NOT NULL,
			features_json JSONB NOT NULL,
			rules_json JSONB NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	})
}

func (s *postgresStore) SavePrediction(ctx context.Context, p model.Prediction) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, ts, machine_id, source, temperature, vibration, voltage, status, is_anomaly)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, machine_id, severity, alert_type, status, is_anomaly, features_json, rules_json, context_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
