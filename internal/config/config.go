package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Simulator  SimulatorConfig  `json:"simulator" yaml:"simulator"`
	Training   TrainingConfig   `json:"training" yaml:"training"`
	ModelStore ModelStoreConfig `json:"model_store" yaml:"model_store"`
	API        APIConfig        `json:"api" yaml:"api"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type SimulatorConfig struct {
	Rows      int           `json:"rows" yaml:"rows"`
	Seed      uint64        `json:"seed" yaml:"seed"`
	MachineID string        `json:"machine_id" yaml:"machine_id"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	Output    string        `json:"output" yaml:"output"`
}

type TrainingConfig struct {
	DatasetPath  string           `json:"dataset_path" yaml:"dataset_path"`
	TestFraction float64          `json:"test_fraction" yaml:"test_fraction"`
	Seed         uint64           `json:"seed" yaml:"seed"`
	Workers      int              `json:"workers" yaml:"workers"`
	Classifier   ClassifierConfig `json:"classifier" yaml:"classifier"`
	Detector     DetectorConfig   `json:"detector" yaml:"detector"`
}

type ClassifierConfig struct {
	Trees           int `json:"trees" yaml:"trees"`
	MaxDepth        int `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split" yaml:"min_samples_split"`
}

type DetectorConfig struct {
	Trees         int     `json:"trees" yaml:"trees"`
	MaxSamples    int     `json:"max_samples" yaml:"max_samples"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
}

type ModelStoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Dir     string `json:"dir" yaml:"dir"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Bucket  string `json:"bucket" yaml:"bucket"`
	Prefix  string `json:"prefix" yaml:"prefix"`
	Region  string `json:"region" yaml:"region"`
}

type APIConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Addr        string   `json:"addr" yaml:"addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	QoS      byte   `json:"qos" yaml:"qos"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type ParserConfig struct {
	Timezone         string `json:"timezone" yaml:"timezone"`
	DefaultMachineID string `json:"default_machine_id" yaml:"default_machine_id"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit    int           `json:"store_limit" yaml:"store_limit"`
	Cooldown      time.Duration `json:"cooldown" yaml:"cooldown"`
	OnCritical    bool          `json:"on_critical" yaml:"on_critical"`
	OnAnomaly     bool          `json:"on_anomaly" yaml:"on_anomaly"`
	OnWarning     bool          `json:"on_warning" yaml:"on_warning"`
	PersistAlerts bool          `json:"persist_alerts" yaml:"persist_alerts"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Simulator: SimulatorConfig{
			Rows:      10000,
			Seed:      42,
			MachineID: "M-001",
			Interval:  10 * time.Second,
			Output:    "sensor_data.csv",
		},
		Training: TrainingConfig{
			DatasetPath:  "sensor_data.csv",
			TestFraction: 0.2,
			Seed:         42,
			Classifier:   ClassifierConfig{Trees: 100, MinSamplesSplit: 2},
			Detector:     DetectorConfig{Trees: 100, MaxSamples: 256, Contamination: 0.02},
		},
		ModelStore: ModelStoreConfig{Backend: "file", Dir: "models", Prefix: "equipguard", Region: "eu-west-1"},
		API:        APIConfig{Enabled: true, Addr: ":8000", CORSOrigins: []string{"*"}},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "equipguard"},
			Parser:        ParserConfig{Timezone: "UTC", DefaultMachineID: "M-001"},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:equipguard.db?_pragma=busy_timeout(5000)"},
		Metrics: MetricsConfig{StoreLimit: 5000},
		Alerts: AlertsConfig{
			StoreLimit: 1000,
			Cooldown:   30 * time.Second,
			OnCritical: true,
			OnAnomaly:  true,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := DefaultConfig()
		return cfg, Validate(cfg)
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.Simulator.Rows <= 0 {
		cfg.Simulator.Rows = def.Simulator.Rows
	}
	if cfg.Simulator.Interval <= 0 {
		cfg.Simulator.Interval = def.Simulator.Interval
	}
	if cfg.Simulator.MachineID == "" {
		cfg.Simulator.MachineID = def.Simulator.MachineID
	}
	if cfg.Training.TestFraction <= 0 {
		cfg.Training.TestFraction = def.Training.TestFraction
	}
	if cfg.Training.Classifier.Trees <= 0 {
		cfg.Training.Classifier.Trees = def.Training.Classifier.Trees
	}
	if cfg.Training.Classifier.MinSamplesSplit < 2 {
		cfg.Training.Classifier.MinSamplesSplit = def.Training.Classifier.MinSamplesSplit
	}
	if cfg.Training.Detector.Trees <= 0 {
		cfg.Training.Detector.Trees = def.Training.Detector.Trees
	}
	if cfg.Training.Detector.MaxSamples <= 0 {
		cfg.Training.Detector.MaxSamples = def.Training.Detector.MaxSamples
	}
	if cfg.Training.Detector.Contamination <= 0 {
		cfg.Training.Detector.Contamination = def.Training.Detector.Contamination
	}
	if cfg.ModelStore.Backend == "" {
		cfg.ModelStore.Backend = def.ModelStore.Backend
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultMachineID == "" {
		cfg.Ingest.Parser.DefaultMachineID = cfg.Simulator.MachineID
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = def.Ingest.MQTT.ClientID
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Training.TestFraction <= 0 || cfg.Training.TestFraction >= 1 {
		return fmt.Errorf("training.test_fraction must be in (0, 1), got %v", cfg.Training.TestFraction)
	}
	if c := cfg.Training.Detector.Contamination; c <= 0 || c > 0.5 {
		return fmt.Errorf("training.detector.contamination must be in (0, 0.5], got %v", c)
	}
	switch strings.ToLower(cfg.ModelStore.Backend) {
	case "file":
		if cfg.ModelStore.Dir == "" {
			return errors.New("model_store.dir required for file backend")
		}
	case "sqlite", "postgres", "postgresql":
	case "s3":
		if cfg.ModelStore.Bucket == "" {
			return errors.New("model_store.bucket required for s3 backend")
		}
	default:
		return fmt.Errorf("unsupported model_store.backend %q", cfg.ModelStore.Backend)
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker and topic")
		}
		if cfg.Ingest.MQTT.QoS > 2 {
			return fmt.Errorf("ingest.mqtt.qos must be 0, 1 or 2, got %d", cfg.Ingest.MQTT.QoS)
		}
	}
	if cfg.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative: %s", cfg.Alerts.Cooldown)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

// NewStaticManager wraps an already built config; Watch is a no-op for it.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
