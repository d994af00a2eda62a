// Package artifact defines the persisted form of the trained scaler and
// models. Every artifact is wrapped in a versioned envelope that records the
// feature order and a fingerprint of the dataset it was fit on, so a scaler
// and models from different training runs are never served together.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"equipguard/internal/ml/forest"
	"equipguard/internal/ml/isoforest"
	"equipguard/internal/model"
	"equipguard/internal/scaler"
)

const FormatVersion = 1

type Kind string

const (
	KindClassifier Kind = "status_classifier"
	KindDetector   Kind = "anomaly_detector"
	KindScaler     Kind = "feature_scaler"
)

// Store object names of the three artifacts.
const (
	ClassifierName = "model_supervised"
	DetectorName   = "model_unsupervised"
	ScalerName     = "scaler"
)

var Names = []string{ClassifierName, DetectorName, ScalerName}

var kindByName = map[string]Kind{
	ClassifierName: KindClassifier,
	DetectorName:   KindDetector,
	ScalerName:     KindScaler,
}

type Header struct {
	FormatVersion int       `json:"format_version"`
	Kind          Kind      `json:"kind"`
	FeatureOrder  []string  `json:"feature_order"`
	Classes       []string  `json:"classes,omitempty"`
	Fingerprint   string    `json:"dataset_fingerprint"`
	CreatedAt     time.Time `json:"created_at"`
}

type envelope struct {
	Header
	Payload json.RawMessage `json:"payload"`
}

// StatusClassifier maps a normalized feature vector to a status.
type StatusClassifier struct {
	Forest *forest.Forest
}

func (c *StatusClassifier) PredictStatus(fv model.FeatureVector) (model.Status, error) {
	idx, err := c.Forest.Predict(fv[:])
	if err != nil {
		return 0, err
	}
	st := model.Status(idx)
	if !st.Valid() {
		return 0, fmt.Errorf("classifier returned unknown class %d", idx)
	}
	return st, nil
}

// AnomalyDetector flags normalized feature vectors that isolate easily.
type AnomalyDetector struct {
	Forest *isoforest.Forest
}

func (d *AnomalyDetector) IsAnomaly(fv model.FeatureVector) (bool, error) {
	return d.Forest.Predict(fv[:])
}

func (d *AnomalyDetector) Score(fv model.FeatureVector) (float64, error) {
	return d.Forest.Score(fv[:])
}

// Bundle is the complete, mutually consistent set of trained artifacts.
type Bundle struct {
	Scaler      scaler.Params
	Classifier  *StatusClassifier
	Detector    *AnomalyDetector
	Fingerprint string
	CreatedAt   time.Time
}

func statusLabels() []string {
	out := make([]string, model.NumStatuses)
	for i := range out {
		out[i] = model.Status(i).String()
	}
	return out
}

func (b *Bundle) header(kind Kind) Header {
	h := Header{
		FormatVersion: FormatVersion,
		Kind:          kind,
		FeatureOrder:  slices.Clone(model.FeatureOrder),
		Fingerprint:   b.Fingerprint,
		CreatedAt:     b.CreatedAt.UTC(),
	}
	if kind == KindClassifier {
		h.Classes = statusLabels()
	}
	return h
}

// Encode serializes the three artifacts keyed by store name.
func (b *Bundle) Encode() (map[string][]byte, error) {
	if b.Classifier == nil || b.Detector == nil {
		return nil, fmt.Errorf("%w: bundle is incomplete", model.ErrModelsNotReady)
	}
	if b.Fingerprint == "" {
		return nil, fmt.Errorf("%w: bundle has no dataset fingerprint", model.ErrArtifactMismatch)
	}
	payloads := map[string]any{
		ClassifierName: b.Classifier.Forest,
		DetectorName:   b.Detector.Forest,
		ScalerName:     b.Scaler,
	}
	out := make(map[string][]byte, len(payloads))
	for name, payload := range payloads {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		data, err := json.Marshal(envelope{Header: b.header(kindByName[name]), Payload: raw})
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Decode rebuilds a bundle and rejects artifacts that do not belong
// together.
func Decode(blobs map[string][]byte) (*Bundle, error) {
	headers := make(map[string]envelope, len(Names))
	for _, name := range Names {
		data, ok := blobs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrArtifactNotFound, name)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if err := checkHeader(name, env.Header); err != nil {
			return nil, err
		}
		headers[name] = env
	}

	fp := headers[ScalerName].Fingerprint
	for _, name := range Names {
		if headers[name].Fingerprint != fp {
			return nil, fmt.Errorf("%w: %s was trained on dataset %.12s, scaler on %.12s",
				model.ErrArtifactMismatch, name, headers[name].Fingerprint, fp)
		}
	}

	b := &Bundle{Fingerprint: fp, CreatedAt: headers[ScalerName].CreatedAt}
	if err := json.Unmarshal(headers[ScalerName].Payload, &b.Scaler); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ScalerName, err)
	}
	if err := b.Scaler.Validate(); err != nil {
		return nil, err
	}

	var rf forest.Forest
	if err := json.Unmarshal(headers[ClassifierName].Payload, &rf); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ClassifierName, err)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	if rf.NumFeatures != model.NumFeatures || rf.NumClasses != model.NumStatuses {
		return nil, fmt.Errorf("%w: classifier shape %dx%d", model.ErrArtifactMismatch, rf.NumFeatures, rf.NumClasses)
	}
	b.Classifier = &StatusClassifier{Forest: &rf}

	var iso isoforest.Forest
	if err := json.Unmarshal(headers[DetectorName].Payload, &iso); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", DetectorName, err)
	}
	if err := iso.Validate(); err != nil {
		return nil, err
	}
	if iso.NumFeatures != model.NumFeatures {
		return nil, fmt.Errorf("%w: detector expects %d features", model.ErrArtifactMismatch, iso.NumFeatures)
	}
	b.Detector = &AnomalyDetector{Forest: &iso}
	return b, nil
}

func checkHeader(name string, h Header) error {
	if h.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: %s has format version %d, want %d", model.ErrArtifactMismatch, name, h.FormatVersion, FormatVersion)
	}
	if h.Kind != kindByName[name] {
		return fmt.Errorf("%w: %s has kind %q", model.ErrArtifactMismatch, name, h.Kind)
	}
	if !slices.Equal(h.FeatureOrder, model.FeatureOrder) {
		return fmt.Errorf("%w: %s feature order %v, want %v", model.ErrArtifactMismatch, name, h.FeatureOrder, model.FeatureOrder)
	}
	if h.Kind == KindClassifier && !slices.Equal(h.Classes, statusLabels()) {
		return fmt.Errorf("%w: %s classes %v", model.ErrArtifactMismatch, name, h.Classes)
	}
	return nil
}

type Loader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

type Saver interface {
	SaveAll(ctx context.Context, artifacts map[string][]byte) error
}

func Load(ctx context.Context, store Loader) (*Bundle, error) {
	blobs := make(map[string][]byte, len(Names))
	for _, name := range Names {
		data, err := store.Load(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		blobs[name] = data
	}
	return Decode(blobs)
}

// Save persists all three artifacts in one SaveAll call so a failed write
// never leaves a mixed set behind.
func Save(ctx context.Context, store Saver, b *Bundle) error {
	blobs, err := b.Encode()
	if err != nil {
		return err
	}
	return store.SaveAll(ctx, blobs)
}
