// Package dataset reads and writes the training dataset file and summarizes
// its contents.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"equipguard/internal/model"
	"equipguard/internal/normalize"
)

var Header = []string{"Timestamp", "Machine_ID", "Temperature", "Vibration", "Voltage", "Status"}

func WriteCSV(w io.Writer, readings []model.SensorReading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	row := make([]string, len(Header))
	for _, r := range readings {
		row[0] = r.Timestamp.UTC().Format(time.RFC3339)
		row[1] = r.MachineID
		row[2] = formatFloat(r.Temperature)
		row[3] = formatFloat(r.Vibration)
		row[4] = formatFloat(r.Voltage)
		row[5] = r.Status.String()
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteCSVFile(path string, readings []model.SensorReading) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, readings); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadCSVFile(path string) ([]model.SensorReading, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrDatasetNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func ReadCSV(r io.Reader) ([]model.SensorReading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read dataset: %w", model.ErrEmptyDataset)
		}
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	for i, name := range Header {
		if !strings.EqualFold(strings.TrimSpace(head[i]), name) {
			return nil, fmt.Errorf("read dataset: column %d is %q, want %q", i, head[i], name)
		}
	}

	var out []model.SensorReading
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read dataset line %d: %w", line, err)
		}
		reading, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("read dataset line %d: %w", line, err)
		}
		out = append(out, reading)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("read dataset: %w", model.ErrEmptyDataset)
	}
	return out, nil
}

func parseRecord(rec []string) (model.SensorReading, error) {
	var r model.SensorReading
	ts, err := normalize.ParseTimestamp(rec[0], time.UTC)
	if err != nil {
		return r, err
	}
	r.Timestamp = ts.UTC()
	r.MachineID = strings.TrimSpace(rec[1])
	vals := [3]float64{}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[2+i]), 64)
		if err != nil {
			return r, fmt.Errorf("%s: %w", Header[2+i], err)
		}
		vals[i] = v
	}
	r.Temperature, r.Vibration, r.Voltage = vals[0], vals[1], vals[2]
	r.Status, err = model.ParseStatus(rec[5])
	if err != nil {
		return r, err
	}
	return r, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Features extracts feature vectors and class labels in dataset order.
func Features(readings []model.SensorReading) ([]model.FeatureVector, []int) {
	X := make([]model.FeatureVector, len(readings))
	y := make([]int, len(readings))
	for i, r := range readings {
		X[i] = r.Features()
		y[i] = int(r.Status)
	}
	return X, y
}
