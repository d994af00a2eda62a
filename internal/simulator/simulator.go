// Package simulator produces the synthetic machine telemetry the models are
// trained on: a gradual-wear temperature drift, Gaussian sensor noise and
// rare vibration shocks.
package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"equipguard/internal/model"
)

const (
	baseTemperature = 55.0
	baseVibration   = 12.0
	baseVoltage     = 220.0

	driftOnset   = 3000
	driftStep    = 0.01
	warningTemp  = 75.0
	criticalTemp = 90.0

	temperatureNoise = 1.0
	vibrationNoise   = 2.0
	voltageNoise     = 5.0

	shockProbability = 0.01
	shockOffset      = 50.0

	precision = 100.0
)

// Noise and shock draws come from separate streams of the same seed so a
// change in one never shifts the other.
const (
	noiseStream uint64 = 1
	shockStream uint64 = 2
)

var DefaultStart = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type Options struct {
	MachineID string
	Start     time.Time
	Interval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MachineID == "" {
		o.MachineID = "M-001"
	}
	if o.Start.IsZero() {
		o.Start = DefaultStart
	}
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	return o
}

// state is the virtual machine the readings are sampled from.
type state struct {
	temperature float64
	vibration   float64
	cycle       int
}

// Generate returns n readings in ascending timestamp order. The output is a
// pure function of (n, seed, opts).
func Generate(n int, seed uint64, opts Options) ([]model.SensorReading, error) {
	if n <= 0 {
		return nil, fmt.Errorf("simulator: row count must be positive, got %d", n)
	}
	opts = opts.withDefaults()
	noise := rand.New(rand.NewPCG(seed, noiseStream))
	shock := rand.New(rand.NewPCG(seed, shockStream))

	st := state{temperature: baseTemperature, vibration: baseVibration}
	out := make([]model.SensorReading, 0, n)
	for ; st.cycle < n; st.cycle++ {
		status := model.StatusHealthy

		if st.cycle > driftOnset {
			st.temperature += driftStep
			if st.temperature > warningTemp {
				status = model.StatusWarning
			}
		}

		temp := st.temperature + noise.NormFloat64()*temperatureNoise
		vib := st.vibration + noise.NormFloat64()*vibrationNoise
		volt := baseVoltage + noise.NormFloat64()*voltageNoise

		if shock.Float64() < shockProbability {
			vib += shockOffset
			status = model.StatusCritical
		}
		if temp > criticalTemp {
			status = model.StatusCritical
		}

		out = append(out, model.SensorReading{
			Timestamp:   opts.Start.Add(time.Duration(st.cycle) * opts.Interval),
			MachineID:   opts.MachineID,
			Temperature: round(temp),
			Vibration:   round(vib),
			Voltage:     round(volt),
			Status:      status,
		})
	}
	return out, nil
}

func round(v float64) float64 {
	return math.Round(v*precision) / precision
}

// Distribution counts readings per status.
func Distribution(readings []model.SensorReading) map[model.Status]int {
	out := make(map[model.Status]int, model.NumStatuses)
	for _, r := range readings {
		out[r.Status]++
	}
	return out
}
