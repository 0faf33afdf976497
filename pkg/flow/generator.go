package flow

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// GeneratorConfig parameterises the synthetic dataset.
type GeneratorConfig struct {
	Rows        int     `json:"rows" yaml:"rows" mapstructure:"rows"`
	Seed        uint64  `json:"seed" yaml:"seed" mapstructure:"seed"`
	NormalShare float64 `json:"normalShare" yaml:"normal_share" mapstructure:"normal_share"`
}

// DefaultGeneratorConfig returns 5000 rows, seed 42 and 65% Normal traffic.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Rows: 5000, Seed: 42, NormalShare: 0.65}
}

type deviceProfile struct {
	device   DeviceType
	weight   float64
	pktsBase float64
	bytsBase float64
}

var deviceProfiles = []deviceProfile{
	{device: DeviceCamera, weight: 0.30, pktsBase: 120, bytsBase: 90000},
	{device: DeviceThermostat, weight: 0.25, pktsBase: 60, bytsBase: 25000},
	{device: DeviceLight, weight: 0.25, pktsBase: 45, bytsBase: 18000},
	{device: DeviceSpeaker, weight: 0.20, pktsBase: 75, bytsBase: 35000},
}

const (
	minPktsS     = 1.0
	minBytsS     = 100.0
	minAvgPktLen = 60.0
)

// Generate draws a synthetic IoT flow dataset. The same config always yields
// the same rows.
func Generate(cfg GeneratorConfig) (*Dataset, error) {
	if cfg.Rows <= 0 {
		return nil, fmt.Errorf("rows must be positive, got %d", cfg.Rows)
	}
	if cfg.NormalShare <= 0 || cfg.NormalShare >= 1 {
		return nil, fmt.Errorf("normal share must be in (0, 1), got %v", cfg.NormalShare)
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	weights := make([]float64, len(deviceProfiles))
	for i, p := range deviceProfiles {
		weights[i] = p.weight
	}
	devices := distuv.NewCategorical(weights, src)
	attack := distuv.Bernoulli{P: 1 - cfg.NormalShare, Src: src}

	records := make([]Record, cfg.Rows)
	for i := range records {
		p := deviceProfiles[int(devices.Rand())]
		r := Record{Device: p.device, Label: LabelNormal}
		if attack.Rand() == 1 {
			r.Label = LabelDDoS
		}

		var pkts, byts, dur, apl float64
		if r.Label == LabelNormal {
			pkts = distuv.Normal{Mu: p.pktsBase, Sigma: 20, Src: src}.Rand()
			byts = distuv.Normal{Mu: p.bytsBase, Sigma: 12000, Src: src}.Rand()
			dur = distuv.Gamma{Alpha: 2, Beta: 1 / 1.5, Src: src}.Rand()
			apl = distuv.Normal{Mu: 650, Sigma: 80, Src: src}.Rand()
		} else {
			pkts = distuv.Normal{Mu: 7 * p.pktsBase, Sigma: 1.8 * p.pktsBase, Src: src}.Rand()
			byts = distuv.Normal{Mu: 5 * p.bytsBase, Sigma: 1.6 * p.bytsBase, Src: src}.Rand()
			dur = distuv.Gamma{Alpha: 2.5, Beta: 1 / 2.0, Src: src}.Rand()
			apl = distuv.Normal{Mu: 520, Sigma: 120, Src: src}.Rand()
		}

		r.FlowPktsS = round(math.Max(pkts, minPktsS), 2)
		r.FlowBytsS = round(math.Max(byts, minBytsS), 2)
		// a gamma draw can round to zero
		r.FlowDurationS = math.Max(round(dur, 3), 0.001)
		r.AvgPktLen = round(math.Max(apl, minAvgPktLen), 2)
		records[i] = r
	}
	return NewDataset(records), nil
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
