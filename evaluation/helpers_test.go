package evaluation

import (
	"math/rand/v2"
	"testing"

	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

func newTestAnalyzer(t *testing.T) *StatisticalAnalyzer {
	t.Helper()
	return NewStatisticalAnalyzer(zaptest.NewLogger(t), nil)
}

// normalScores returns the expected order statistics of a normal sample.
func normalScores(n int, mu, sigma float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*distuv.UnitNormal.Quantile((float64(i+1)-0.375)/(float64(n)+0.25))
	}
	return out
}

func drawNormal(src rand.Source, n int, mu, sigma float64) []float64 {
	d := distuv.Normal{Mu: mu, Sigma: sigma, Src: src}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

func generated(t *testing.T, rows int) *flow.Dataset {
	t.Helper()
	cfg := flow.DefaultGeneratorConfig()
	cfg.Rows = rows
	ds, err := flow.Generate(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return ds
}

// overlapping builds a dataset where DDoS flows have higher packet rates
// than normal ones but the classes are not separable.
func overlapping(n int, seed uint64) *flow.Dataset {
	src := rand.NewPCG(seed, seed)
	coin := distuv.Bernoulli{P: 0.4, Src: src}
	records := make([]flow.Record, n)
	for i := range records {
		r := flow.Record{Label: flow.LabelNormal, Device: flow.DeviceTypes[i%len(flow.DeviceTypes)]}
		pktsMean, aplMean := 100.0, 620.0
		if coin.Rand() == 1 {
			r.Label = flow.LabelDDoS
			pktsMean, aplMean = 140.0, 580.0
		}
		r.FlowPktsS = max(distuv.Normal{Mu: pktsMean, Sigma: 30, Src: src}.Rand(), 1)
		r.FlowBytsS = max(distuv.Normal{Mu: 40000, Sigma: 9000, Src: src}.Rand(), 100)
		r.FlowDurationS = max(distuv.Gamma{Alpha: 2, Beta: 0.5, Src: src}.Rand(), 0.001)
		r.AvgPktLen = max(distuv.Normal{Mu: aplMean, Sigma: 90, Src: src}.Rand(), 60)
		records[i] = r
	}
	return flow.NewDataset(records)
}
