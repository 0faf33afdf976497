package evaluation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// NormalityResult is a Shapiro-Wilk outcome for one (group, variable) cell.
type NormalityResult struct {
	Group      string  `json:"group"`
	Variable   string  `json:"variable"`
	N          int     `json:"n"`     // observations available
	NUsed      int     `json:"nUsed"` // observations tested after subsampling
	W          float64 `json:"w"`
	PValue     float64 `json:"pValue"`
	Subsampled bool    `json:"subsampled"`
	Normal     bool    `json:"normal"` // fail to reject normality at alpha
	Error      string  `json:"error,omitempty"`
}

// Royston (1995) polynomial approximations, algorithm AS R94.
var (
	swC1 = []float64{0, 0.221157, -0.147981, -2.07119, 4.434685, -2.706056}
	swC2 = []float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}
	swC3 = []float64{0.544, -0.39978, 0.025054, -6.714e-4}
	swC4 = []float64{1.3822, -0.77857, 0.062767, -0.0020322}
	swC5 = []float64{-1.5861, -0.31082, -0.083751, 0.0038915}
	swC6 = []float64{-0.4803, -0.082676, 0.0030302}
	swG  = []float64{-2.273, 0.459}
)

const swSmall = 1e-19

func poly(c []float64, x float64) float64 {
	res := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		res = res*x + c[i]
	}
	return res
}

// shapiroWilkCoefficients returns the first n/2 coefficients of the
// antisymmetric weight vector.
func shapiroWilkCoefficients(n int) []float64 {
	half := n / 2
	a := make([]float64, half)
	if n == 3 {
		a[0] = math.Sqrt(0.5)
		return a
	}

	m := make([]float64, half)
	an25 := float64(n) + 0.25
	summ2 := 0.0
	for i := range m {
		m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / an25)
		summ2 += m[i] * m[i]
	}
	summ2 *= 2
	ssumm2 := math.Sqrt(summ2)
	rsn := 1 / math.Sqrt(float64(n))

	a1 := poly(swC1, rsn) - m[0]/ssumm2
	first := 1
	var fac float64
	if n > 5 {
		a2 := -m[1]/ssumm2 + poly(swC2, rsn)
		fac = math.Sqrt((summ2 - 2*m[0]*m[0] - 2*m[1]*m[1]) / (1 - 2*a1*a1 - 2*a2*a2))
		a[1] = a2
		first = 2
	} else {
		fac = math.Sqrt((summ2 - 2*m[0]*m[0]) / (1 - 2*a1*a1))
	}
	a[0] = a1
	for i := first; i < half; i++ {
		a[i] = -m[i] / fac
	}
	return a
}

// ShapiroWilk computes the W statistic and its p-value for 3 <= n samples.
// NaN values are treated as missing and dropped. Samples larger than 5000
// are accepted but the p-value approximation is only calibrated up to that
// size.
func ShapiroWilk(x []float64) (w, p float64, err error) {
	sorted := make([]float64, 0, len(x))
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		if math.IsInf(v, 0) {
			return 0, 0, &InputError{Reason: "sample contains infinite values"}
		}
		sorted = append(sorted, v)
	}
	n := len(sorted)
	if n < 3 {
		return 0, 0, insufficient("", "", n, 3)
	}
	sort.Float64s(sorted)
	rng := sorted[n-1] - sorted[0]
	if rng < swSmall {
		return 0, 0, &InputError{Reason: "all observations are identical"}
	}

	mean := 0.0
	for i := range sorted {
		sorted[i] /= rng
		mean += sorted[i]
	}
	mean /= float64(n)

	a := shapiroWilkCoefficients(n)
	num, ss := 0.0, 0.0
	for i, ai := range a {
		num += ai * (sorted[n-1-i] - sorted[i])
	}
	for _, v := range sorted {
		d := v - mean
		ss += d * d
	}
	w = math.Min(num*num/ss, 1)

	return w, shapiroWilkPValue(w, n), nil
}

func shapiroWilkPValue(w float64, n int) float64 {
	if n == 3 {
		p := 6 / math.Pi * (math.Asin(math.Sqrt(w)) - math.Pi/3)
		return math.Max(p, 0)
	}

	nf := float64(n)
	y := math.Log(1 - w)
	var m, s float64
	if n <= 11 {
		gamma := poly(swG, nf)
		if y >= gamma {
			return 1e-99
		}
		y = -math.Log(gamma - y)
		m = poly(swC3, nf)
		s = math.Exp(poly(swC4, nf))
	} else {
		ln := math.Log(nf)
		m = poly(swC5, ln)
		s = math.Exp(poly(swC6, ln))
	}
	return distuv.Normal{Mu: m, Sigma: s}.Survival(y)
}

// Subsample draws maxN values without replacement using a seeded PCG source.
// Samples at or below maxN are returned unchanged.
func Subsample(x []float64, maxN int, seed uint64) []float64 {
	if len(x) <= maxN {
		return x
	}
	r := rand.New(rand.NewPCG(seed, seed))
	c := append([]float64(nil), x...)
	for i := 0; i < maxN; i++ {
		j := i + r.IntN(len(c)-i)
		c[i], c[j] = c[j], c[i]
	}
	return c[:maxN]
}

// TestNormality runs Shapiro-Wilk on every configured column for the whole
// dataset and within each label. A failing cell is recorded on its result
// rather than aborting.
func (sa *StatisticalAnalyzer) TestNormality(ds *flow.Dataset) ([]NormalityResult, error) {
	if ds.Len() == 0 {
		return nil, insufficient("", "", 0, 3)
	}
	groups := []string{GroupAll}
	for _, l := range ds.ObservedLabels() {
		groups = append(groups, string(l))
	}

	var results []NormalityResult
	for _, group := range groups {
		subset := ds
		if group != GroupAll {
			subset = ds.WithLabel(flow.Label(group))
		}
		for _, col := range sa.config.Columns {
			values, err := subset.Column(col)
			if err != nil {
				return nil, &InputError{Field: col, Reason: "unknown numeric column", Err: err}
			}
			res := NormalityResult{Group: group, Variable: col, N: len(values)}
			sample := Subsample(values, sa.config.NormalityMaxN, sa.config.Seed)
			res.NUsed = len(sample)
			res.Subsampled = len(sample) < len(values)

			w, p, err := ShapiroWilk(sample)
			if err != nil {
				res.Error = cellError(err, group, col).Error()
				sa.logger.Warn("Normality test skipped",
					zap.String("group", group),
					zap.String("variable", col),
					zap.Error(err))
			} else {
				res.W, res.PValue = w, p
				res.Normal = p >= sa.config.SignificanceLevel
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// cellError attaches group and variable context to an engine error.
func cellError(err error, group, variable string) error {
	switch e := err.(type) {
	case *InsufficientDataError:
		c := *e
		c.Group, c.Variable = group, variable
		return &c
	case *InputError:
		c := *e
		if c.Field == "" {
			c.Field = fmt.Sprintf("%s/%s", group, variable)
		}
		return &c
	}
	return err
}
