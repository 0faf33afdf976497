package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

var testFitOptions = LogisticFitOptions{MaxIterations: 35, Tolerance: 1e-8, Level: 0.95}

// binaryDesign has 3/10 successes at x=0 and 7/10 at x=1.
func binaryDesign() (*mat.Dense, []float64) {
	X := mat.NewDense(20, 2, nil)
	y := make([]float64, 20)
	for i := 0; i < 20; i++ {
		X.Set(i, 0, 1)
		if i >= 10 {
			X.Set(i, 1, 1)
		}
	}
	for _, i := range []int{0, 1, 2, 10, 11, 12, 13, 14, 15, 16} {
		y[i] = 1
	}
	return X, y
}

func TestFitLogistic_ClosedForm(t *testing.T) {
	X, y := binaryDesign()
	res, err := FitLogistic(X, y, []string{InterceptTerm, "x"}, testFitOptions)
	require.NoError(t, err)
	require.True(t, res.Converged)

	intercept, ok := res.Coefficient(InterceptTerm)
	require.True(t, ok)
	slope, ok := res.Coefficient("x")
	require.True(t, ok)

	assert.InDelta(t, math.Log(3.0/7.0), intercept.Estimate, 1e-8)
	assert.InDelta(t, 2*math.Log(7.0/3.0), slope.Estimate, 1e-8)
	assert.InDelta(t, math.Sqrt(1.0/3+1.0/7+1.0/7+1.0/3), slope.StdErr, 1e-6)
	assert.InDelta(t, slope.Estimate/slope.StdErr, slope.Z, 1e-12)
	assert.InDelta(t, slope.Estimate-1.959964*slope.StdErr, slope.Lower, 1e-5)

	assert.Equal(t, 20, res.NObs)
	assert.Equal(t, 1, res.DFModel)
	assert.Equal(t, 18, res.DFResid)
	assert.InDelta(t, 20*math.Log(0.5), res.NullLogLikelihood, 1e-9)
	assert.Greater(t, res.LogLikelihood, res.NullLogLikelihood)
	assert.InDelta(t, 2*(res.LogLikelihood-res.NullLogLikelihood), res.LLR, 1e-12)
}

func TestFitLogistic_OddsRatio(t *testing.T) {
	X, y := binaryDesign()
	res, err := FitLogistic(X, y, []string{InterceptTerm, "x"}, testFitOptions)
	require.NoError(t, err)

	slope, _ := res.Coefficient("x")
	or, err := res.OddsRatio("x", 10)
	require.NoError(t, err)
	assert.Equal(t, math.Exp(slope.Estimate*10), or)

	_, err = res.OddsRatio("missing", 10)
	var inputErr *InputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestFitLogistic_Failures(t *testing.T) {
	separated := mat.NewDense(10, 2, nil)
	ySeparated := make([]float64, 10)
	for i := 0; i < 10; i++ {
		separated.Set(i, 0, 1)
		separated.Set(i, 1, float64(i+1))
		if i >= 5 {
			ySeparated[i] = 1
		}
	}

	_, ySingular := binaryDesign()
	singular := mat.NewDense(20, 3, nil)
	for i := 0; i < 20; i++ {
		singular.Set(i, 0, 1)
		if i%2 == 0 {
			singular.Set(i, 1, 1)
		}
	}

	tests := []struct {
		name  string
		X     *mat.Dense
		y     []float64
		names []string
	}{
		{name: "perfect separation", X: separated, y: ySeparated, names: []string{InterceptTerm, "x"}},
		{name: "constant zero column", X: singular, y: ySingular, names: []string{InterceptTerm, "x", "zero"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitLogistic(tt.X, tt.y, tt.names, testFitOptions)
			var convErr *ConvergenceError
			require.ErrorAs(t, err, &convErr)
			assert.Equal(t, "logit", convErr.Model)
			assert.Equal(t, "convergence", ErrorKind(err))
		})
	}
}

func TestFitLogistic_IterationCap(t *testing.T) {
	X, y := binaryDesign()
	_, err := FitLogistic(X, y, []string{InterceptTerm, "x"}, LogisticFitOptions{MaxIterations: 1, Tolerance: 1e-8})
	var convErr *ConvergenceError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, 1, convErr.Iterations)
	assert.Greater(t, convErr.LastStep, 1e-8)
}

func TestFitLogistic_InputErrors(t *testing.T) {
	X, y := binaryDesign()
	var inputErr *InputError

	_, err := FitLogistic(X, y[:5], []string{InterceptTerm, "x"}, testFitOptions)
	assert.ErrorAs(t, err, &inputErr)

	_, err = FitLogistic(X, y, []string{InterceptTerm}, testFitOptions)
	assert.ErrorAs(t, err, &inputErr)

	_, err = FitLogistic(mat.NewDense(2, 2, []float64{1, 0, 1, 1}), []float64{0, 1}, []string{InterceptTerm, "x"}, testFitOptions)
	var insufficientErr *InsufficientDataError
	assert.ErrorAs(t, err, &insufficientErr)
}

func TestBuildDesign(t *testing.T) {
	ds := overlapping(40, 3)
	dm, err := BuildDesign(ds, []string{flow.ColumnFlowPktsS, flow.ColumnAvgPktLen}, flow.ColumnDeviceType)
	require.NoError(t, err)

	assert.Equal(t, []string{
		InterceptTerm,
		"C(device_type)[T.light]",
		"C(device_type)[T.speaker]",
		"C(device_type)[T.thermostat]",
		flow.ColumnFlowPktsS,
		flow.ColumnAvgPktLen,
	}, dm.Names)
	assert.Equal(t, flow.DeviceCamera, dm.Encoding.Reference)

	require.Len(t, dm.Terms, 4)
	assert.Equal(t, "C(device_type)", dm.Terms[1].Name)
	assert.Equal(t, []int{1, 2, 3}, dm.Terms[1].Columns)

	r, c := dm.X.Dims()
	assert.Equal(t, 40, r)
	assert.Equal(t, 6, c)
	for i := 0; i < r; i++ {
		rec := ds.Record(i)
		assert.Equal(t, 1.0, dm.X.At(i, 0))
		assert.Equal(t, rec.FlowPktsS, dm.X.At(i, 4))
		dummies := dm.X.At(i, 1) + dm.X.At(i, 2) + dm.X.At(i, 3)
		if rec.Device == flow.DeviceCamera {
			assert.Equal(t, 0.0, dummies)
		} else {
			assert.Equal(t, 1.0, dummies)
		}
	}
}

func TestBuildDesign_Errors(t *testing.T) {
	cameras := overlapping(40, 3).Filter(func(r flow.Record) bool { return r.Device == flow.DeviceCamera })
	tests := []struct {
		name        string
		ds          *flow.Dataset
		continuous  []string
		categorical string
	}{
		{name: "single device level", ds: cameras, continuous: []string{flow.ColumnFlowPktsS}, categorical: flow.ColumnDeviceType},
		{name: "unknown column", ds: overlapping(10, 1), continuous: []string{"bogus"}, categorical: flow.ColumnDeviceType},
		{name: "non-categorical factor", ds: overlapping(10, 1), continuous: nil, categorical: flow.ColumnFlowBytsS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDesign(tt.ds, tt.continuous, tt.categorical)
			var inputErr *InputError
			assert.ErrorAs(t, err, &inputErr)
		})
	}
}

func TestDesignMatrix_Without(t *testing.T) {
	dm, err := BuildDesign(overlapping(30, 5), []string{flow.ColumnFlowPktsS, flow.ColumnAvgPktLen}, flow.ColumnDeviceType)
	require.NoError(t, err)

	reduced, dropped, err := dm.Without("C(device_type)")
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, []string{InterceptTerm, flow.ColumnFlowPktsS, flow.ColumnAvgPktLen}, reduced.Names)
	assert.Equal(t, []int{1}, reduced.Terms[1].Columns)
	assert.Equal(t, dm.X.At(7, 5), reduced.X.At(7, 2))

	_, _, err = dm.Without("bogus")
	var inputErr *InputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestFitRegression(t *testing.T) {
	ds := overlapping(1200, 11)
	sa := newTestAnalyzer(t)

	res, err := sa.FitRegression(ds, DefaultAnalysisPlan().Regression)
	require.NoError(t, err)

	pkts, ok := res.Model.Coefficient(flow.ColumnFlowPktsS)
	require.True(t, ok)
	assert.Greater(t, pkts.Estimate, 0.0)
	assert.Less(t, pkts.PValue, 0.05)

	require.NotNil(t, res.Effect)
	assert.Equal(t, math.Exp(pkts.Estimate*10), res.Effect.OddsRatio)
	assert.Greater(t, res.Effect.OddsRatio, 1.0)
	assert.Less(t, res.Effect.Lower, res.Effect.OddsRatio)
	assert.Greater(t, res.Effect.Upper, res.Effect.OddsRatio)

	apl, _ := res.Model.Coefficient(flow.ColumnAvgPktLen)
	assert.Less(t, apl.Estimate, 0.0)
	assert.Len(t, res.Model.Coefficients, 6)
}
