package evaluation

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// InterceptTerm names the constant column of a design matrix.
const InterceptTerm = "Intercept"

// DesignTerm groups the design columns contributed by one predictor.
type DesignTerm struct {
	Name    string `json:"name"`
	Columns []int  `json:"columns"`
}

// DesignMatrix is a numeric model matrix with named columns.
type DesignMatrix struct {
	Names    []string             `json:"names"`
	Terms    []DesignTerm         `json:"terms"`
	Encoding *flow.DeviceEncoding `json:"encoding,omitempty"`
	X        *mat.Dense           `json:"-"`
}

// BuildDesign assembles the intercept, the dummy-coded categorical predictor
// and the continuous predictors, in that column order.
func BuildDesign(ds *flow.Dataset, continuous []string, categorical string) (*DesignMatrix, error) {
	n := ds.Len()
	if n == 0 {
		return nil, insufficient("", "", 0, 1)
	}
	dm := &DesignMatrix{Names: []string{InterceptTerm}}
	dm.Terms = append(dm.Terms, DesignTerm{Name: InterceptTerm, Columns: []int{0}})

	devices := ds.Devices()
	if categorical != "" {
		if categorical != flow.ColumnDeviceType {
			return nil, &InputError{Field: categorical, Reason: "only device_type can be dummy coded"}
		}
		enc, err := flow.EncodeDevice(ds.ObservedDevices())
		if err != nil {
			return nil, &InputError{Field: categorical, Reason: err.Error(), Err: err}
		}
		dm.Encoding = enc
		term := DesignTerm{Name: fmt.Sprintf("C(%s)", categorical)}
		for _, name := range enc.ColumnNames() {
			term.Columns = append(term.Columns, len(dm.Names))
			dm.Names = append(dm.Names, name)
		}
		dm.Terms = append(dm.Terms, term)
	}

	cols := make([][]float64, 0, len(continuous))
	for _, c := range continuous {
		values, err := ds.Column(c)
		if err != nil {
			return nil, &InputError{Field: c, Reason: "unknown numeric column", Err: err}
		}
		dm.Terms = append(dm.Terms, DesignTerm{Name: c, Columns: []int{len(dm.Names)}})
		dm.Names = append(dm.Names, c)
		cols = append(cols, values)
	}

	p := len(dm.Names)
	data := make([]float64, 0, n*p)
	for i := 0; i < n; i++ {
		data = append(data, 1)
		if dm.Encoding != nil {
			data = append(data, dm.Encoding.Indicators(devices[i])...)
		}
		for _, col := range cols {
			data = append(data, col[i])
		}
	}
	dm.X = mat.NewDense(n, p, data)
	return dm, nil
}

// Without returns a copy of the design with the named term's columns removed.
func (dm *DesignMatrix) Without(term string) (*DesignMatrix, int, error) {
	drop := make(map[int]bool)
	for _, t := range dm.Terms {
		if t.Name == term {
			for _, c := range t.Columns {
				drop[c] = true
			}
		}
	}
	if len(drop) == 0 {
		return nil, 0, &InputError{Field: term, Reason: "not a model term"}
	}

	n, p := dm.X.Dims()
	keep := make([]int, 0, p-len(drop))
	out := &DesignMatrix{Encoding: dm.Encoding}
	remap := make(map[int]int)
	for c := 0; c < p; c++ {
		if !drop[c] {
			remap[c] = len(keep)
			keep = append(keep, c)
			out.Names = append(out.Names, dm.Names[c])
		}
	}
	for _, t := range dm.Terms {
		if t.Name == term {
			continue
		}
		nt := DesignTerm{Name: t.Name}
		for _, c := range t.Columns {
			nt.Columns = append(nt.Columns, remap[c])
		}
		out.Terms = append(out.Terms, nt)
	}
	out.X = mat.NewDense(n, len(keep), nil)
	for j, c := range keep {
		out.X.SetCol(j, mat.Col(nil, c, dm.X))
	}
	return out, len(drop), nil
}

// Coefficient is one fitted logistic coefficient with its Wald inference.
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"stdErr"`
	Z        float64 `json:"z"`
	PValue   float64 `json:"pValue"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// LogisticResult is a fitted binary logistic regression.
type LogisticResult struct {
	Coefficients      []Coefficient `json:"coefficients"`
	NObs              int           `json:"nObs"`
	DFModel           int           `json:"dfModel"`
	DFResid           int           `json:"dfResid"`
	LogLikelihood     float64       `json:"logLikelihood"`
	NullLogLikelihood float64       `json:"nullLogLikelihood"`
	PseudoR2          float64       `json:"pseudoR2"` // McFadden
	LLR               float64       `json:"llr"`
	LLRPValue         float64       `json:"llrPValue"`
	Iterations        int           `json:"iterations"`
	Converged         bool          `json:"converged"`
}

// Coefficient looks up a coefficient by design column name.
func (r *LogisticResult) Coefficient(name string) (Coefficient, bool) {
	for _, c := range r.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// OddsRatio returns exp(beta * increment) for the named predictor.
func (r *LogisticResult) OddsRatio(name string, increment float64) (float64, error) {
	c, ok := r.Coefficient(name)
	if !ok {
		return 0, &InputError{Field: name, Reason: "not a model predictor"}
	}
	return math.Exp(c.Estimate * increment), nil
}

// LogisticFitOptions bounds the Newton-Raphson iterations.
type LogisticFitOptions struct {
	MaxIterations int
	Tolerance     float64
	Level         float64
}

// FitLogistic fits P(y=1) = 1/(1+exp(-X*beta)) by Newton-Raphson. It fails
// with a ConvergenceError on a singular information matrix or when the step
// does not fall below the tolerance within the iteration cap.
func FitLogistic(X mat.Matrix, y []float64, names []string, opts LogisticFitOptions) (*LogisticResult, error) {
	n, p := X.Dims()
	if len(y) != n {
		return nil, &InputError{Field: "y", Reason: fmt.Sprintf("length %d does not match %d design rows", len(y), n)}
	}
	if len(names) != p {
		return nil, &InputError{Field: "names", Reason: fmt.Sprintf("%d names for %d columns", len(names), p)}
	}
	if n <= p {
		return nil, insufficient("", "", n, p+1)
	}
	if opts.Level == 0 {
		opts.Level = 0.95
	}

	beta := mat.NewVecDense(p, nil)
	eta := mat.NewVecDense(n, nil)
	resid := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(p, nil)
	step := mat.NewVecDense(p, nil)
	weighted := mat.NewDense(n, p, nil)
	info := mat.NewSymDense(p, nil)
	var chol mat.Cholesky

	information := func() error {
		eta.MulVec(X, beta)
		for i := 0; i < n; i++ {
			mu := sigmoid(eta.AtVec(i))
			resid.SetVec(i, y[i]-mu)
			sw := math.Sqrt(mu * (1 - mu))
			for j := 0; j < p; j++ {
				weighted.Set(i, j, X.At(i, j)*sw)
			}
		}
		info.SymOuterK(1, weighted.T())
		if ok := chol.Factorize(info); !ok {
			return &ConvergenceError{Model: "logit", Reason: "information matrix is singular"}
		}
		return nil
	}

	converged := false
	iter := 0
	var last float64
	for iter < opts.MaxIterations {
		iter++
		if err := information(); err != nil {
			err.(*ConvergenceError).Iterations = iter
			return nil, err
		}
		grad.MulVec(X.T(), resid)
		if err := chol.SolveVecTo(step, grad); err != nil {
			return nil, &ConvergenceError{Model: "logit", Iterations: iter, Reason: err.Error()}
		}
		beta.AddVec(beta, step)
		last = mat.Norm(step, math.Inf(1))
		if math.IsNaN(last) {
			return nil, &ConvergenceError{Model: "logit", Iterations: iter, Reason: "step is not finite"}
		}
		if last < opts.Tolerance {
			converged = true
			break
		}
	}
	if !converged {
		return nil, &ConvergenceError{Model: "logit", Iterations: iter, Reason: "step tolerance not reached", LastStep: last}
	}

	// covariance at the solution
	if err := information(); err != nil {
		err.(*ConvergenceError).Iterations = iter
		return nil, err
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, &ConvergenceError{Model: "logit", Iterations: iter, Reason: err.Error()}
	}

	res := &LogisticResult{
		NObs:       n,
		DFModel:    p - 1,
		DFResid:    n - p,
		Iterations: iter,
		Converged:  true,
	}
	zcrit := distuv.UnitNormal.Quantile((1 + opts.Level) / 2)
	for j := 0; j < p; j++ {
		b := beta.AtVec(j)
		se := math.Sqrt(cov.At(j, j))
		z := b / se
		res.Coefficients = append(res.Coefficients, Coefficient{
			Name:     names[j],
			Estimate: b,
			StdErr:   se,
			Z:        z,
			PValue:   2 * distuv.UnitNormal.Survival(math.Abs(z)),
			Lower:    b - zcrit*se,
			Upper:    b + zcrit*se,
		})
	}

	res.LogLikelihood = logLikelihood(eta, y)
	res.NullLogLikelihood = nullLogLikelihood(y)
	res.LLR = 2 * (res.LogLikelihood - res.NullLogLikelihood)
	res.LLRPValue = chiSquareSurvival(res.LLR, float64(res.DFModel))
	if res.NullLogLikelihood != 0 {
		res.PseudoR2 = 1 - res.LogLikelihood/res.NullLogLikelihood
	}
	return res, nil
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// softplus is log(1 + exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func logLikelihood(eta *mat.VecDense, y []float64) float64 {
	ll := 0.0
	for i, yi := range y {
		e := eta.AtVec(i)
		ll += yi*e - softplus(e)
	}
	return ll
}

func nullLogLikelihood(y []float64) float64 {
	n := float64(len(y))
	k := 0.0
	for _, yi := range y {
		k += yi
	}
	if k == 0 || k == n {
		return 0
	}
	p := k / n
	return k*math.Log(p) + (n-k)*math.Log(1-p)
}

// EffectEstimate is the odds ratio for a fixed increase in one predictor.
type EffectEstimate struct {
	Variable  string  `json:"variable"`
	Increment float64 `json:"increment"`
	OddsRatio float64 `json:"oddsRatio"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
}

// RegressionResult bundles the fitted model with its derived quantities.
type RegressionResult struct {
	Model    *LogisticResult  `json:"model"`
	Design   *DesignMatrix    `json:"design"`
	Effect   *EffectEstimate  `json:"effect,omitempty"`
	Ablation []AblationResult `json:"ablation,omitempty"`
}

// FitRegression fits the configured logistic model of is_ddos.
func (sa *StatisticalAnalyzer) FitRegression(ds *flow.Dataset, target RegressionTarget) (*RegressionResult, error) {
	design, err := BuildDesign(ds, target.Continuous, target.Categorical)
	if err != nil {
		return nil, err
	}
	model, err := FitLogistic(design.X, ds.IsDDoS(), design.Names, sa.fitOptions())
	if err != nil {
		return nil, err
	}
	res := &RegressionResult{Model: model, Design: design}

	if e := target.Effect; e.Variable != "" {
		or, err := model.OddsRatio(e.Variable, e.Increment)
		if err != nil {
			return res, err
		}
		c, _ := model.Coefficient(e.Variable)
		lo, hi := math.Exp(c.Lower*e.Increment), math.Exp(c.Upper*e.Increment)
		res.Effect = &EffectEstimate{
			Variable:  e.Variable,
			Increment: e.Increment,
			OddsRatio: or,
			Lower:     math.Min(lo, hi),
			Upper:     math.Max(lo, hi),
		}
	}

	sa.logger.Info("Logistic model fitted",
		zap.Int("observations", model.NObs),
		zap.Int("iterations", model.Iterations),
		zap.Float64("pseudoR2", model.PseudoR2))
	return res, nil
}

func (sa *StatisticalAnalyzer) fitOptions() LogisticFitOptions {
	return LogisticFitOptions{
		MaxIterations: sa.config.MaxIterations,
		Tolerance:     sa.config.Tolerance,
		Level:         sa.config.ConfidenceLevel,
	}
}
