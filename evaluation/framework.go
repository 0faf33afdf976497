package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// Pipeline step names, in execution order.
const (
	StepEnvironment = "environment"
	StepDescribe    = "describe"
	StepNormality   = "normality"
	StepIntervals   = "intervals"
	StepOneSample   = "one_sample"
	StepTwoSample   = "two_sample"
	StepANOVA       = "anova"
	StepRegression  = "regression"
	StepAblation    = "ablation"
	StepBaseline    = "baseline"
)

// Run status values.
const (
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
)

// StepObserver is notified after every pipeline step.
type StepObserver interface {
	ObserveStep(step string, elapsed time.Duration, err error)
}

// FrameworkConfig configures an evaluation run.
type FrameworkConfig struct {
	Statistical StatisticalConfig `json:"statistical" yaml:"statistical" mapstructure:"statistical"`
	Plan        AnalysisPlan      `json:"plan" yaml:"plan" mapstructure:"plan"`
	Baseline    BaselineOptions   `json:"baseline" yaml:"baseline" mapstructure:"baseline"`
}

// BaselineOptions selects the baseline to compare against.
type BaselineOptions struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	Update bool   `json:"update" yaml:"update" mapstructure:"update"` // store this run as the new baseline
}

// DefaultFrameworkConfig returns the default statistical config and plan.
func DefaultFrameworkConfig() *FrameworkConfig {
	return &FrameworkConfig{
		Statistical: DefaultStatisticalConfig(),
		Plan:        DefaultAnalysisPlan(),
	}
}

// EvaluationFramework runs every configured analysis over a dataset. Steps
// fail independently: an error is recorded and the next step still runs.
type EvaluationFramework struct {
	config          FrameworkConfig
	analyzer        *StatisticalAnalyzer
	ablationManager *AblationStudyManager
	baselineManager *BaselineManager
	reproManager    *ReproducibilityManager
	observer        StepObserver
	logger          *zap.Logger
}

// FrameworkOption customises an EvaluationFramework.
type FrameworkOption func(*EvaluationFramework)

// WithBaselineManager enables baseline comparison.
func WithBaselineManager(bm *BaselineManager) FrameworkOption {
	return func(f *EvaluationFramework) { f.baselineManager = bm }
}

// WithStepObserver reports step outcomes, e.g. to metrics.
func WithStepObserver(o StepObserver) FrameworkOption {
	return func(f *EvaluationFramework) { f.observer = o }
}

// WithReproducibilityManager enables environment capture.
func WithReproducibilityManager(rm *ReproducibilityManager) FrameworkOption {
	return func(f *EvaluationFramework) { f.reproManager = rm }
}

// NewEvaluationFramework creates a new evaluation framework. A nil config
// selects DefaultFrameworkConfig.
func NewEvaluationFramework(config *FrameworkConfig, logger *zap.Logger, opts ...FrameworkOption) (*EvaluationFramework, error) {
	if config == nil {
		config = DefaultFrameworkConfig()
	}
	if err := config.Statistical.Validate(); err != nil {
		return nil, err
	}
	if err := config.Plan.Validate(); err != nil {
		return nil, err
	}

	analyzer := NewStatisticalAnalyzer(logger, &config.Statistical)
	f := &EvaluationFramework{
		config:          *config,
		analyzer:        analyzer,
		ablationManager: NewAblationStudyManager(logger, analyzer.fitOptions(), config.Statistical.SignificanceLevel),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// EvaluationRequest is the input of one run.
type EvaluationRequest struct {
	Dataset     *flow.Dataset
	DatasetPath string
	Fingerprint string
	Load        *flow.LoadStats
}

// DatasetSummary describes the analysed dataset.
type DatasetSummary struct {
	Path         string         `json:"path,omitempty"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	Rows         int            `json:"rows"`
	Columns      int            `json:"columns"`
	DroppedRows  int            `json:"droppedRows"`
	LabelCounts  map[string]int `json:"labelCounts"`
	DeviceCounts map[string]int `json:"deviceCounts"`
}

// EvaluationResult aggregates the outputs of every step of one run.
type EvaluationResult struct {
	RunID       string               `json:"runId"`
	Status      string               `json:"status"`
	CreatedAt   time.Time            `json:"createdAt"`
	CompletedAt time.Time            `json:"completedAt"`
	Dataset     DatasetSummary       `json:"dataset"`
	Config      StatisticalConfig    `json:"config"`
	Plan        AnalysisPlan         `json:"plan"`
	Environment *EnvironmentSnapshot `json:"environment,omitempty"`
	Descriptive *DescriptiveTable    `json:"descriptive,omitempty"`
	Normality   []NormalityResult    `json:"normality,omitempty"`
	Intervals   []MeanInterval       `json:"intervals,omitempty"`
	OneSample   []OneSampleResult    `json:"oneSample,omitempty"`
	TwoSample   []WelchResult        `json:"twoSample,omitempty"`
	ANOVA       []*ANOVAResult       `json:"anova,omitempty"`
	Regression  *RegressionResult    `json:"regression,omitempty"`
	Baseline    *BaselineComparison  `json:"baseline,omitempty"`
	Errors      []StepError          `json:"errors,omitempty"`
}

// Failed reports whether any step failed.
func (r *EvaluationResult) Failed() bool { return len(r.Errors) > 0 }

// StepFailure returns the error recorded for step, if any.
func (r *EvaluationResult) StepFailure(step string) (StepError, bool) {
	for _, e := range r.Errors {
		if e.Step == step {
			return e, true
		}
	}
	return StepError{}, false
}

// RunEvaluation executes a complete analysis of the request's dataset. It
// returns an error only when the request itself is unusable or ctx is done;
// step failures are reported in the result.
func (f *EvaluationFramework) RunEvaluation(ctx context.Context, req *EvaluationRequest) (*EvaluationResult, error) {
	if req == nil || req.Dataset == nil {
		return nil, &InputError{Field: "dataset", Reason: "no dataset given"}
	}
	ds := req.Dataset

	result := &EvaluationResult{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Config:    f.analyzer.Config(),
		Plan:      f.config.Plan,
		Dataset: DatasetSummary{
			Path:         req.DatasetPath,
			Fingerprint:  req.Fingerprint,
			Rows:         ds.Len(),
			Columns:      len(flow.Header),
			LabelCounts:  make(map[string]int),
			DeviceCounts: make(map[string]int),
		},
	}
	if req.Load != nil {
		result.Dataset.DroppedRows = req.Load.DroppedRows
	}
	for l, n := range ds.LabelCounts() {
		result.Dataset.LabelCounts[string(l)] = n
	}
	for d, n := range ds.DeviceCounts() {
		result.Dataset.DeviceCounts[string(d)] = n
	}

	f.logger.Info("Starting evaluation",
		zap.String("runId", result.RunID),
		zap.Int("rows", ds.Len()),
		zap.String("dataset", req.DatasetPath))

	if f.reproManager != nil {
		f.runStep(ctx, result, StepEnvironment, func() (err error) {
			result.Environment, err = f.reproManager.CaptureEnvironment(ctx)
			return err
		})
	}

	f.runStep(ctx, result, StepDescribe, func() (err error) {
		result.Descriptive, err = f.analyzer.DescribeDataset(ds)
		return err
	})
	f.runStep(ctx, result, StepNormality, func() (err error) {
		result.Normality, err = f.analyzer.TestNormality(ds)
		return err
	})

	plan := f.config.Plan
	if len(plan.Intervals) > 0 {
		f.runStep(ctx, result, StepIntervals, func() (err error) {
			result.Intervals, err = f.analyzer.EstimateIntervals(ds, plan.Intervals)
			return err
		})
	}
	if len(plan.OneSample) > 0 {
		f.runStep(ctx, result, StepOneSample, func() (err error) {
			result.OneSample, err = f.analyzer.RunOneSampleTests(ds, plan.OneSample)
			return err
		})
	}
	if len(plan.TwoSample) > 0 {
		f.runStep(ctx, result, StepTwoSample, func() (err error) {
			result.TwoSample, err = f.analyzer.RunTwoSampleTests(ds, plan.TwoSample)
			return err
		})
	}
	if len(plan.ANOVA) > 0 {
		f.runStep(ctx, result, StepANOVA, func() error {
			var errs []error
			for _, target := range plan.ANOVA {
				res, err := f.analyzer.RunANOVA(ds, target)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				result.ANOVA = append(result.ANOVA, res)
			}
			return errors.Join(errs...)
		})
	}
	if len(plan.Regression.Continuous) > 0 || plan.Regression.Categorical != "" {
		f.runStep(ctx, result, StepRegression, func() (err error) {
			result.Regression, err = f.analyzer.FitRegression(ds, plan.Regression)
			return err
		})
		if plan.Regression.Ablation && result.Regression != nil && result.Regression.Model != nil {
			f.runStep(ctx, result, StepAblation, func() (err error) {
				reg := result.Regression
				reg.Ablation, err = f.ablationManager.RunAblationStudy(ctx, reg.Design, ds.IsDDoS(), reg.Model)
				return err
			})
		}
	}

	if f.baselineManager != nil && f.config.Baseline.Name != "" && result.Descriptive != nil {
		f.runStep(ctx, result, StepBaseline, func() error {
			return f.compareBaseline(ctx, result)
		})
	}

	result.CompletedAt = time.Now().UTC()
	result.Status = StatusCompleted
	if result.Failed() {
		result.Status = StatusCompletedWithErrors
	}

	f.logger.Info("Evaluation completed",
		zap.String("runId", result.RunID),
		zap.String("status", result.Status),
		zap.Int("failedSteps", len(result.Errors)),
		zap.Duration("elapsed", result.CompletedAt.Sub(result.CreatedAt)))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (f *EvaluationFramework) runStep(ctx context.Context, result *EvaluationResult, step string, fn func() error) {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn()
	}
	elapsed := time.Since(start)
	if f.observer != nil {
		f.observer.ObserveStep(step, elapsed, err)
	}
	if err != nil {
		kind := ErrorKind(err)
		result.Errors = append(result.Errors, StepError{Step: step, Kind: kind, Err: err.Error()})
		f.logger.Warn("Evaluation step failed",
			zap.String("step", step),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	f.logger.Debug("Evaluation step completed", zap.String("step", step), zap.Duration("elapsed", elapsed))
}

func (f *EvaluationFramework) compareBaseline(ctx context.Context, result *EvaluationResult) error {
	name := f.config.Baseline.Name
	comparison, err := f.baselineManager.CompareWithBaseline(ctx, name, result.Descriptive)
	switch {
	case errors.Is(err, ErrBaselineNotFound):
		f.logger.Info("No baseline stored yet", zap.String("name", name))
	case err != nil:
		return err
	default:
		result.Baseline = comparison
	}

	if f.config.Baseline.Update || errors.Is(err, ErrBaselineNotFound) {
		b := &Baseline{
			Name:               name,
			RunID:              result.RunID,
			DatasetFingerprint: result.Dataset.Fingerprint,
			Descriptive:        result.Descriptive,
		}
		if err := f.baselineManager.SaveBaseline(ctx, b); err != nil {
			return fmt.Errorf("update baseline %s: %w", name, err)
		}
	}
	return nil
}
