package evaluation

import (
	"context"
	"math"

	"go.uber.org/zap"
)

// AblationStudyManager measures how much each predictor term contributes to
// a fitted logistic model by refitting without it.
type AblationStudyManager struct {
	logger *zap.Logger
	opts   LogisticFitOptions
	alpha  float64
}

// AblationResult is the likelihood-ratio test for dropping one term.
type AblationResult struct {
	Term          string  `json:"term"`
	DroppedCols   int     `json:"droppedColumns"`
	LogLikelihood float64 `json:"logLikelihood"` // reduced model
	LRStatistic   float64 `json:"lrStatistic"`
	DF            int     `json:"df"`
	PValue        float64 `json:"pValue"`
	Significant   bool    `json:"significant"`
	Error         string  `json:"error,omitempty"`
}

// NewAblationStudyManager creates a new ablation study manager
func NewAblationStudyManager(logger *zap.Logger, opts LogisticFitOptions, alpha float64) *AblationStudyManager {
	return &AblationStudyManager{logger: logger, opts: opts, alpha: alpha}
}

// RunAblationStudy refits the model once per non-intercept term. A failed
// refit is recorded on its result and the study continues.
func (asm *AblationStudyManager) RunAblationStudy(ctx context.Context, design *DesignMatrix,
	y []float64, full *LogisticResult) ([]AblationResult, error) {

	asm.logger.Info("Running ablation study", zap.Int("terms", len(design.Terms)-1))

	var results []AblationResult
	for _, term := range design.Terms {
		if term.Name == InterceptTerm {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := AblationResult{Term: term.Name}
		reduced, dropped, err := design.Without(term.Name)
		if err != nil {
			return results, err
		}
		res.DroppedCols, res.DF = dropped, dropped

		model, err := FitLogistic(reduced.X, y, reduced.Names, asm.opts)
		if err != nil {
			res.Error = err.Error()
			asm.logger.Warn("Ablation refit failed", zap.String("term", term.Name), zap.Error(err))
			results = append(results, res)
			continue
		}
		res.LogLikelihood = model.LogLikelihood
		res.LRStatistic = math.Max(2*(full.LogLikelihood-model.LogLikelihood), 0)
		res.PValue = chiSquareSurvival(res.LRStatistic, float64(res.DF))
		res.Significant = res.PValue < asm.alpha
		results = append(results, res)
	}

	asm.logger.Info("Ablation study completed", zap.Int("terms", len(results)))
	return results, nil
}
