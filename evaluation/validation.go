package evaluation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Validation check states.
const (
	CheckPassed  = "passed"
	CheckFailed  = "failed"
	CheckSkipped = "skipped"
)

// ReproducibilityValidator verifies stored run artifacts against their manifest.
type ReproducibilityValidator struct {
	logger *zap.Logger
}

// ValidationCheck is the outcome of one integrity check.
type ValidationCheck struct {
	Name     string `json:"name"`
	Target   string `json:"target"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ValidationResult aggregates the checks of one run.
type ValidationResult struct {
	RunID       string            `json:"runId"`
	ValidatedAt time.Time         `json:"validatedAt"`
	Checks      []ValidationCheck `json:"checks"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Score       float64           `json:"score"`
	Valid       bool              `json:"valid"`
}

// NewReproducibilityValidator creates a new reproducibility validator
func NewReproducibilityValidator(logger *zap.Logger) *ReproducibilityValidator {
	return &ReproducibilityValidator{logger: logger}
}

// ValidateRun re-hashes every file listed in runDir's manifest and, when
// datasetPath is set, the dataset the run was computed from.
func (rv *ReproducibilityValidator) ValidateRun(ctx context.Context, runDir, datasetPath string) (*ValidationResult, error) {
	manifest, err := ReadManifest(runDir)
	if err != nil {
		return nil, err
	}
	rv.logger.Info("Validating run", zap.String("runId", manifest.RunID), zap.Int("files", len(manifest.Files)))

	result := &ValidationResult{RunID: manifest.RunID, ValidatedAt: time.Now().UTC()}
	for _, f := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Checks = append(result.Checks, rv.checkDigest("artifact_checksum", filepath.Join(runDir, f.Name), f.BLAKE3))
	}

	switch {
	case datasetPath == "":
		result.Checks = append(result.Checks, ValidationCheck{
			Name: "dataset_checksum", Target: manifest.DatasetPath, Status: CheckSkipped,
			Message: "no dataset given",
		})
	case manifest.DatasetFingerprint == "":
		result.Checks = append(result.Checks, ValidationCheck{
			Name: "dataset_checksum", Target: datasetPath, Status: CheckSkipped,
			Message: "manifest has no dataset fingerprint",
		})
	default:
		result.Checks = append(result.Checks, rv.checkDigest("dataset_checksum", datasetPath, manifest.DatasetFingerprint))
	}

	for _, c := range result.Checks {
		switch c.Status {
		case CheckPassed:
			result.Passed++
		case CheckFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}
	result.Score = rv.calculateValidationScore(result)
	result.Valid = result.Failed == 0 && result.Passed > 0

	rv.logger.Info("Validation completed",
		zap.String("runId", result.RunID),
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
		zap.Float64("score", result.Score))
	return result, nil
}

func (rv *ReproducibilityValidator) checkDigest(name, path, expected string) ValidationCheck {
	check := ValidationCheck{Name: name, Target: path, Expected: expected}
	actual, _, err := HashFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		check.Status = CheckFailed
		check.Message = "file is missing"
	case err != nil:
		check.Status = CheckFailed
		check.Message = err.Error()
	case actual != expected:
		check.Status = CheckFailed
		check.Actual = actual
		check.Message = "digest mismatch"
	default:
		check.Status = CheckPassed
		check.Actual = actual
	}
	if check.Status == CheckFailed {
		rv.logger.Warn("Integrity check failed", zap.String("check", name), zap.String("target", path), zap.String("reason", check.Message))
	}
	return check
}

// calculateValidationScore is the share of non-skipped checks that passed.
func (rv *ReproducibilityValidator) calculateValidationScore(result *ValidationResult) float64 {
	total := result.Passed + result.Failed
	if total == 0 {
		return 0
	}
	return float64(result.Passed) / float64(total)
}

// String summarises the result on one line.
func (r *ValidationResult) String() string {
	return fmt.Sprintf("run %s: %d passed, %d failed, %d skipped (score %.2f)", r.RunID, r.Passed, r.Failed, r.Skipped, r.Score)
}
