// Package sink persists flattened evaluation results.
package sink

import (
	"context"
	"math"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

// ResultSink stores the result rows of a run. Writing the same rows twice
// must not duplicate them.
type ResultSink interface {
	Name() string
	WriteResults(ctx context.Context, rows []evaluation.ResultRow) error
}

// nullable maps NaN, meaning "not applicable", to SQL NULL.
func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
