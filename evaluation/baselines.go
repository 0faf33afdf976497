package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const baselineKeyPrefix = "baseline:"

// significantChange is the percent change beyond which a mean is flagged.
const significantChange = 5.0

// ErrBaselineNotFound is returned when no baseline is stored under a name.
var ErrBaselineNotFound = errors.New("baseline not found")

// BaselineStore is the subset of redis.Cmdable the baseline manager uses.
type BaselineStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// BaselineManager stores descriptive tables of reference runs in Redis and
// compares later runs against them.
type BaselineManager struct {
	client BaselineStore
	logger *zap.Logger
	ttl    time.Duration
}

// Baseline is a stored reference run.
type Baseline struct {
	Name               string            `json:"name"`
	RunID              string            `json:"runId"`
	CreatedAt          time.Time         `json:"createdAt"`
	DatasetFingerprint string            `json:"datasetFingerprint,omitempty"`
	Descriptive        *DescriptiveTable `json:"descriptive"`
}

// MetricComparison compares one (group, variable) mean against the baseline.
type MetricComparison struct {
	Group         string  `json:"group"`
	Variable      string  `json:"variable"`
	BaselineValue float64 `json:"baselineValue"`
	CurrentValue  float64 `json:"currentValue"`
	Difference    float64 `json:"difference"`
	PercentChange float64 `json:"percentChange"`
	Significant   bool    `json:"significant"`
	Direction     string  `json:"direction"` // increase, decrease or neutral
}

// BaselineComparison is the drift of a run relative to a baseline.
type BaselineComparison struct {
	BaselineName       string             `json:"baselineName"`
	BaselineRunID      string             `json:"baselineRunId"`
	ComparisonTime     time.Time          `json:"comparisonTime"`
	Comparisons        []MetricComparison `json:"comparisons"`
	SignificantChanges int                `json:"significantChanges"`
	OverallScore       float64            `json:"overallScore"`
}

// NewBaselineManager creates a new baseline manager. A zero ttl keeps
// baselines forever.
func NewBaselineManager(client BaselineStore, logger *zap.Logger, ttl time.Duration) *BaselineManager {
	return &BaselineManager{client: client, logger: logger, ttl: ttl}
}

// SaveBaseline stores b under baseline:<name>, replacing any previous one.
func (bm *BaselineManager) SaveBaseline(ctx context.Context, b *Baseline) error {
	if b.Name == "" {
		return &InputError{Field: "baseline.name", Reason: "must not be empty"}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	if err := bm.client.Set(ctx, baselineKeyPrefix+b.Name, data, bm.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store baseline in Redis: %w", err)
	}
	bm.logger.Info("Baseline saved", zap.String("name", b.Name), zap.String("runId", b.RunID))
	return nil
}

// GetBaseline retrieves a baseline by name.
func (bm *BaselineManager) GetBaseline(ctx context.Context, name string) (*Baseline, error) {
	data, err := bm.client.Get(ctx, baselineKeyPrefix+name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrBaselineNotFound, name)
		}
		return nil, fmt.Errorf("failed to retrieve baseline from Redis: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline: %w", err)
	}
	return &b, nil
}

// ListBaselines lists all stored baselines, newest first.
func (bm *BaselineManager) ListBaselines(ctx context.Context) ([]*Baseline, error) {
	keys, err := bm.client.Keys(ctx, baselineKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list baseline keys: %w", err)
	}
	var baselines []*Baseline
	for _, key := range keys {
		name := strings.TrimPrefix(key, baselineKeyPrefix)
		b, err := bm.GetBaseline(ctx, name)
		if err != nil {
			bm.logger.Warn("Failed to retrieve baseline", zap.String("name", name), zap.Error(err))
			continue
		}
		baselines = append(baselines, b)
	}
	sort.Slice(baselines, func(i, j int) bool {
		return baselines[i].CreatedAt.After(baselines[j].CreatedAt)
	})
	return baselines, nil
}

// CompareWithBaseline compares the means of table with those of the named baseline.
func (bm *BaselineManager) CompareWithBaseline(ctx context.Context, name string,
	table *DescriptiveTable) (*BaselineComparison, error) {

	baseline, err := bm.GetBaseline(ctx, name)
	if err != nil {
		return nil, err
	}
	if baseline.Descriptive == nil {
		return nil, fmt.Errorf("baseline has no results: %s", name)
	}

	comparison := &BaselineComparison{
		BaselineName:   name,
		BaselineRunID:  baseline.RunID,
		ComparisonTime: time.Now().UTC(),
	}
	for _, row := range table.Rows {
		ref, ok := baseline.Descriptive.Lookup(row.Group, row.Variable)
		if !ok || ref.Mean == 0 {
			continue
		}
		mc := MetricComparison{
			Group:         row.Group,
			Variable:      row.Variable,
			BaselineValue: ref.Mean,
			CurrentValue:  row.Stats.Mean,
			Difference:    row.Stats.Mean - ref.Mean,
		}
		mc.PercentChange = mc.Difference / math.Abs(ref.Mean) * 100
		mc.Direction = "neutral"
		if math.Abs(mc.PercentChange) > significantChange {
			mc.Significant = true
			comparison.SignificantChanges++
			if mc.PercentChange > 0 {
				mc.Direction = "increase"
			} else {
				mc.Direction = "decrease"
			}
		}
		comparison.Comparisons = append(comparison.Comparisons, mc)
	}
	comparison.OverallScore = bm.calculateComparisonScore(comparison)

	bm.logger.Info("Compared with baseline",
		zap.String("name", name),
		zap.Int("metrics", len(comparison.Comparisons)),
		zap.Int("significant", comparison.SignificantChanges))
	return comparison, nil
}

// calculateComparisonScore averages the significant percent changes, each
// capped at ±100, over all compared metrics.
func (bm *BaselineManager) calculateComparisonScore(comparison *BaselineComparison) float64 {
	if len(comparison.Comparisons) == 0 {
		return 0
	}
	var total float64
	for _, mc := range comparison.Comparisons {
		if mc.Significant {
			total += math.Max(math.Min(mc.PercentChange, 100), -100)
		}
	}
	return total / float64(len(comparison.Comparisons))
}
