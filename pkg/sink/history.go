package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

// RunRecord is one analysed run in the local history.
type RunRecord struct {
	gorm.Model

	RunID       string    `gorm:"uniqueIndex;not null" json:"run_id"`
	Status      string    `gorm:"index" json:"status"`
	DatasetPath string    `json:"dataset_path"`
	Fingerprint string    `gorm:"index" json:"fingerprint"`
	Rows        int       `json:"rows"`
	FailedSteps int       `json:"failed_steps"`
	StartedAt   time.Time `gorm:"index" json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResultRecord is the stored form of evaluation.ResultRow.
type ResultRecord struct {
	ID        uint     `gorm:"primaryKey"`
	RunID     string   `gorm:"uniqueIndex:idx_result_key;not null"`
	Step      string   `gorm:"uniqueIndex:idx_result_key;not null"`
	GroupName string   `gorm:"uniqueIndex:idx_result_key;not null"`
	Variable  string   `gorm:"uniqueIndex:idx_result_key;not null"`
	Term      string   `gorm:"uniqueIndex:idx_result_key;not null"`
	Statistic *float64
	PValue    *float64
	Estimate  *float64
	CILower   *float64
	CIUpper   *float64
	DF        *float64
	N         int
}

// HistoryStore keeps past runs and their results in a SQLite database.
type HistoryStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenHistory opens (creating if needed) the SQLite database at path and
// migrates its schema.
func OpenHistory(path string, log *zap.Logger) (*HistoryStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}, &ResultRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	log.Debug("History database opened", zap.String("path", path))
	return &HistoryStore{db: db, logger: log}, nil
}

// Close releases the underlying connection pool.
func (h *HistoryStore) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (h *HistoryStore) Name() string { return "history" }

func toRecords(rows []evaluation.ResultRow) []ResultRecord {
	out := make([]ResultRecord, len(rows))
	for i, r := range rows {
		out[i] = ResultRecord{
			RunID:     r.RunID,
			Step:      r.Step,
			GroupName: r.Group,
			Variable:  r.Variable,
			Term:      r.Term,
			Statistic: nullable(r.Statistic),
			PValue:    nullable(r.PValue),
			Estimate:  nullable(r.Estimate),
			CILower:   nullable(r.CILower),
			CIUpper:   nullable(r.CIUpper),
			DF:        nullable(r.DF),
			N:         r.N,
		}
	}
	return out
}

func writeRecords(tx *gorm.DB, rows []evaluation.ResultRow) error {
	if len(rows) == 0 {
		return nil
	}
	records := toRecords(rows)
	return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&records, 200).Error
}

// WriteResults stores rows without a run record.
func (h *HistoryStore) WriteResults(ctx context.Context, rows []evaluation.ResultRow) error {
	if err := writeRecords(h.db.WithContext(ctx), rows); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// RecordRun stores the run summary and all its result rows in one
// transaction. Recording the same run again updates its summary.
func (h *HistoryStore) RecordRun(ctx context.Context, res *evaluation.EvaluationResult) error {
	run := RunRecord{
		RunID:       res.RunID,
		Status:      res.Status,
		DatasetPath: res.Dataset.Path,
		Fingerprint: res.Dataset.Fingerprint,
		Rows:        res.Dataset.Rows,
		FailedSteps: len(res.Errors),
		StartedAt:   res.CreatedAt,
		CompletedAt: res.CompletedAt,
	}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RunRecord
		err := tx.Where("run_id = ?", run.RunID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&run).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&existing).Updates(map[string]any{
				"status":       run.Status,
				"failed_steps": run.FailedSteps,
				"completed_at": run.CompletedAt,
			}).Error; err != nil {
				return err
			}
		}
		return writeRecords(tx, res.ResultRows())
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}
	h.logger.Info("Run recorded in history", zap.String("runId", res.RunID))
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (h *HistoryStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := h.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// RunResults returns the stored rows of runID.
func (h *HistoryStore) RunResults(ctx context.Context, runID string) ([]ResultRecord, error) {
	var rows []ResultRecord
	err := h.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&rows).Error
	return rows, err
}

var _ ResultSink = (*HistoryStore)(nil)
