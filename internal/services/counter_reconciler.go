package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/metrics"
)

// ReconcileReport counts the rows whose counters were rewritten.
type ReconcileReport struct {
	Posts    int64
	Comments int64
}

// CounterReconciler recomputes denormalised counters from the reaction ledger and the
// comments table. Rows already in agreement are not touched.
type CounterReconciler struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewCounterReconciler constructs a CounterReconciler.
func NewCounterReconciler(db *gorm.DB) (*CounterReconciler, error) {
	if db == nil {
		return nil, errors.New("counter reconciler: db is required")
	}
	return &CounterReconciler{db: db, log: logger.WithModule("reconciler")}, nil
}

// Reconcile rewrites every drifted counter and reports how many rows changed.
func (r *CounterReconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	ctx = ensureContext(ctx)
	var report ReconcileReport

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, targetType := range []models.TargetType{models.TargetPost, models.TargetComment} {
			schema := counterSchemas[targetType]
			for kind, column := range schema.columns {
				expr := fmt.Sprintf(
					"(SELECT COUNT(*) FROM reactions WHERE reactions.target_type = ? AND reactions.reaction_type = ? AND reactions.target_id = %s.id)",
					schema.table)
				repaired, err := repairColumn(tx, schema.table, column, expr, targetType, kind)
				if err != nil {
					return err
				}
				if targetType == models.TargetPost {
					report.Posts += repaired
				} else {
					report.Comments += repaired
				}
			}
		}

		repaired, err := repairColumn(tx, "posts", "comment_count",
			"(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id)")
		if err != nil {
			return err
		}
		report.Posts += repaired
		return nil
	})
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("counter reconciler: %w", err)
	}

	if report.Posts > 0 || report.Comments > 0 {
		metrics.CounterRepairs.WithLabelValues("posts").Add(float64(report.Posts))
		metrics.CounterRepairs.WithLabelValues("comments").Add(float64(report.Comments))
		r.log.Warn("repaired drifted counters",
			zap.Int64("posts", report.Posts),
			zap.Int64("comments", report.Comments))
	}
	return report, nil
}

func repairColumn(tx *gorm.DB, table, column, expr string, args ...any) (int64, error) {
	whereArgs := append([]any{}, args...)
	res := tx.Table(table).
		Where(column+" <> "+expr, whereArgs...).
		UpdateColumn(column, gorm.Expr(expr, args...))
	if res.Error != nil {
		return 0, fmt.Errorf("repair %s.%s: %w", table, column, res.Error)
	}
	return res.RowsAffected, nil
}
