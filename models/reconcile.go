package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ReconcileSummary struct {
	Checked     int      `json:"checked"`
	Adjusted    int      `json:"adjusted"`
	AdjustedIds []string `json:"adjusted_request_ids,omitempty"`
}

// ReconcileQuotationCount sets quotation_count to the number of quotation rows.
// This is the only path allowed to lower the count.
func ReconcileQuotationCount(ctx context.Context, requestId string) (int64, bool, error) {
	db := config.GetDB()
	if db == nil {
		return 0, false, fmt.Errorf("db is nil")
	}
	ctx = utils.WithoutScopeGuard(ctx)

	exists, err := RequestExists(ctx, db, requestId)
	if err != nil {
		return 0, false, err
	}
	if !exists {
		return 0, false, ErrRequestNotFound
	}

	var count int64
	var changed bool
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = CountQuotations(ctx, tx, requestId)
		if err != nil {
			return err
		}
		changed, err = SetQuotationCount(ctx, tx, requestId, count)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return count, changed, nil
}

// ReconcileAll sweeps every request and corrects drifted quotation counts.
func ReconcileAll(ctx context.Context, batchSize int) (*ReconcileSummary, error) {
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	ctx = utils.WithoutScopeGuard(ctx)
	logger := config.GetLogger()

	summary := &ReconcileSummary{}
	var batch []Request
	result := db.WithContext(ctx).
		Select("id", "request_id", "quotation_count").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			// counts are read per batch inside the write transaction so quotations
			// synced earlier in the sweep are not overwritten with a stale total
			return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return reconcileBatch(ctx, tx, batch, summary, logger)
			})
		})
	if result.Error != nil {
		return summary, result.Error
	}
	return summary, nil
}

func reconcileBatch(ctx context.Context, tx *gorm.DB, batch []Request, summary *ReconcileSummary, logger *logrus.Logger) error {
	ids := make([]string, 0, len(batch))
	for _, r := range batch {
		ids = append(ids, r.RequestId)
	}
	type countRow struct {
		RequestId string
		Total     int64
	}
	var rows []countRow
	if err := tx.WithContext(ctx).Model(&Quotation{}).
		Select("request_id, COUNT(*) AS total").
		Where("request_id IN ?", ids).
		Group("request_id").
		Scan(&rows).Error; err != nil {
		return err
	}
	actual := make(map[string]int64, len(rows))
	for _, r := range rows {
		actual[r.RequestId] = r.Total
	}

	for _, r := range batch {
		summary.Checked++
		want := actual[r.RequestId]
		changed, err := SetQuotationCount(ctx, tx, r.RequestId, want)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		summary.Adjusted++
		summary.AdjustedIds = append(summary.AdjustedIds, r.RequestId)
		config.LogEntry(ctx, logger).WithFields(logrus.Fields{
			"field":      "ReconcileAll",
			"request_id": r.RequestId,
			"stored":     r.QuotationCount,
			"actual":     want,
		}).Info("quotation count reconciled")
	}
	return nil
}
