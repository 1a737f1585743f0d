package models_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/cargo_backend/internal/testdb"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedRequest(t *testing.T, db *gorm.DB, requestId string, count int) {
	t.Helper()
	require.NoError(t, db.Create(&models.Request{
		RequestId:      requestId,
		SubmitterScope: "SEED",
		Origin:         "Yangon",
		Destination:    "Singapore",
		Status:         models.RequestStatusOpen,
		QuotationCount: count,
		SubmittedAt:    time.Now().UTC(),
	}).Error)
}

func seedQuotation(t *testing.T, db *gorm.DB, requestId string, quotationId string, price string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Quotation{
		QuotationId: quotationId,
		RequestId:   requestId,
		ForwarderId: "fw-" + quotationId,
		Price:       decimal.RequireFromString(price),
		Currency:    "USD",
		Status:      models.QuotationStatusActive,
		ReceivedAt:  time.Now().UTC(),
	}).Error)
}

func TestReconcileQuotationCountMayLower(t *testing.T) {
	db := testdb.Open(t)
	seedRequest(t, db, "SEED-REQ-01", 5)
	seedQuotation(t, db, "SEED-REQ-01", "q-1", "100.00")
	seedQuotation(t, db, "SEED-REQ-01", "q-2", "90.00")

	count, changed, err := models.ReconcileQuotationCount(context.Background(), "SEED-REQ-01")
	require.NoError(t, err)
	require.True(t, changed)
	require.EqualValues(t, 2, count)

	var r models.Request
	require.NoError(t, db.Where("request_id = ?", "SEED-REQ-01").First(&r).Error)
	require.Equal(t, 2, r.QuotationCount)

	_, changed, err = models.ReconcileQuotationCount(context.Background(), "SEED-REQ-01")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestReconcileQuotationCountUnknownRequest(t *testing.T) {
	testdb.Open(t)
	_, _, err := models.ReconcileQuotationCount(context.Background(), "NOPE-REQ-01")
	require.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestReconcileAllSweepsDrift(t *testing.T) {
	db := testdb.Open(t)
	for i := 1; i <= 4; i++ {
		seedRequest(t, db, fmt.Sprintf("SEED-REQ-%02d", i), 0)
	}
	seedQuotation(t, db, "SEED-REQ-01", "q-1", "10.00")
	seedQuotation(t, db, "SEED-REQ-03", "q-2", "20.00")
	seedQuotation(t, db, "SEED-REQ-03", "q-3", "30.00")
	require.NoError(t, db.Model(&models.Request{}).Where("request_id = ?", "SEED-REQ-04").Update("quotation_count", 7).Error)

	summary, err := models.ReconcileAll(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Checked)
	require.Equal(t, 3, summary.Adjusted)
	require.ElementsMatch(t, []string{"SEED-REQ-01", "SEED-REQ-03", "SEED-REQ-04"}, summary.AdjustedIds)

	var counts []int
	require.NoError(t, db.Model(&models.Request{}).Order("request_id").Pluck("quotation_count", &counts).Error)
	require.Equal(t, []int{1, 0, 2, 0}, counts)
}

func TestReconcileAllCountsQuotationsSyncedDuringSweep(t *testing.T) {
	db := testdb.Open(t)
	for i := 1; i <= 3; i++ {
		seedRequest(t, db, fmt.Sprintf("SEED-REQ-%02d", i), 0)
	}
	seedQuotation(t, db, "SEED-REQ-01", "q-1", "10.00")

	// a quotation lands for SEED-REQ-02 right after the first batch of requests is read
	inserted := false
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:sync_during_sweep", func(tx *gorm.DB) {
		if inserted || tx.Error != nil || tx.Statement.Table != "requests" {
			return
		}
		inserted = true
		seedQuotation(t, db, "SEED-REQ-02", "q-late", "15.00")
	}))

	summary, err := models.ReconcileAll(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, 3, summary.Checked)

	var counts []int
	require.NoError(t, db.Model(&models.Request{}).Order("request_id").Pluck("quotation_count", &counts).Error)
	require.Equal(t, []int{1, 1, 0}, counts)
}

func TestDeletingRequestCascadesToQuotations(t *testing.T) {
	db := testdb.Open(t)
	seedRequest(t, db, "SEED-REQ-01", 0)
	seedQuotation(t, db, "SEED-REQ-01", "q-1", "10.00")

	require.NoError(t, db.Where("request_id = ?", "SEED-REQ-01").Delete(&models.Request{}).Error)

	var n int64
	require.NoError(t, db.Model(&models.Quotation{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestQuotationRequiresExistingRequest(t *testing.T) {
	db := testdb.Open(t)
	err := db.Create(&models.Quotation{
		QuotationId: "q-orphan",
		RequestId:   "MISSING-REQ-01",
		ForwarderId: "fw-1",
		Price:       decimal.NewFromInt(1),
		Status:      models.QuotationStatusActive,
		ReceivedAt:  time.Now().UTC(),
	}).Error
	require.Error(t, err)
}
