package models_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/cargo_backend/internal/testdb"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func scopedContext(scope string) context.Context {
	ctx := utils.SetSubmitterScopeInContext(context.Background(), scope)
	return utils.SetSubmitterEmailInContext(ctx, "ops@"+scope+".test")
}

func sampleInput() *models.NewRequest {
	return &models.NewRequest{
		Origin:      "Yangon",
		Destination: "Rotterdam",
		CargoType:   "FCL",
		Quantity:    2,
		Weight:      decimal.NewFromInt(1200),
		WeightUnit:  "kg",
	}
}

func TestSubmitRequestAllocatesSequentialIds(t *testing.T) {
	testdb.Open(t)
	ctx := scopedContext("OMG-7")

	first, err := models.SubmitRequest(ctx, sampleInput())
	require.NoError(t, err)
	require.Equal(t, "OMG-7-REQ-01", first.RequestId)

	second, err := models.SubmitRequest(ctx, sampleInput())
	require.NoError(t, err)
	require.Equal(t, "OMG-7-REQ-02", second.RequestId)
}

func TestSubmitRequestSkipsPreInsertedId(t *testing.T) {
	db := testdb.Open(t)
	ctx := scopedContext("OMG-7")

	first, err := models.SubmitRequest(ctx, sampleInput())
	require.NoError(t, err)
	require.Equal(t, "OMG-7-REQ-01", first.RequestId)

	// historical reuse: the id exists but is not counted under this scope
	require.NoError(t, db.Create(&models.Request{
		RequestId:      "OMG-7-REQ-02",
		SubmitterScope: "LEGACY",
		Origin:         "Bangkok",
		Destination:    "Hamburg",
		Status:         models.RequestStatusOpen,
		SubmittedAt:    time.Now().UTC(),
	}).Error)

	third, err := models.SubmitRequest(ctx, sampleInput())
	require.NoError(t, err)
	require.Equal(t, "OMG-7-REQ-03", third.RequestId)
}

func TestSubmitRequestScopesAreIndependent(t *testing.T) {
	testdb.Open(t)

	a, err := models.SubmitRequest(scopedContext("ACME"), sampleInput())
	require.NoError(t, err)
	b, err := models.SubmitRequest(scopedContext("GLOBEX"), sampleInput())
	require.NoError(t, err)

	require.Equal(t, "ACME-REQ-01", a.RequestId)
	require.Equal(t, "GLOBEX-REQ-01", b.RequestId)
}

func TestSubmitRequestRequiresScope(t *testing.T) {
	testdb.Open(t)

	_, err := models.SubmitRequest(context.Background(), sampleInput())
	require.ErrorIs(t, err, models.ErrMissingScope)
}

func TestConcurrentSubmissionsNeverShareAnId(t *testing.T) {
	db := testdb.Open(t)
	ctx := scopedContext("RACE")

	const n = 12
	var wg sync.WaitGroup
	ids := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := models.SubmitRequest(ctx, sampleInput())
			if err != nil {
				errs <- err
				return
			}
			ids <- r.RequestId
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	require.Len(t, seen, n)

	var count int64
	require.NoError(t, db.Model(&models.Request{}).Where("submitter_scope = ?", "RACE").Count(&count).Error)
	require.EqualValues(t, n, count)
}

func TestAllocateExhaustsWithinBound(t *testing.T) {
	db := testdb.Open(t)

	// every candidate the allocator may propose is already taken by another scope
	for i := 1; i <= 3; i++ {
		require.NoError(t, db.Create(&models.Request{
			RequestId:      fmt.Sprintf("TIGHT-REQ-%02d", i),
			SubmitterScope: "OTHER",
			Origin:         "A",
			Destination:    "B",
			Status:         models.RequestStatusOpen,
			SubmittedAt:    time.Now().UTC(),
		}).Error)
	}

	allocator := models.NewRequestIdAllocator(db, 3)
	_, err := allocator.Allocate(context.Background(), "TIGHT")
	require.ErrorIs(t, err, models.ErrAllocationExhausted)

	allocator = models.NewRequestIdAllocator(db, 4)
	id, err := allocator.Allocate(context.Background(), "TIGHT")
	require.NoError(t, err)
	require.Equal(t, "TIGHT-REQ-04", id)
}

func TestSubmitRequestNormalizesWeightAndPhone(t *testing.T) {
	testdb.Open(t)
	t.Setenv("DEFAULT_PHONE_REGION", "US")

	input := sampleInput()
	input.Weight = decimal.NewFromInt(2000)
	input.WeightUnit = "LBS"
	input.ContactPhone = "(650) 253-0000"

	r, err := models.SubmitRequest(scopedContext("UNITS"), input)
	require.NoError(t, err)
	require.True(t, r.WeightKg.Equal(decimal.RequireFromString("907.185")), r.WeightKg.String())
	require.True(t, r.WeightRawValue.Equal(decimal.NewFromInt(2000)))
	require.Equal(t, "lbs", r.WeightRawUnit)
	require.Equal(t, "+16502530000", r.ContactPhone)
	require.Equal(t, models.RequestStatusOpen, r.Status)
	require.Equal(t, 0, r.QuotationCount)
}
