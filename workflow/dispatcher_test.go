package workflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/cargo_backend/internal/testdb"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func fixtureRequest() *models.Request {
	length := decimal.RequireFromString("120.5")
	width := decimal.NewFromInt(80)
	shipDate := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	return &models.Request{
		RequestId:           "OMG-7-REQ-01",
		SubmitterScope:      "OMG-7",
		SubmitterEmail:      "ops@omg7.example",
		ContactName:         "Aye Aye",
		ContactPhone:        "+6565550100",
		Origin:              "Yangon",
		OriginType:          "PORT",
		Destination:         "Singapore",
		DestinationType:     "PORT",
		CargoType:           "GENERAL",
		Commodity:           "Garments",
		Packing:             "Cartons",
		Quantity:            40,
		WeightKg:            decimal.RequireFromString("907.185"),
		WeightRawValue:      decimal.NewFromInt(2000),
		WeightRawUnit:       "lbs",
		LengthCm:            &length,
		WidthCm:             &width,
		Dimensions:          "120x80",
		IsInsured:           true,
		IsStackable:         true,
		ShipDate:            &shipDate,
		SpecialRequirements: "Keep dry",
		Incoterms:           "FOB",
		Currency:            "USD",
		Status:              models.RequestStatusOpen,
		SubmittedAt:         time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRequestCreatedPayload(t *testing.T) {
	dispatchedAt := time.Date(2024, 5, 1, 8, 0, 5, 0, time.UTC)
	body, err := BuildRequestCreatedEvent(fixtureRequest(), "corr-123", dispatchedAt).Marshal()
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "request_created", body)
}

type captured struct {
	auth          string
	secret        string
	correlationId string
	body          []byte
}

func newDispatcher(t *testing.T, notifier Notifier) *Dispatcher {
	db := testdb.Open(t)
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(db, logger, notifier)
	d.Workers = 1
	d.MaxAttempts = 1
	d.Timeout = 2 * time.Second
	d.InitialBackoff = time.Millisecond
	return d
}

func stop(t *testing.T, d *Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func onlyRecord(t *testing.T, requestId string) models.DispatchRecord {
	records, err := models.ListDispatchRecords(context.Background(), requestId)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func TestDispatcherDeliversWebhook(t *testing.T) {
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			auth:          r.Header.Get("Authorization"),
			secret:        r.Header.Get(HeaderWebhookSecret),
			correlationId: r.Header.Get(HeaderCorrelationId),
			body:          body,
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := newDispatcher(t, NewWebhookNotifier(srv.URL, "s3cret"))
	d.Start(context.Background())

	ctx := utils.SetCorrelationIdInContext(context.Background(), "corr-abc")
	require.True(t, d.Enqueue(ctx, fixtureRequest()))
	stop(t, d)

	c := <-got
	require.Equal(t, "Bearer s3cret", c.auth)
	require.Equal(t, "s3cret", c.secret)
	require.Equal(t, "corr-abc", c.correlationId)
	require.Contains(t, string(c.body), `"request_id": "OMG-7-REQ-01"`)

	record := onlyRecord(t, "OMG-7-REQ-01")
	require.Equal(t, models.DispatchStatusSent, record.Status)
	require.Equal(t, 1, record.Attempts)
	require.Equal(t, "corr-abc", record.CorrelationId)
	require.Equal(t, TransportWebhook, record.Transport)
	require.NotNil(t, record.SentAt)
	require.Nil(t, record.LastError)
}

func TestDispatcherRecordsFailureAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "broadcaster down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newDispatcher(t, NewWebhookNotifier(srv.URL, ""))
	d.MaxAttempts = 3
	d.Start(context.Background())

	require.True(t, d.Enqueue(context.Background(), fixtureRequest()))
	stop(t, d)

	require.EqualValues(t, 3, hits.Load())
	record := onlyRecord(t, "OMG-7-REQ-01")
	require.Equal(t, models.DispatchStatusFailed, record.Status)
	require.Equal(t, 3, record.Attempts)
	require.NotNil(t, record.LastError)
	require.Contains(t, *record.LastError, "500")
	require.NotEmpty(t, record.CorrelationId)
}

type funcNotifier func(ctx context.Context, requestId string, correlationId string, body []byte) error

func (f funcNotifier) Name() string { return "func" }

func (f funcNotifier) Notify(ctx context.Context, requestId string, correlationId string, body []byte) error {
	return f(ctx, requestId, correlationId, body)
}

func TestDispatcherHonorsAttemptTimeout(t *testing.T) {
	d := newDispatcher(t, funcNotifier(func(ctx context.Context, _ string, _ string, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	d.Timeout = 20 * time.Millisecond
	d.Start(context.Background())

	require.True(t, d.Enqueue(context.Background(), fixtureRequest()))
	stop(t, d)

	record := onlyRecord(t, "OMG-7-REQ-01")
	require.Equal(t, models.DispatchStatusFailed, record.Status)
	require.NotNil(t, record.LastError)
	require.Contains(t, *record.LastError, context.DeadlineExceeded.Error())
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	d := newDispatcher(t, funcNotifier(func(context.Context, string, string, []byte) error { return nil }))
	d.WithQueueSize(1)

	first := fixtureRequest()
	second := fixtureRequest()
	second.RequestId = "OMG-7-REQ-02"

	require.True(t, d.Enqueue(context.Background(), first))
	require.False(t, d.Enqueue(context.Background(), second))

	dropped := onlyRecord(t, "OMG-7-REQ-02")
	require.Equal(t, models.DispatchStatusDropped, dropped.Status)
	require.Equal(t, 0, dropped.Attempts)
	require.Contains(t, *dropped.LastError, "queue full")

	d.Start(context.Background())
	stop(t, d)
	require.Equal(t, models.DispatchStatusSent, onlyRecord(t, "OMG-7-REQ-01").Status)
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := newDispatcher(t, funcNotifier(func(context.Context, string, string, []byte) error { return nil }))
	d.Start(context.Background())
	stop(t, d)

	require.False(t, d.Enqueue(context.Background(), fixtureRequest()))
	require.Equal(t, models.DispatchStatusDropped, onlyRecord(t, "OMG-7-REQ-01").Status)
}

func TestDispatcherWithoutNotifier(t *testing.T) {
	testdb.Open(t)
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(nil, logger, nil)

	require.False(t, d.Enqueue(context.Background(), fixtureRequest()))
	require.NotNil(t, hook.LastEntry())
	require.Contains(t, hook.LastEntry().Message, "dispatch disabled")

	records, err := models.ListDispatchRecords(context.Background(), "OMG-7-REQ-01")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNotifierFromEnvWithoutURL(t *testing.T) {
	t.Setenv("DISPATCH_TRANSPORT", "webhook")
	t.Setenv("BROADCASTER_WEBHOOK_URL", "")
	_, err := NotifierFromEnv(context.Background())
	require.True(t, errors.Is(err, ErrDispatchDisabled))
}
