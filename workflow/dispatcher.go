package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type dispatchJob struct {
	request       models.Request
	correlationId string
	recordId      int
}

// Dispatcher notifies the Broadcaster about new requests off the request path.
// Delivery is best effort: MaxAttempts defaults to 1 and nothing is persisted for
// automatic retry. Outcomes land in dispatch_records.
type Dispatcher struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Notifier Notifier

	Workers        int
	MaxAttempts    int
	Timeout        time.Duration
	InitialBackoff time.Duration
	Now            func() time.Time

	queue  chan dispatchJob
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, logger *logrus.Logger, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		DB:             db,
		Logger:         logger,
		Notifier:       notifier,
		Workers:        config.DispatchWorkers(),
		MaxAttempts:    config.DispatchMaxAttempts(),
		Timeout:        config.DispatchTimeout(),
		InitialBackoff: 2 * time.Second,
		Now:            func() time.Time { return time.Now().UTC() },
		queue:          make(chan dispatchJob, max(config.DispatchQueueSize(), 1)),
	}
}

func (d *Dispatcher) store() *gorm.DB {
	if d.DB != nil {
		return d.DB
	}
	return config.GetDB()
}

// WithQueueSize replaces the queue; call before Start.
func (d *Dispatcher) WithQueueSize(n int) *Dispatcher {
	d.queue = make(chan dispatchJob, max(n, 1))
	return d
}

// Start launches the workers. They stop when ctx is done or after Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.work(ctx)
		}()
	}
}

// Stop refuses new jobs and waits for queued ones until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue never blocks. It returns false when the job was not queued.
func (d *Dispatcher) Enqueue(ctx context.Context, request *models.Request) bool {
	if request == nil {
		return false
	}
	logger := config.LogEntry(ctx, d.Logger).WithFields(logrus.Fields{
		"field":      "Dispatcher",
		"request_id": request.RequestId,
	})
	if d.Notifier == nil {
		logger.Warn("outbound dispatch disabled; request not sent to broadcaster")
		return false
	}

	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}
	job := dispatchJob{request: *request, correlationId: cid}

	record := &models.DispatchRecord{
		RequestId:     request.RequestId,
		Transport:     d.Notifier.Name(),
		Status:        models.DispatchStatusPending,
		CorrelationId: cid,
	}
	if db := d.store(); db != nil {
		// the detached context keeps the record write alive after the client request ends
		if err := models.CreateDispatchRecord(context.WithoutCancel(ctx), db, record); err != nil {
			logger.Warn("could not create dispatch record: " + err.Error())
		} else {
			job.recordId = record.ID
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.finish(ctx, job, models.DispatchStatusDropped, 0, fmt.Errorf("dispatcher stopped"))
		return false
	}
	select {
	case d.queue <- job:
		return true
	default:
		d.finish(ctx, job, models.DispatchStatusDropped, 0, fmt.Errorf("dispatch queue full"))
		logger.Error("dispatch queue full; notification dropped")
		return false
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, job)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job dispatchJob) {
	logger := d.Logger.WithFields(logrus.Fields{
		"field":          "Dispatcher",
		"request_id":     job.request.RequestId,
		"correlation_id": job.correlationId,
		"transport":      d.Notifier.Name(),
	})

	body, err := BuildRequestCreatedEvent(&job.request, job.correlationId, d.Now()).Marshal()
	if err != nil {
		d.finish(ctx, job, models.DispatchStatusFailed, 0, err)
		logger.Error("could not encode request payload: " + err.Error())
		return
	}

	maxAttempts := max(d.MaxAttempts, 1)
	backoff := d.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		lastErr = d.Notifier.Notify(attemptCtx, job.request.RequestId, job.correlationId, body)
		cancel()
		if lastErr == nil {
			d.finish(ctx, job, models.DispatchStatusSent, attempt, nil)
			logger.WithField("attempt", attempt).Info("broadcaster notified")
			return
		}
		logger.WithField("attempt", attempt).Warn("broadcaster notification failed: " + lastErr.Error())

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			d.finish(context.Background(), job, models.DispatchStatusFailed, attempt, ctx.Err())
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}

	d.finish(ctx, job, models.DispatchStatusFailed, maxAttempts, lastErr)
	logger.Error("broadcaster notification failed; not retried: " + lastErr.Error())
}

func (d *Dispatcher) finish(ctx context.Context, job dispatchJob, status models.DispatchStatus, attempts int, err error) {
	db := d.store()
	if job.recordId == 0 || db == nil {
		return
	}
	if ferr := models.FinishDispatchRecord(context.WithoutCancel(ctx), db, job.recordId, status, attempts, err); ferr != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":     "Dispatcher",
			"record_id": job.recordId,
		}).Warn("could not update dispatch record: " + ferr.Error())
	}
}
