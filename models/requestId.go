package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrAllocationExhausted = errors.New("request id allocation exhausted")

const allocatorLockTTL = 10 * time.Second

// FormatRequestId renders "{scope}-REQ-{seq:02d}".
func FormatRequestId(scope string, seq int64) string {
	return fmt.Sprintf("%s-REQ-%02d", scope, seq)
}

// RequestIdAllocator proposes count+1+offset for a scope and walks forward past ids that
// already exist. The unique index on request_id is what actually guarantees uniqueness;
// Insert retries when it loses a race.
type RequestIdAllocator struct {
	db          *gorm.DB
	maxAttempts int
	locker      *redislock.Client
	logger      *logrus.Logger
}

func NewRequestIdAllocator(db *gorm.DB, maxAttempts int) *RequestIdAllocator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RequestIdAllocator{
		db:          db,
		maxAttempts: maxAttempts,
		locker:      config.GetRedisLock(),
		logger:      config.GetLogger(),
	}
}

// Allocate returns an id for scope that was unused when checked.
func (a *RequestIdAllocator) Allocate(ctx context.Context, scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", ErrMissingScope
	}
	// ids are globally unique, so the existence check must see every scope
	ctx = utils.WithoutScopeGuard(ctx)

	var count int64
	if err := a.db.WithContext(ctx).Model(&Request{}).Where("submitter_scope = ?", scope).Count(&count).Error; err != nil {
		return "", err
	}

	for offset := 0; offset < a.maxAttempts; offset++ {
		candidate := FormatRequestId(scope, count+1+int64(offset))
		exists, err := RequestExists(ctx, a.db, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrAllocationExhausted
}

// Insert allocates an id into request.RequestId and creates the row, reallocating when
// a concurrent submission took the id first.
func (a *RequestIdAllocator) Insert(ctx context.Context, request *Request) error {
	release := a.obtainLock(ctx, request.SubmitterScope)
	defer release()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		id, err := a.Allocate(ctx, request.SubmitterScope)
		if err != nil {
			return err
		}
		request.ID = 0
		request.RequestId = id

		err = a.db.WithContext(ctx).Omit("Quotations", "BidStatuses").Create(request).Error
		if err == nil {
			return nil
		}
		if !utils.IsDuplicateKeyErr(err) {
			return err
		}
		config.LogEntry(ctx, a.logger).WithFields(logrus.Fields{
			"field":      "RequestIdAllocator",
			"scope":      request.SubmitterScope,
			"request_id": id,
			"attempt":    attempt,
		}).Warn("request id taken concurrently; reallocating")
	}
	return ErrAllocationExhausted
}

// obtainLock serializes allocation per scope when redis is available. Failing to lock is
// not an error; the unique index still holds.
func (a *RequestIdAllocator) obtainLock(ctx context.Context, scope string) func() {
	noop := func() {}
	if a.locker == nil {
		return noop
	}
	lock, err := a.locker.Obtain(ctx, "lock:request_id:"+scope, allocatorLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 40),
	})
	if err != nil {
		config.LogEntry(ctx, a.logger).WithFields(logrus.Fields{
			"field": "RequestIdAllocator",
			"scope": scope,
		}).Warn("could not obtain redis lock; proceeding without redis lock: " + err.Error())
		return noop
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			config.LogEntry(ctx, a.logger).WithFields(logrus.Fields{
				"field": "RequestIdAllocator",
				"scope": scope,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
