package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Synchronizer applies Broadcaster updates to the mirror. Every operation may be
// replayed with the same payload and arrive in any order.
type Synchronizer struct {
	db          *gorm.DB
	logger      *logrus.Logger
	tracer      trace.Tracer
	strictClose bool
	now         func() time.Time
}

func NewSynchronizer(db *gorm.DB, logger *logrus.Logger) *Synchronizer {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Synchronizer{
		db:          db,
		logger:      logger,
		tracer:      otel.Tracer("cargo-mirror/marketplace"),
		strictClose: config.StrictCloseTimestamp(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// handle falls back to the global connection when the synchronizer was built before
// the database was reachable.
func (s *Synchronizer) handle() *gorm.DB {
	if s.db != nil {
		return s.db
	}
	return config.GetDB()
}

// WithStrictClose makes SyncClose reject calls without closed_at.
func (s *Synchronizer) WithStrictClose(strict bool) *Synchronizer {
	s.strictClose = strict
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func (s *Synchronizer) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	// sync calls carry no submitter scope; make that explicit for the scope guard
	ctx = utils.WithoutScopeGuard(ctx)
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SyncRequest inserts the request when absent; otherwise only status is applied.
// Quotations parked for this request are applied afterwards.
func (s *Synchronizer) SyncRequest(ctx context.Context, p *SyncRequestPayload) (result *SyncResult, err error) {
	ctx, span := s.startSpan(ctx, "SyncRequest", attribute.String("request_id", p.RequestId))
	defer func() { endSpan(span, err) }()

	request, status, err := s.requestFromPayload(p)
	if err != nil {
		return nil, err
	}

	result = &SyncResult{RequestId: request.RequestId}
	err = s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).Omit("Quotations", "BidStatuses").Create(request)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			result.Inserted = true
			return nil
		}
		if status == "" {
			return nil
		}
		updates := map[string]interface{}{"status": status}
		if status == models.RequestStatusClosed {
			updates["closed_at"] = gorm.Expr("COALESCE(closed_at, ?)", s.now())
		}
		return tx.Model(&models.Request{}).
			Where("request_id = ? AND status <> ?", request.RequestId, status).
			Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	config.LogEntry(ctx, s.logger).WithFields(logrus.Fields{
		"field":      "SyncRequest",
		"request_id": request.RequestId,
		"inserted":   result.Inserted,
	}).Info("request synced")

	if _, err := s.ApplyParked(ctx, request.RequestId); err != nil {
		// the request itself is mirrored; parked quotations stay parked for the next pass
		config.LogError(s.logger, "synchronizer.go", "SyncRequest", "apply parked quotations", request.RequestId, err)
	}
	return result, nil
}

func (s *Synchronizer) requestFromPayload(p *SyncRequestPayload) (*models.Request, models.RequestStatus, error) {
	requestId := strings.TrimSpace(p.RequestId)
	scope := strings.TrimSpace(p.SubmitterScope)
	if requestId == "" || scope == "" {
		return nil, "", invalid("request_id and submitter_scope are required")
	}
	status, err := models.ParseRequestStatus(p.Status)
	if err != nil {
		return nil, "", invalid("%v", err)
	}
	submittedAt := s.now()
	if p.SubmittedAt != nil && strings.TrimSpace(*p.SubmittedAt) != "" {
		if submittedAt, err = utils.ParseTimestamp(*p.SubmittedAt); err != nil {
			return nil, "", invalid("submitted_at: %v", err)
		}
	}
	shipDate, err := utils.ParseOptionalTimestamp(p.ShipDate)
	if err != nil {
		return nil, "", invalid("ship_date: %v", err)
	}

	var weightKg, rawValue decimal.Decimal
	rawUnit := "kg"
	switch {
	case p.Weight != nil:
		weightKg, rawUnit, err = models.NormalizeWeightKg(*p.Weight, p.WeightUnit)
		if err != nil {
			return nil, "", invalid("%v", err)
		}
		rawValue = *p.Weight
	case p.WeightKg != nil:
		weightKg = p.WeightKg.Round(3)
		rawValue = *p.WeightKg
	}

	insertStatus := status
	if insertStatus == "" {
		insertStatus = models.RequestStatusOpen
	}
	var closedAt *time.Time
	if insertStatus == models.RequestStatusClosed {
		t := s.now()
		closedAt = &t
	}

	return &models.Request{
		RequestId:           requestId,
		SubmitterScope:      scope,
		SubmitterEmail:      strings.TrimSpace(p.SubmitterEmail),
		ContactName:         p.ContactName,
		ContactPhone:        p.ContactPhone,
		Origin:              p.Origin,
		OriginType:          p.OriginType,
		Destination:         p.Destination,
		DestinationType:     p.DestinationType,
		CargoType:           p.CargoType,
		Commodity:           p.Commodity,
		Packing:             p.Packing,
		Quantity:            p.Quantity,
		WeightKg:            weightKg,
		WeightRawValue:      rawValue,
		WeightRawUnit:       rawUnit,
		LengthCm:            p.LengthCm,
		WidthCm:             p.WidthCm,
		HeightCm:            p.HeightCm,
		Dimensions:          p.Dimensions,
		IsHazardous:         p.IsHazardous,
		IsInsured:           p.IsInsured,
		IsStackable:         utils.DereferencePtr(p.IsStackable, true),
		ShipDate:            shipDate,
		SpecialRequirements: p.SpecialRequirements,
		Incoterms:           strings.ToUpper(p.Incoterms),
		Currency:            strings.ToUpper(p.Currency),
		Status:              insertStatus,
		SubmittedAt:         submittedAt,
		ClosedAt:            closedAt,
	}, status, nil
}

var errParentMissing = errors.New("parent request missing")

// SyncQuotation upserts a quotation and raises the owning request's count. A quotation
// for a request the mirror does not hold yet is parked and acknowledged.
func (s *Synchronizer) SyncQuotation(ctx context.Context, p *SyncQuotationPayload) (result *SyncResult, err error) {
	ctx, span := s.startSpan(ctx, "SyncQuotation",
		attribute.String("request_id", p.RequestId),
		attribute.String("quotation_id", p.QuotationId),
	)
	defer func() { endSpan(span, err) }()

	quotation, err := s.quotationFromPayload(p)
	if err != nil {
		return nil, err
	}
	result = &SyncResult{RequestId: quotation.RequestId}

	owner, err := models.QuotationOwner(ctx, s.handle(), quotation.QuotationId)
	if err != nil {
		return nil, err
	}
	if owner != "" && owner != quotation.RequestId {
		return s.rejectMovedQuotation(ctx, result, quotation, p, owner)
	}

	exists, err := models.RequestExists(ctx, s.handle(), quotation.RequestId)
	if err != nil {
		return nil, err
	}
	if exists {
		err = s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.applyQuotation(ctx, tx, quotation, p.QuotationCount)
		})
		if errors.Is(err, models.ErrQuotationMoved) {
			if owner, err = models.QuotationOwner(ctx, s.handle(), quotation.QuotationId); err != nil {
				return nil, err
			}
			return s.rejectMovedQuotation(ctx, result, quotation, p, owner)
		}
		if err == nil {
			config.LogEntry(ctx, s.logger).WithFields(logrus.Fields{
				"field":        "SyncQuotation",
				"request_id":   quotation.RequestId,
				"quotation_id": quotation.QuotationId,
			}).Info("quotation synced")
			return result, nil
		}
		if !errors.Is(err, errParentMissing) {
			return nil, err
		}
		// the request vanished between the check and the insert
	}

	if err := s.park(ctx, p); err != nil {
		return nil, err
	}
	result.Parked = true
	result.Anomaly = true
	result.Message = "request not mirrored yet; quotation parked"
	return result, nil
}

// rejectMovedQuotation acknowledges a quotation that names a different request than the
// mirrored row. The row is left as is and the payload kept on the anomaly.
func (s *Synchronizer) rejectMovedQuotation(ctx context.Context, result *SyncResult, q *models.Quotation, p *SyncQuotationPayload, owner string) (*SyncResult, error) {
	err := s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.recordMovedQuotation(ctx, tx, q, p, owner)
	})
	if err != nil {
		return nil, err
	}
	result.Anomaly = true
	result.Message = "quotation is mirrored under another request; payload ignored"
	return result, nil
}

func (s *Synchronizer) recordMovedQuotation(ctx context.Context, tx *gorm.DB, q *models.Quotation, p *SyncQuotationPayload, owner string) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	quotationId := q.QuotationId
	return s.recordAnomaly(ctx, tx, &models.SyncAnomaly{
		Kind:        models.AnomalyKindQuotationMoved,
		RequestId:   q.RequestId,
		QuotationId: &quotationId,
		ForwarderId: utils.NilIfEmpty(q.ForwarderId),
		Message:     fmt.Sprintf("quotation is mirrored under %s; payload ignored", owner),
		Payload:     datatypes.JSON(raw),
	})
}

func (s *Synchronizer) quotationFromPayload(p *SyncQuotationPayload) (*models.Quotation, error) {
	quotationId := strings.TrimSpace(p.QuotationId)
	requestId := strings.TrimSpace(p.RequestId)
	forwarderId := strings.TrimSpace(p.ForwarderId)
	if quotationId == "" || requestId == "" || forwarderId == "" {
		return nil, invalid("quotation_id, request_id and forwarder_id are required")
	}
	if p.Price == nil {
		return nil, invalid("price is required")
	}
	if p.Price.IsNegative() {
		return nil, invalid("price must not be negative")
	}
	if p.QuotationCount != nil && *p.QuotationCount < 0 {
		return nil, invalid("quotation_count must not be negative")
	}
	validFrom, err := utils.ParseOptionalTimestamp(p.ValidFrom)
	if err != nil {
		return nil, invalid("valid_from: %v", err)
	}
	validUntil, err := utils.ParseOptionalTimestamp(p.ValidUntil)
	if err != nil {
		return nil, invalid("valid_until: %v", err)
	}
	receivedAt := s.now()
	if p.ReceivedAt != nil && strings.TrimSpace(*p.ReceivedAt) != "" {
		if receivedAt, err = utils.ParseTimestamp(*p.ReceivedAt); err != nil {
			return nil, invalid("received_at: %v", err)
		}
	}
	var metadata datatypes.JSON
	if len(p.Metadata) > 0 && string(p.Metadata) != "null" {
		if !json.Valid(p.Metadata) {
			return nil, invalid("metadata is not valid json")
		}
		metadata = datatypes.JSON(p.Metadata)
	}

	return &models.Quotation{
		QuotationId:   quotationId,
		RequestId:     requestId,
		ForwarderId:   forwarderId,
		ForwarderName: p.ForwarderName,
		Price:         p.Price.Round(2),
		Currency:      strings.ToUpper(p.Currency),
		TransitDays:   p.TransitDays,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		Carrier:       p.Carrier,
		ServiceLevel:  p.ServiceLevel,
		Metadata:      metadata,
		Notes:         p.Notes,
		Summary:       p.Summary,
		SourceRef:     p.SourceRef,
		Status:        models.NormalizeQuotationStatus(p.Status),
		ReceivedAt:    receivedAt,
	}, nil
}

// applyQuotation runs inside tx. An explicit count wins over the recount, but neither
// may lower the stored count.
func (s *Synchronizer) applyQuotation(ctx context.Context, tx *gorm.DB, q *models.Quotation, explicitCount *int64) error {
	if err := models.UpsertQuotation(ctx, tx, q); err != nil {
		if utils.IsForeignKeyErr(err) {
			return errParentMissing
		}
		return err
	}
	if err := models.DeletePendingQuotation(ctx, tx, q.QuotationId); err != nil {
		return err
	}

	var count int64
	if explicitCount != nil {
		count = *explicitCount
	} else {
		var err error
		if count, err = models.CountQuotations(ctx, tx, q.RequestId); err != nil {
			return err
		}
	}
	return models.RaiseQuotationCount(ctx, tx, q.RequestId, count)
}

func (s *Synchronizer) park(ctx context.Context, p *SyncQuotationPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.ParkQuotation(ctx, tx, p.QuotationId, p.RequestId, raw); err != nil {
			return err
		}
		quotationId := p.QuotationId
		return s.recordAnomaly(ctx, tx, &models.SyncAnomaly{
			Kind:        models.AnomalyKindOrphanQuotation,
			RequestId:   p.RequestId,
			QuotationId: &quotationId,
			ForwarderId: utils.NilIfEmpty(p.ForwarderId),
			Message:     "quotation references a request that is not mirrored; parked",
			Payload:     datatypes.JSON(raw),
		})
	})
}

// ApplyParked applies quotations parked for requestId. Returns how many were applied.
func (s *Synchronizer) ApplyParked(ctx context.Context, requestId string) (int, error) {
	ctx = utils.WithoutScopeGuard(ctx)
	parked, err := models.PendingQuotationsFor(ctx, s.handle(), requestId)
	if err != nil {
		return 0, err
	}
	if len(parked) == 0 {
		return 0, nil
	}

	applied := 0
	err = s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pending := range parked {
			var p SyncQuotationPayload
			if err := json.Unmarshal(pending.Payload, &p); err != nil {
				return fmt.Errorf("parked quotation %s: %w", pending.QuotationId, err)
			}
			// counts sent before the request existed are stale; recount instead
			p.QuotationCount = nil
			q, err := s.quotationFromPayload(&p)
			if err != nil {
				return fmt.Errorf("parked quotation %s: %w", pending.QuotationId, err)
			}
			err = s.applyQuotation(ctx, tx, q, nil)
			if errors.Is(err, models.ErrQuotationMoved) {
				owner, err := models.QuotationOwner(ctx, tx, q.QuotationId)
				if err != nil {
					return err
				}
				if err := models.DeletePendingQuotation(ctx, tx, q.QuotationId); err != nil {
					return err
				}
				if err := s.recordMovedQuotation(ctx, tx, q, &p, owner); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			applied++
		}
		return models.ResolveAnomalies(ctx, tx, models.AnomalyKindOrphanQuotation, requestId)
	})
	if err != nil {
		return 0, err
	}

	config.LogEntry(ctx, s.logger).WithFields(logrus.Fields{
		"field":      "ApplyParked",
		"request_id": requestId,
		"applied":    applied,
	}).Info("parked quotations applied")
	return applied, nil
}

// ApplyAllParked drains parked quotations whose request has since been mirrored.
func (s *Synchronizer) ApplyAllParked(ctx context.Context) (int, error) {
	ctx = utils.WithoutScopeGuard(ctx)
	ids, err := models.PendingRequestIds(ctx, s.handle())
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		exists, err := models.RequestExists(ctx, s.handle(), id)
		if err != nil {
			return total, err
		}
		if !exists {
			continue
		}
		n, err := s.ApplyParked(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// SyncClose marks the request CLOSED. An unknown request is an anomaly, not an error.
// Without closed_at an already closed request keeps its first closed_at.
func (s *Synchronizer) SyncClose(ctx context.Context, p *SyncClosePayload) (result *SyncResult, err error) {
	ctx, span := s.startSpan(ctx, "SyncClose", attribute.String("request_id", p.RequestId))
	defer func() { endSpan(span, err) }()

	requestId := strings.TrimSpace(p.RequestId)
	if requestId == "" {
		return nil, invalid("request_id is required")
	}
	status, err := models.ParseRequestStatus(p.Status)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if status == "" {
		status = models.RequestStatusClosed
	}
	if status != models.RequestStatusClosed {
		return nil, invalid("close status must be CLOSED")
	}
	closedAt, err := utils.ParseOptionalTimestamp(p.ClosedAt)
	if err != nil {
		return nil, invalid("closed_at: %v", err)
	}
	if closedAt == nil && s.strictClose {
		return nil, ErrMissingCloseTimestamp
	}

	result = &SyncResult{RequestId: requestId}
	err = s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Request
		err := tx.Select("id", "request_id", "status", "closed_at").
			Where("request_id = ?", requestId).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			payload, _ := json.Marshal(p)
			result.Anomaly = true
			result.Message = "request not found; close recorded as anomaly"
			return s.recordAnomaly(ctx, tx, &models.SyncAnomaly{
				Kind:      models.AnomalyKindCloseUnknown,
				RequestId: requestId,
				Message:   "close received for a request that is not mirrored",
				Payload:   datatypes.JSON(payload),
			})
		}
		if err != nil {
			return err
		}

		stamp := closedAt
		if stamp == nil {
			if existing.Status == models.RequestStatusClosed && existing.ClosedAt != nil {
				stamp = existing.ClosedAt
			} else {
				now := s.now()
				stamp = &now
			}
		}
		updates := map[string]interface{}{
			"status":    models.RequestStatusClosed,
			"closed_at": *stamp,
		}
		if p.ClosedReason != nil {
			updates["closed_reason"] = strings.TrimSpace(*p.ClosedReason)
		}
		result.Message = "request closed"
		return tx.Model(&models.Request{}).Where("id = ?", existing.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SyncBidStatus merges one forwarder's latest interaction with a request.
func (s *Synchronizer) SyncBidStatus(ctx context.Context, p *SyncBidStatusPayload) (result *SyncResult, err error) {
	ctx, span := s.startSpan(ctx, "SyncBidStatus",
		attribute.String("request_id", p.RequestId),
		attribute.String("forwarder_id", p.ForwarderId),
	)
	defer func() { endSpan(span, err) }()

	requestId := strings.TrimSpace(p.RequestId)
	forwarderId := strings.TrimSpace(p.ForwarderId)
	status := strings.ToUpper(strings.TrimSpace(p.Status))
	if requestId == "" || forwarderId == "" || status == "" {
		return nil, invalid("request_id, forwarder_id and status are required")
	}
	// now only stamps the first insert; a resend without attempted_at keeps the row
	attemptedAt := s.now()
	attemptedSent := p.AttemptedAt != nil && strings.TrimSpace(*p.AttemptedAt) != ""
	if attemptedSent {
		if attemptedAt, err = utils.ParseTimestamp(*p.AttemptedAt); err != nil {
			return nil, invalid("attempted_at: %v", err)
		}
	}
	quotedAt, err := utils.ParseOptionalTimestamp(p.QuotedAt)
	if err != nil {
		return nil, invalid("quoted_at: %v", err)
	}
	var price *decimal.Decimal
	if p.Price != nil {
		if p.Price.IsNegative() {
			return nil, invalid("price must not be negative")
		}
		rounded := p.Price.Round(2)
		price = &rounded
	}

	result = &SyncResult{RequestId: requestId, ForwarderId: forwarderId}
	bid := &models.BidStatus{
		ForwarderId:   forwarderId,
		RequestId:     requestId,
		ForwarderName: strings.TrimSpace(p.ForwarderName),
		Status:        models.BidStatusValue(status),
		Price:         price,
		AttemptedAt:   attemptedAt,
		QuotedAt:      quotedAt,
	}

	err = s.handle().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := models.RequestExists(ctx, tx, requestId)
		if err != nil {
			return err
		}
		if exists {
			err = models.UpsertBidStatus(ctx, tx, bid, attemptedSent)
			if err == nil || !utils.IsForeignKeyErr(err) {
				return err
			}
		}
		payload, _ := json.Marshal(p)
		result.Anomaly = true
		result.Message = "request not found; bid status recorded as anomaly"
		return s.recordAnomaly(ctx, tx, &models.SyncAnomaly{
			Kind:        models.AnomalyKindBidUnknown,
			RequestId:   requestId,
			ForwarderId: &forwarderId,
			Message:     "bid status received for a request that is not mirrored",
			Payload:     datatypes.JSON(payload),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Synchronizer) recordAnomaly(ctx context.Context, tx *gorm.DB, anomaly *models.SyncAnomaly) error {
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		anomaly.CorrelationId = cid
	}
	config.LogEntry(ctx, s.logger).WithFields(logrus.Fields{
		"field":        "Synchronizer",
		"anomaly":      string(anomaly.Kind),
		"request_id":   anomaly.RequestId,
		"quotation_id": utils.DereferencePtr(anomaly.QuotationId),
		"forwarder_id": utils.DereferencePtr(anomaly.ForwarderId),
	}).Warn(anomaly.Message)
	return models.RecordAnomaly(ctx, tx, anomaly)
}
