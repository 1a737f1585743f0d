package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BidStatus is the latest interaction outcome of one forwarder on one request.
// Unique constraint: (forwarder_id, request_id).
type BidStatus struct {
	ID            int              `gorm:"primary_key" json:"-"`
	ForwarderId   string           `gorm:"size:100;not null;uniqueIndex:uniq_bid_forwarder_request" json:"forwarder_id"`
	RequestId     string           `gorm:"size:100;not null;uniqueIndex:uniq_bid_forwarder_request;index" json:"request_id"`
	ForwarderName string           `gorm:"size:255" json:"forwarder_name"`
	Status        BidStatusValue   `gorm:"size:30;not null" json:"status"`
	Price         *decimal.Decimal `gorm:"type:decimal(15,2)" json:"price"`
	AttemptedAt   time.Time        `gorm:"not null" json:"attempted_at"`
	QuotedAt      *time.Time       `json:"quoted_at"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertBidStatus merges b into the (forwarder, request) row. Status always wins;
// attempted_at only when the caller sent it, and price, quoted_at and forwarder_name
// only when b carries them. A merge that would change nothing writes nothing.
func UpsertBidStatus(ctx context.Context, tx *gorm.DB, b *BidStatus, attemptedSent bool) error {
	var existing BidStatus
	err := tx.WithContext(ctx).
		Where("forwarder_id = ? AND request_id = ?", b.ForwarderId, b.RequestId).
		Take(&existing).Error
	switch {
	case err == nil:
		if !bidStatusChanges(&existing, b, attemptedSent) {
			return nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	columns := []string{"status", "updated_at"}
	if attemptedSent {
		columns = append(columns, "attempted_at")
	}
	if b.Price != nil {
		columns = append(columns, "price")
	}
	if b.QuotedAt != nil {
		columns = append(columns, "quoted_at")
	}
	if b.ForwarderName != "" {
		columns = append(columns, "forwarder_name")
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "forwarder_id"}, {Name: "request_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(b).Error
}

func bidStatusChanges(existing *BidStatus, b *BidStatus, attemptedSent bool) bool {
	switch {
	case existing.Status != b.Status:
		return true
	case attemptedSent && !existing.AttemptedAt.Equal(b.AttemptedAt):
		return true
	case b.Price != nil && (existing.Price == nil || !existing.Price.Equal(*b.Price)):
		return true
	case b.QuotedAt != nil && (existing.QuotedAt == nil || !existing.QuotedAt.Equal(*b.QuotedAt)):
		return true
	case b.ForwarderName != "" && existing.ForwarderName != b.ForwarderName:
		return true
	}
	return false
}

func GetBidStatus(ctx context.Context, tx *gorm.DB, forwarderId string, requestId string) (*BidStatus, error) {
	var b BidStatus
	err := tx.WithContext(ctx).
		Where("forwarder_id = ? AND request_id = ?", forwarderId, requestId).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}
