package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Quotation is one forwarder's bid. Only price and status change after first receipt.
type Quotation struct {
	ID            int             `gorm:"primary_key" json:"-"`
	QuotationId   string          `gorm:"size:100;not null;uniqueIndex" json:"quotation_id"`
	RequestId     string          `gorm:"size:100;not null;index" json:"request_id"`
	ForwarderId   string          `gorm:"size:100;not null;index" json:"forwarder_id"`
	ForwarderName string          `gorm:"size:255" json:"forwarder_name"`
	Price         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"price"`
	Currency      string          `gorm:"size:3" json:"currency"`
	TransitDays   *int            `json:"transit_days"`
	ValidFrom     *time.Time      `json:"valid_from"`
	ValidUntil    *time.Time      `json:"valid_until"`
	Carrier       string          `gorm:"size:255" json:"carrier"`
	ServiceLevel  string          `gorm:"size:100" json:"service_level"`
	Metadata      datatypes.JSON  `json:"metadata"`
	Notes         string          `gorm:"type:text" json:"notes"`
	Summary       string          `gorm:"type:text" json:"summary"`
	SourceRef     string          `gorm:"size:255" json:"source_ref"`
	Status        QuotationStatus `gorm:"size:20;not null;index" json:"status"`
	ReceivedAt    time.Time       `gorm:"not null" json:"received_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// quotationMutableColumns are the only columns an upsert may touch on conflict.
var quotationMutableColumns = []string{"price", "status", "updated_at"}

// ErrQuotationMoved means a known quotation_id arrived under a different request_id.
var ErrQuotationMoved = errors.New("quotation belongs to another request")

// UpsertQuotation inserts q or, when quotation_id exists, updates price and status.
// A resend with the same price and status writes nothing.
func UpsertQuotation(ctx context.Context, tx *gorm.DB, q *Quotation) error {
	var existing Quotation
	err := tx.WithContext(ctx).
		Select("id", "request_id", "price", "status").
		Where("quotation_id = ?", q.QuotationId).
		Take(&existing).Error
	switch {
	case err == nil:
		if existing.RequestId != q.RequestId {
			return fmt.Errorf("%w: %s is mirrored under %s", ErrQuotationMoved, q.QuotationId, existing.RequestId)
		}
		if existing.Price.Equal(q.Price) && existing.Status == q.Status {
			return nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "quotation_id"}},
		DoUpdates: clause.AssignmentColumns(quotationMutableColumns),
	}).Create(q).Error
}

// QuotationOwner returns the request_id holding quotationId, or "" when it is not mirrored.
func QuotationOwner(ctx context.Context, tx *gorm.DB, quotationId string) (string, error) {
	var owners []string
	err := tx.WithContext(ctx).Model(&Quotation{}).
		Where("quotation_id = ?", quotationId).
		Limit(1).
		Pluck("request_id", &owners).Error
	if err != nil || len(owners) == 0 {
		return "", err
	}
	return owners[0], nil
}

func CountQuotations(ctx context.Context, tx *gorm.DB, requestId string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&Quotation{}).Where("request_id = ?", requestId).Count(&count).Error
	return count, err
}

// RaiseQuotationCount sets quotation_count to n only if that raises it.
// Synchronization never lowers the count; see SetQuotationCount.
func RaiseQuotationCount(ctx context.Context, tx *gorm.DB, requestId string, n int64) error {
	return tx.WithContext(ctx).Model(&Request{}).
		Where("request_id = ? AND quotation_count < ?", requestId, n).
		Update("quotation_count", n).Error
}

// SetQuotationCount writes the exact count. Reserved for reconciliation.
func SetQuotationCount(ctx context.Context, tx *gorm.DB, requestId string, n int64) (bool, error) {
	result := tx.WithContext(ctx).Model(&Request{}).
		Where("request_id = ? AND quotation_count <> ?", requestId, n).
		Update("quotation_count", n)
	return result.RowsAffected > 0, result.Error
}

func GetQuotation(ctx context.Context, tx *gorm.DB, quotationId string) (*Quotation, error) {
	var q Quotation
	if err := tx.WithContext(ctx).Where("quotation_id = ?", quotationId).First(&q).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &q, nil
}

// QuotationsForRequest returns the quotations cheapest first.
func QuotationsForRequest(ctx context.Context, tx *gorm.DB, requestId string) ([]Quotation, error) {
	var quotations []Quotation
	err := tx.WithContext(ctx).
		Where("request_id = ?", requestId).
		Order("price ASC").Order("id ASC").
		Find(&quotations).Error
	return quotations, err
}
