package models

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingQuotation parks a quotation whose request is not mirrored yet.
// The latest payload per quotation_id wins.
type PendingQuotation struct {
	ID          int            `gorm:"primary_key" json:"id"`
	QuotationId string         `gorm:"size:100;not null;uniqueIndex" json:"quotation_id"`
	RequestId   string         `gorm:"size:100;not null;index" json:"request_id"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	Deliveries  int            `gorm:"not null;default:1" json:"deliveries"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func ParkQuotation(ctx context.Context, tx *gorm.DB, quotationId string, requestId string, payload []byte) error {
	p := PendingQuotation{
		QuotationId: quotationId,
		RequestId:   requestId,
		Payload:     datatypes.JSON(payload),
		Deliveries:  1,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "quotation_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_id": requestId,
			"payload":    p.Payload,
			"deliveries": gorm.Expr("deliveries + 1"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&p).Error
}

func PendingQuotationsFor(ctx context.Context, tx *gorm.DB, requestId string) ([]PendingQuotation, error) {
	var parked []PendingQuotation
	err := tx.WithContext(ctx).Where("request_id = ?", requestId).Order("id ASC").Find(&parked).Error
	return parked, err
}

// PendingRequestIds lists request ids that still have parked quotations.
func PendingRequestIds(ctx context.Context, tx *gorm.DB) ([]string, error) {
	var ids []string
	err := tx.WithContext(ctx).Model(&PendingQuotation{}).Distinct("request_id").Pluck("request_id", &ids).Error
	return ids, err
}

func DeletePendingQuotation(ctx context.Context, tx *gorm.DB, quotationId string) error {
	return tx.WithContext(ctx).Where("quotation_id = ?", quotationId).Delete(&PendingQuotation{}).Error
}
