package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/cargo_backend/config"
	"gorm.io/gorm"
)

// DispatchRecord is the outcome of one outbound notification for a request.
type DispatchRecord struct {
	ID            int            `gorm:"primary_key" json:"id"`
	RequestId     string         `gorm:"size:100;not null;index" json:"request_id"`
	Transport     string         `gorm:"size:20;not null" json:"transport"`
	Status        DispatchStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastError     *string        `gorm:"type:text" json:"last_error"`
	CorrelationId string         `gorm:"size:64;index" json:"correlation_id"`
	SentAt        *time.Time     `json:"sent_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateDispatchRecord(ctx context.Context, tx *gorm.DB, record *DispatchRecord) error {
	return tx.WithContext(ctx).Create(record).Error
}

// FinishDispatchRecord writes the terminal status of a dispatch.
func FinishDispatchRecord(ctx context.Context, tx *gorm.DB, id int, status DispatchStatus, attempts int, lastErr error) error {
	updates := map[string]interface{}{
		"status":     status,
		"attempts":   attempts,
		"updated_at": time.Now().UTC(),
	}
	if lastErr != nil {
		msg := lastErr.Error()
		updates["last_error"] = msg
	} else {
		updates["last_error"] = nil
	}
	if status == DispatchStatusSent {
		updates["sent_at"] = time.Now().UTC()
	}
	return tx.WithContext(ctx).Model(&DispatchRecord{}).Where("id = ?", id).Updates(updates).Error
}

func ListDispatchRecords(ctx context.Context, requestId string) ([]DispatchRecord, error) {
	db := config.GetDB()
	var records []DispatchRecord
	err := db.WithContext(ctx).Where("request_id = ?", requestId).Order("id DESC").Find(&records).Error
	return records, err
}
