package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/cargo_backend/config"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncAnomaly records a sync call that referenced something the mirror does not have.
// Rows are for out-of-band inspection; nothing replays them automatically.
type SyncAnomaly struct {
	ID            int            `gorm:"primary_key" json:"id"`
	Kind          AnomalyKind    `gorm:"size:40;not null;index" json:"kind"`
	RequestId     string         `gorm:"size:100;not null;index" json:"request_id"`
	QuotationId   *string        `gorm:"size:100" json:"quotation_id"`
	ForwarderId   *string        `gorm:"size:100" json:"forwarder_id"`
	Message       string         `gorm:"size:500" json:"message"`
	Payload       datatypes.JSON `json:"payload"`
	CorrelationId string         `gorm:"size:64;index" json:"correlation_id"`
	ResolvedAt    *time.Time     `json:"resolved_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func RecordAnomaly(ctx context.Context, tx *gorm.DB, anomaly *SyncAnomaly) error {
	return tx.WithContext(ctx).Create(anomaly).Error
}

// ResolveAnomalies stamps resolved_at on open anomalies of kind for requestId.
func ResolveAnomalies(ctx context.Context, tx *gorm.DB, kind AnomalyKind, requestId string) error {
	return tx.WithContext(ctx).Model(&SyncAnomaly{}).
		Where("kind = ? AND request_id = ? AND resolved_at IS NULL", kind, requestId).
		Update("resolved_at", time.Now().UTC()).Error
}

type AnomalyFilter struct {
	Kind      string `form:"kind"`
	RequestId string `form:"request_id"`
	OnlyOpen  bool   `form:"only_open"`
	Limit     int    `form:"limit"`
}

func ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]SyncAnomaly, error) {
	db := config.GetDB().WithContext(ctx)
	if filter.Kind != "" {
		db = db.Where("kind = ?", filter.Kind)
	}
	if filter.RequestId != "" {
		db = db.Where("request_id = ?", filter.RequestId)
	}
	if filter.OnlyOpen {
		db = db.Where("resolved_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var anomalies []SyncAnomaly
	err := db.Order("id DESC").Limit(limit).Find(&anomalies).Error
	return anomalies, err
}
