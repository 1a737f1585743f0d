package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrMissingScope    = errors.New("submitter scope is required")
	ErrInvalidRequest  = errors.New("invalid request")
)

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// Request is one cargo shipment inquiry. Cargo attributes are written once at
// submission (or by the first SyncRequest) and never overwritten afterwards.
type Request struct {
	ID             int    `gorm:"primary_key" json:"-"`
	RequestId      string `gorm:"size:100;not null;uniqueIndex" json:"request_id"`
	SubmitterScope string `gorm:"size:64;not null;index" json:"submitter_scope"`
	SubmitterEmail string `gorm:"size:255;index" json:"submitter_email"`
	ContactName    string `gorm:"size:255" json:"contact_name"`
	ContactPhone   string `gorm:"size:32" json:"contact_phone"`

	Origin          string `gorm:"size:255;not null" json:"origin"`
	OriginType      string `gorm:"size:50" json:"origin_type"`
	Destination     string `gorm:"size:255;not null" json:"destination"`
	DestinationType string `gorm:"size:50" json:"destination_type"`
	CargoType       string `gorm:"size:100" json:"cargo_type"`
	Commodity       string `gorm:"size:255" json:"commodity"`
	Packing         string `gorm:"size:100" json:"packing"`
	Quantity        int    `gorm:"not null;default:0" json:"quantity"`

	WeightKg       decimal.Decimal  `gorm:"type:decimal(15,3);not null;default:0" json:"weight_kg"`
	WeightRawValue decimal.Decimal  `gorm:"type:decimal(15,3);not null;default:0" json:"weight_raw_value"`
	WeightRawUnit  string           `gorm:"size:10" json:"weight_raw_unit"`
	LengthCm       *decimal.Decimal `gorm:"type:decimal(10,2)" json:"length_cm"`
	WidthCm        *decimal.Decimal `gorm:"type:decimal(10,2)" json:"width_cm"`
	HeightCm       *decimal.Decimal `gorm:"type:decimal(10,2)" json:"height_cm"`
	Dimensions     string           `gorm:"size:255" json:"dimensions"`

	IsHazardous         bool       `gorm:"not null;default:false" json:"is_hazardous"`
	IsInsured           bool       `gorm:"not null;default:false" json:"is_insured"`
	IsStackable         bool       `gorm:"not null" json:"is_stackable"`
	ShipDate            *time.Time `json:"ship_date"`
	SpecialRequirements string     `gorm:"type:text" json:"special_requirements"`
	Incoterms           string     `gorm:"size:10" json:"incoterms"`
	Currency            string     `gorm:"size:3" json:"currency"`

	Status         RequestStatus `gorm:"size:20;not null;default:OPEN;index" json:"status"`
	QuotationCount int           `gorm:"not null;default:0" json:"quotation_count"`
	SubmittedAt    time.Time     `gorm:"not null;index" json:"submitted_at"`
	ClosedAt       *time.Time    `json:"closed_at"`
	ClosedReason   *string       `gorm:"size:255" json:"closed_reason"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	Quotations  []Quotation `gorm:"foreignKey:RequestId;references:RequestId;constraint:OnDelete:CASCADE" json:"quotations,omitempty"`
	BidStatuses []BidStatus `gorm:"foreignKey:RequestId;references:RequestId;constraint:OnDelete:CASCADE" json:"bid_statuses,omitempty"`
}

type NewRequest struct {
	ContactName         string           `json:"contact_name"`
	ContactPhone        string           `json:"contact_phone"`
	Origin              string           `json:"origin" binding:"required"`
	OriginType          string           `json:"origin_type"`
	Destination         string           `json:"destination" binding:"required"`
	DestinationType     string           `json:"destination_type"`
	CargoType           string           `json:"cargo_type" binding:"required"`
	Commodity           string           `json:"commodity"`
	Packing             string           `json:"packing"`
	Quantity            int              `json:"quantity" binding:"gte=0"`
	Weight              decimal.Decimal  `json:"weight"`
	WeightUnit          string           `json:"weight_unit" binding:"omitempty,weight_unit"`
	LengthCm            *decimal.Decimal `json:"length_cm"`
	WidthCm             *decimal.Decimal `json:"width_cm"`
	HeightCm            *decimal.Decimal `json:"height_cm"`
	Dimensions          string           `json:"dimensions"`
	IsHazardous         bool             `json:"is_hazardous"`
	IsInsured           bool             `json:"is_insured"`
	IsStackable         *bool            `json:"is_stackable"`
	ShipDate            *string          `json:"ship_date"`
	SpecialRequirements string           `json:"special_requirements"`
	Incoterms           string           `json:"incoterms" binding:"omitempty,incoterm"`
	Currency            string           `json:"currency" binding:"omitempty,len=3"`
}

func (input *NewRequest) validate() error {
	if strings.TrimSpace(input.Origin) == "" || strings.TrimSpace(input.Destination) == "" {
		return invalidRequest("origin and destination are required")
	}
	if input.Weight.IsNegative() {
		return invalidRequest("weight must not be negative")
	}
	if input.Quantity < 0 {
		return invalidRequest("quantity must not be negative")
	}
	return nil
}

// toRequest builds the row for a client submission. RequestId is filled by the allocator.
func (input *NewRequest) toRequest(scope string, email string) (*Request, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	weightKg, unit, err := NormalizeWeightKg(input.Weight, input.WeightUnit)
	if err != nil {
		return nil, invalidRequest(err.Error())
	}
	phone := strings.TrimSpace(input.ContactPhone)
	if phone != "" {
		phone, err = utils.NormalizePhoneNumber(phone, config.DefaultPhoneRegion())
		if err != nil {
			return nil, invalidRequest("contact_phone is not a valid phone number")
		}
	}
	shipDate, err := utils.ParseOptionalTimestamp(input.ShipDate)
	if err != nil {
		return nil, invalidRequest("ship_date is not a valid date")
	}

	return &Request{
		SubmitterScope:      scope,
		SubmitterEmail:      email,
		ContactName:         strings.TrimSpace(input.ContactName),
		ContactPhone:        phone,
		Origin:              strings.TrimSpace(input.Origin),
		OriginType:          input.OriginType,
		Destination:         strings.TrimSpace(input.Destination),
		DestinationType:     input.DestinationType,
		CargoType:           input.CargoType,
		Commodity:           input.Commodity,
		Packing:             input.Packing,
		Quantity:            input.Quantity,
		WeightKg:            weightKg,
		WeightRawValue:      input.Weight,
		WeightRawUnit:       unit,
		LengthCm:            input.LengthCm,
		WidthCm:             input.WidthCm,
		HeightCm:            input.HeightCm,
		Dimensions:          input.Dimensions,
		IsHazardous:         input.IsHazardous,
		IsInsured:           input.IsInsured,
		IsStackable:         utils.DereferencePtr(input.IsStackable, true),
		ShipDate:            shipDate,
		SpecialRequirements: input.SpecialRequirements,
		Incoterms:           strings.ToUpper(input.Incoterms),
		Currency:            strings.ToUpper(input.Currency),
		Status:              RequestStatusOpen,
		SubmittedAt:         time.Now().UTC(),
	}, nil
}

// SubmitRequest allocates a request id for the caller's scope and persists the request.
// Nothing is written unless an id was allocated.
func SubmitRequest(ctx context.Context, input *NewRequest) (*Request, error) {
	scope, ok := utils.GetSubmitterScopeFromContext(ctx)
	if !ok || strings.TrimSpace(scope) == "" {
		return nil, ErrMissingScope
	}
	email, _ := utils.GetSubmitterEmailFromContext(ctx)

	request, err := input.toRequest(scope, email)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	allocator := NewRequestIdAllocator(db, config.AllocatorMaxAttempts())
	if err := allocator.Insert(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// GetMyRequests lists the caller's requests, newest first, with quotations cheapest first.
func GetMyRequests(ctx context.Context) ([]Request, error) {
	scope, ok := utils.GetSubmitterScopeFromContext(ctx)
	if !ok || scope == "" {
		return nil, ErrMissingScope
	}
	db := config.GetDB()
	var requests []Request
	err := db.WithContext(ctx).
		Where("submitter_scope = ?", scope).
		Preload("Quotations", func(db *gorm.DB) *gorm.DB {
			return db.Order("price ASC").Order("id ASC")
		}).
		Order("submitted_at DESC").Order("id DESC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// GetRequest returns one request with its quotations and bid statuses. Requests of
// another scope are reported as not found.
func GetRequest(ctx context.Context, requestId string) (*Request, error) {
	db := config.GetDB()
	var request Request
	err := db.WithContext(ctx).
		Where("request_id = ?", requestId).
		Preload("Quotations", func(db *gorm.DB) *gorm.DB {
			return db.Order("price ASC").Order("id ASC")
		}).
		Preload("BidStatuses").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &request, nil
}

// LookupRequestsByEmail is the legacy lookup used before scoped tokens existed.
func LookupRequestsByEmail(ctx context.Context, email string) ([]Request, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, invalidRequest("email is required")
	}
	db := config.GetDB()
	var requests []Request
	err := db.WithContext(ctx).
		Where("LOWER(submitter_email) = ?", strings.ToLower(email)).
		Preload("Quotations", func(db *gorm.DB) *gorm.DB {
			return db.Order("price ASC").Order("id ASC")
		}).
		Order("submitted_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// RequestExists ignores submitter scoping.
func RequestExists(ctx context.Context, tx *gorm.DB, requestId string) (bool, error) {
	var count int64
	err := tx.WithContext(utils.WithoutScopeGuard(ctx)).
		Model(&Request{}).
		Where("request_id = ?", requestId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
