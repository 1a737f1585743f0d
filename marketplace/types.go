package marketplace

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrMissingCloseTimestamp = errors.New("closed_at is required")
)

// SyncRequestPayload mirrors a request from the Broadcaster. Cargo fields only apply
// when the request is not mirrored yet.
type SyncRequestPayload struct {
	RequestId       string           `json:"request_id" binding:"required"`
	SubmitterScope  string           `json:"submitter_scope" binding:"required"`
	SubmitterEmail  string           `json:"submitter_email"`
	ContactName     string           `json:"contact_name"`
	ContactPhone    string           `json:"contact_phone"`
	Origin          string           `json:"origin"`
	OriginType      string           `json:"origin_type"`
	Destination     string           `json:"destination"`
	DestinationType string           `json:"destination_type"`
	CargoType       string           `json:"cargo_type"`
	Commodity       string           `json:"commodity"`
	Packing         string           `json:"packing"`
	Quantity        int              `json:"quantity"`
	Weight          *decimal.Decimal `json:"weight"`
	WeightUnit      string           `json:"weight_unit" binding:"omitempty,weight_unit"`
	WeightKg        *decimal.Decimal `json:"weight_kg"`
	LengthCm        *decimal.Decimal `json:"length_cm"`
	WidthCm         *decimal.Decimal `json:"width_cm"`
	HeightCm        *decimal.Decimal `json:"height_cm"`
	Dimensions      string           `json:"dimensions"`
	IsHazardous     bool             `json:"is_hazardous"`
	IsInsured       bool             `json:"is_insured"`
	IsStackable     *bool            `json:"is_stackable"`
	ShipDate        *string          `json:"ship_date"`

	SpecialRequirements string `json:"special_requirements"`
	Incoterms           string `json:"incoterms"`
	Currency            string `json:"currency"`

	Status      string  `json:"status" binding:"omitempty,request_status"`
	SubmittedAt *string `json:"submitted_at"`
}

type SyncQuotationPayload struct {
	QuotationId   string           `json:"quotation_id" binding:"required"`
	RequestId     string           `json:"request_id" binding:"required"`
	ForwarderId   string           `json:"forwarder_id" binding:"required"`
	ForwarderName string           `json:"forwarder_name"`
	Price         *decimal.Decimal `json:"price" binding:"required"`
	Currency      string           `json:"currency"`
	TransitDays   *int             `json:"transit_days"`
	ValidFrom     *string          `json:"valid_from"`
	ValidUntil    *string          `json:"valid_until"`
	Carrier       string           `json:"carrier"`
	ServiceLevel  string           `json:"service_level"`
	Metadata      json.RawMessage  `json:"metadata,omitempty"`
	Notes         string           `json:"notes"`
	Summary       string           `json:"summary"`
	SourceRef     string           `json:"source_ref"`
	Status        string           `json:"status"`
	ReceivedAt    *string          `json:"received_at"`

	// QuotationCount is the Broadcaster's own count for the request. When absent the
	// mirror recounts its rows.
	QuotationCount *int64 `json:"quotation_count"`
}

type SyncClosePayload struct {
	RequestId    string  `json:"request_id" binding:"required"`
	Status       string  `json:"status"`
	ClosedAt     *string `json:"closed_at"`
	ClosedReason *string `json:"closed_reason"`
}

type SyncBidStatusPayload struct {
	RequestId     string           `json:"request_id" binding:"required"`
	ForwarderId   string           `json:"forwarder_id" binding:"required"`
	ForwarderName string           `json:"forwarder_name"`
	Status        string           `json:"status" binding:"required"`
	Price         *decimal.Decimal `json:"price"`
	AttemptedAt   *string          `json:"attempted_at"`
	QuotedAt      *string          `json:"quoted_at"`
}

// SyncResult is what the synchronizer reports back to handlers.
type SyncResult struct {
	RequestId   string
	ForwarderId string
	Inserted    bool
	Parked      bool
	Anomaly     bool
	Message     string
}

type SyncAck struct {
	Success     bool   `json:"success"`
	RequestId   string `json:"request_id,omitempty"`
	ForwarderId string `json:"forwarder_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

type ReconcileInput struct {
	RequestId string `json:"request_id"`
}

type ReplayInput struct {
	RequestId string `json:"request_id" binding:"required"`
}
