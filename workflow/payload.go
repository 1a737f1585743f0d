package workflow

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/shopspring/decimal"
)

const EventRequestCreated = "request.created"

const payloadTimeLayout = "2006-01-02T15:04:05Z"

// RequestCreatedEvent is the body sent to the Broadcaster for every new request.
type RequestCreatedEvent struct {
	Event         string         `json:"event"`
	CorrelationId string         `json:"correlation_id"`
	DispatchedAt  string         `json:"dispatched_at"`
	Request       RequestPayload `json:"request"`
}

// RequestPayload is the normalized cargo record. Decimals are fixed-point strings.
type RequestPayload struct {
	RequestId           string  `json:"request_id"`
	SubmitterScope      string  `json:"submitter_scope"`
	SubmitterEmail      string  `json:"submitter_email"`
	ContactName         string  `json:"contact_name"`
	ContactPhone        string  `json:"contact_phone"`
	Origin              string  `json:"origin"`
	OriginType          string  `json:"origin_type"`
	Destination         string  `json:"destination"`
	DestinationType     string  `json:"destination_type"`
	CargoType           string  `json:"cargo_type"`
	Commodity           string  `json:"commodity"`
	Packing             string  `json:"packing"`
	Quantity            int     `json:"quantity"`
	WeightKg            string  `json:"weight_kg"`
	WeightRawValue      string  `json:"weight_raw_value"`
	WeightRawUnit       string  `json:"weight_raw_unit"`
	LengthCm            *string `json:"length_cm"`
	WidthCm             *string `json:"width_cm"`
	HeightCm            *string `json:"height_cm"`
	Dimensions          string  `json:"dimensions"`
	IsHazardous         bool    `json:"is_hazardous"`
	IsInsured           bool    `json:"is_insured"`
	IsStackable         bool    `json:"is_stackable"`
	ShipDate            *string `json:"ship_date"`
	SpecialRequirements string  `json:"special_requirements"`
	Incoterms           string  `json:"incoterms"`
	Currency            string  `json:"currency"`
	Status              string  `json:"status"`
	SubmittedAt         string  `json:"submitted_at"`
}

func fixed(d *decimal.Decimal, places int32) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(places)
	return &s
}

func BuildRequestCreatedEvent(r *models.Request, correlationId string, now time.Time) RequestCreatedEvent {
	var shipDate *string
	if r.ShipDate != nil {
		s := r.ShipDate.UTC().Format("2006-01-02")
		shipDate = &s
	}
	return RequestCreatedEvent{
		Event:         EventRequestCreated,
		CorrelationId: correlationId,
		DispatchedAt:  now.UTC().Format(payloadTimeLayout),
		Request: RequestPayload{
			RequestId:           r.RequestId,
			SubmitterScope:      r.SubmitterScope,
			SubmitterEmail:      r.SubmitterEmail,
			ContactName:         r.ContactName,
			ContactPhone:        r.ContactPhone,
			Origin:              r.Origin,
			OriginType:          r.OriginType,
			Destination:         r.Destination,
			DestinationType:     r.DestinationType,
			CargoType:           r.CargoType,
			Commodity:           r.Commodity,
			Packing:             r.Packing,
			Quantity:            r.Quantity,
			WeightKg:            r.WeightKg.StringFixed(3),
			WeightRawValue:      r.WeightRawValue.String(),
			WeightRawUnit:       r.WeightRawUnit,
			LengthCm:            fixed(r.LengthCm, 2),
			WidthCm:             fixed(r.WidthCm, 2),
			HeightCm:            fixed(r.HeightCm, 2),
			Dimensions:          r.Dimensions,
			IsHazardous:         r.IsHazardous,
			IsInsured:           r.IsInsured,
			IsStackable:         r.IsStackable,
			ShipDate:            shipDate,
			SpecialRequirements: r.SpecialRequirements,
			Incoterms:           r.Incoterms,
			Currency:            r.Currency,
			Status:              string(r.Status),
			SubmittedAt:         r.SubmittedAt.UTC().Format(payloadTimeLayout),
		},
	}
}

func (e RequestCreatedEvent) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
