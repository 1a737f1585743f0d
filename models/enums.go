package models

import (
	"errors"
	"strings"
)

type RequestStatus string

const (
	RequestStatusOpen   RequestStatus = "OPEN"
	RequestStatusClosed RequestStatus = "CLOSED"
)

func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusOpen, RequestStatusClosed:
		return true
	}
	return false
}

// ParseRequestStatus is case-insensitive; blank maps to "".
func ParseRequestStatus(str string) (RequestStatus, error) {
	str = strings.ToUpper(strings.TrimSpace(str))
	if str == "" {
		return "", nil
	}
	s := RequestStatus(str)
	if !s.IsValid() {
		return "", errors.New("invalid request status")
	}
	return s, nil
}

type QuotationStatus string

const (
	QuotationStatusActive    QuotationStatus = "ACTIVE"
	QuotationStatusExpired   QuotationStatus = "EXPIRED"
	QuotationStatusWithdrawn QuotationStatus = "WITHDRAWN"
)

// Quotation statuses are relayed as-is from the Broadcaster; unknown values are kept
// upper-cased rather than rejected.
func NormalizeQuotationStatus(str string) QuotationStatus {
	str = strings.ToUpper(strings.TrimSpace(str))
	if str == "" {
		return QuotationStatusActive
	}
	return QuotationStatus(str)
}

type BidStatusValue string

const (
	BidStatusAnswered     BidStatusValue = "ANSWERED"
	BidStatusDeclinedLate BidStatusValue = "DECLINED_LATE"
	BidStatusDuplicate    BidStatusValue = "DUPLICATE"
	BidStatusCompleted    BidStatusValue = "COMPLETED"
)

type AnomalyKind string

const (
	AnomalyKindOrphanQuotation AnomalyKind = "ORPHAN_QUOTATION"
	AnomalyKindCloseUnknown    AnomalyKind = "CLOSE_UNKNOWN_REQUEST"
	AnomalyKindBidUnknown      AnomalyKind = "BID_STATUS_UNKNOWN_REQUEST"
	AnomalyKindQuotationMoved  AnomalyKind = "QUOTATION_REQUEST_MISMATCH"
)

type DispatchStatus string

const (
	DispatchStatusPending DispatchStatus = "PENDING"
	DispatchStatusSent    DispatchStatus = "SENT"
	DispatchStatusFailed  DispatchStatus = "FAILED"
	DispatchStatusDropped DispatchStatus = "DROPPED"
)
