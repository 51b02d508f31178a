package domain

import (
	"fmt"
	"time"
)

// Direction tells whether money moved into or out of the user's account.
type Direction string

const (
	// DirectionCashIn marks money received by the user.
	DirectionCashIn Direction = "CASH-IN"
	// DirectionCashOut marks money spent by the user.
	DirectionCashOut Direction = "SPEND"
)

// MinTimestamp and MaxTimestamp bound the supported date range for records.
// Anything outside is treated as corrupt input.
var (
	MinTimestamp = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTimestamp = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// TransactionRecord is one canonical, currency-normalized transaction as
// produced by the ingestion side. Records are immutable ground truth; the
// pipeline only reads them.
type TransactionRecord struct {
	UserID    string
	Timestamp time.Time
	// Amount is signed: positive for cash-in, negative for spend.
	Amount      float64
	Category    string
	Direction   Direction
	Merchant    string
	SegmentTags []string
}

// Validate checks the record invariants: timestamp within the supported
// range, amount non-zero, direction known.
func (r TransactionRecord) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("transaction record: empty user ID")
	}
	if r.Timestamp.Before(MinTimestamp) || !r.Timestamp.Before(MaxTimestamp) {
		return fmt.Errorf("transaction record for %s: timestamp %s outside supported range", r.UserID, r.Timestamp.Format(time.RFC3339))
	}
	if r.Amount == 0 {
		return fmt.Errorf("transaction record for %s: zero amount", r.UserID)
	}
	switch r.Direction {
	case DirectionCashIn, DirectionCashOut:
	default:
		return fmt.Errorf("transaction record for %s: unknown direction %q", r.UserID, r.Direction)
	}
	return nil
}

// IsSpend reports whether the record is an outgoing payment.
func (r TransactionRecord) IsSpend() bool {
	return r.Direction == DirectionCashOut
}

// IsCashIn reports whether the record is incoming money.
func (r TransactionRecord) IsCashIn() bool {
	return r.Direction == DirectionCashIn
}

// Magnitude returns the absolute transaction amount.
func (r TransactionRecord) Magnitude() float64 {
	if r.Amount < 0 {
		return -r.Amount
	}
	return r.Amount
}
