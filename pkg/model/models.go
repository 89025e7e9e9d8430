package model

import (
	"time"
)

// Cents is a money amount in integer minor units. All arithmetic in the
// engine happens in cents, conversion to display units is up to the caller.
type Cents int64

// PledgeStatus of a pledge
type PledgeStatus string

const (
	PledgeActive  = PledgeStatus("active")
	PledgeRemoved = PledgeStatus("removed")
)

// SettlementStatus of a monthly withdrawal
type SettlementStatus string

const (
	SettlementPending   = SettlementStatus("pending")
	SettlementCompleted = SettlementStatus("completed")
)

// Pledge is a payer's commitment to fund a server up to AmountCents per month.
// Unique per (PayerID, ServerID).
type Pledge struct {
	ID          string `sql:",pk"`
	PayerID     string
	ServerID    string
	AmountCents Cents
	Status      PledgeStatus
	CreatedAt   time.Time
}

// Server is a community funded resource with a fixed monthly cost.
type Server struct {
	ID               string `sql:",pk"`
	OwnerID          string
	Name             string
	MonthlyCostCents Cents
	// BillingDay is the day of month (1-31) the hosting bill is due.
	BillingDay      int
	MinChargeCents  Cents
	PledgeCount     int
	IsActive        bool
	PayoutAccountID string
	CreatedAt       time.Time
}

// MinCharge returns the server's minimum per-person charge, falling back to
// the platform default for records created before the field existed.
func (s *Server) MinCharge() Cents {
	if s.MinChargeCents > 0 {
		return s.MinChargeCents
	}
	return DefaultMinChargeCents
}

// Settlement is one monthly billing run for one server.
// At most one exists per (ServerID, Period).
type Settlement struct {
	ID       string `sql:",pk"`
	ServerID string
	// Period is the due month in "2006-01" form.
	Period         string
	ScheduledDate  time.Time
	Status         SettlementStatus
	RequestedCents Cents
	ActualCents    Cents
	CreatedAt      time.Time
	CompletedAt    time.Time
}

// PayerAccount tracks the payment failure state of a payer.
// Mutated only by the failure tracker.
type PayerAccount struct {
	ID                 string `sql:",pk"`
	FailureCount       int
	IsPaymentSuspended bool
	PaymentSuspendedAt time.Time
	LastPaymentFailure time.Time
}

// Credential is an opaque payment method handle registered with the gateway.
type Credential struct {
	PayerID string `sql:",pk"`
	Token   string
}

// FeeQuote is the fee breakdown for a single charge. Derived, never persisted.
type FeeQuote struct {
	PlatformFeeCents Cents
	GatewayFeeCents  Cents
	NetToOwnerCents  Cents
}

// ActivityType identifies an activity log record kind
type ActivityType string

const (
	ActivityPledged          = ActivityType("pledged")
	ActivityUnpledged        = ActivityType("unpledged")
	ActivityPaymentProcessed = ActivityType("payment_processed")
	ActivityPaymentFailed    = ActivityType("payment_failed")
	ActivityDepositReceived  = ActivityType("deposit_received")
	ActivitySuspended        = ActivityType("account_suspended")
)

// Activity is one append-only activity log record
type Activity struct {
	Type        ActivityType
	Message     string
	AmountCents Cents
	PayerID     string
	ServerID    string
	CreatedAt   time.Time
}
