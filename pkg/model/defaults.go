package model

import (
	"time"
)

const (
	// DefaultMinChargeCents is the contractual minimum monthly charge per payer.
	DefaultMinChargeCents = Cents(200)

	// MinMonthlyCostCents and MaxMonthlyCostCents bound the cost of a hosted server.
	MinMonthlyCostCents = Cents(1500)
	MaxMonthlyCostCents = Cents(8000)

	// MaxPaymentFailures is the number of consecutive charge failures
	// after which a payer account is suspended.
	MaxPaymentFailures = 3

	// SettlementLead is how long before the hosting due date the
	// withdrawal is settled.
	SettlementLead = 48 * time.Hour

	// PlatformFeeBps is the platform cut of every charge, in basis points.
	PlatformFeeBps = 100

	// GatewayFeeBps and GatewayFeeFixedCents make up the processing fee
	// (2.9% + $0.30) the gateway takes per charge.
	GatewayFeeBps        = 290
	GatewayFeeFixedCents = Cents(30)
)
