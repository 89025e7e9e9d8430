// Package gateway talks to the external payment processor.
package gateway

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

// ChargeRequest describes one charge attempt against a payer's credential.
type ChargeRequest struct {
	// IdempotencyKey makes retried runs safe: the processor returns the
	// original outcome instead of charging twice.
	IdempotencyKey string

	// CredentialToken is the payer's payment method handle.
	CredentialToken string

	AmountCents model.Cents

	// PlatformFeeCents is routed to the platform account.
	PlatformFeeCents model.Cents

	// PayoutDestination is the server owner's connected payout account.
	// Empty when the owner has none configured, in which case only the
	// charge is made and no transfer happens.
	PayoutDestination string
}

// ChargeResult is returned on a successful charge.
type ChargeResult struct {
	TransactionID string
}

// Gateway is the payment processor contract consumed by the settlement
// pipeline. A call that times out must be treated by callers as a failure,
// success is never assumed without processor confirmation.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// DeclineError is returned when the processor refused the charge
// (insufficient funds, expired card and so on).
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("charge declined: %s", e.Reason)
}

// IsDeclined reports whether err represents a processor decline as opposed
// to a transport or processor-side error.
func IsDeclined(err error) bool {
	_, ok := errors.Cause(err).(*DeclineError)
	return ok
}
