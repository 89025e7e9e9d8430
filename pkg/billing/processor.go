package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/allocator"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/gateway"
	"github.com/anthev-stack/communitypledges/pkg/model"
	"github.com/anthev-stack/communitypledges/pkg/payer"
)

// ResultStatus is one payer's outcome within a settlement run
type ResultStatus string

const (
	StatusPaid    = ResultStatus("paid")
	StatusSkipped = ResultStatus("skipped")
	StatusFailed  = ResultStatus("failed")
)

type PayerResult struct {
	PayerID     string
	ChargeCents model.Cents
	Status      ResultStatus
	Err         error
}

// Outcome aggregates one settlement run
type Outcome struct {
	ActualCents model.Cents
	Results     []PayerResult
}

// Processor executes due settlements: it re-allocates the server's cost
// over the current pledges, charges every payer and finalizes the
// settlement record. One payer's failure never aborts the rest of the
// batch, a partial settlement is a valid outcome.
type Processor struct {
	db       db.Storage
	gateway  gateway.Gateway
	activity activity.Log
	tracker  *payer.Tracker
}

func NewProcessor(storage db.Storage, gw gateway.Gateway, activityLog activity.Log, tracker *payer.Tracker) *Processor {
	return &Processor{
		db:       storage,
		gateway:  gw,
		activity: activityLog,
		tracker:  tracker,
	}
}

func (p *Processor) Process(ctx context.Context, settlement *model.Settlement) (*Outcome, error) {
	logger := log.WithFields(log.Fields{
		"settlement_id": settlement.ID,
		"server_id":     settlement.ServerID,
		"period":        settlement.Period,
	})

	logger.Info("-> processing settlement")
	started := time.Now()

	server, err := p.db.GetServer(ctx, settlement.ServerID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load server %q", settlement.ServerID)
	}

	// The pledge set may have changed since scheduling, charge against
	// the current allocation rather than the stale requested amount.
	pledges, err := p.db.GetActivePledges(ctx, server.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load pledges for server %q", server.ID)
	}

	res := allocator.Allocate(pledgeCaps(pledges), server.MonthlyCostCents, server.MinCharge())
	logAnomaly(&res, server.ID)

	outcome := &Outcome{}
	for i, pledge := range pledges {
		result := p.chargePayer(ctx, settlement, server, pledge, res.Charges[i])
		outcome.Results = append(outcome.Results, result)
		if result.Status == StatusPaid {
			outcome.ActualCents += result.ChargeCents
		}
	}

	err = p.db.UpdateSettlement(ctx, settlement.ServerID, settlement.Period, func(s *model.Settlement) error {
		s.Status = model.SettlementCompleted
		s.ActualCents = outcome.ActualCents
		s.CompletedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to finalize settlement %q", settlement.ID)
	}

	if outcome.ActualCents > 0 {
		p.activity.Append(ctx, model.Activity{
			Type:        model.ActivityDepositReceived,
			Message:     fmt.Sprintf("monthly withdrawal for %s collected", server.Name),
			AmountCents: outcome.ActualCents,
			PayerID:     server.OwnerID,
			ServerID:    server.ID,
		})
	}

	logger.WithFields(log.Fields{
		"requested": settlement.RequestedCents,
		"actual":    outcome.ActualCents,
		"payers":    len(outcome.Results),
	}).Infof("successfully processed settlement in %s", time.Since(started))

	return outcome, nil
}

// chargePayer attempts a single payer's charge. Everything that can go
// wrong here, panics included, is contained so the remaining payers in the
// batch still get processed.
func (p *Processor) chargePayer(
	ctx context.Context,
	settlement *model.Settlement,
	server *model.Server,
	pledge *model.Pledge,
	amount model.Cents,
) (result PayerResult) {
	result = PayerResult{
		PayerID:     pledge.PayerID,
		ChargeCents: amount,
	}

	logger := log.WithFields(log.Fields{
		"settlement_id": settlement.ID,
		"payer_id":      pledge.PayerID,
		"amount":        amount,
	})

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recovered panic while charging payer: %v", r)
			result.Status = StatusFailed
			result.Err = errors.Errorf("panic: %v", r)
			p.recordFailure(ctx, settlement, pledge, amount, result.Err)
		}
	}()

	credential, err := p.db.GetCredential(ctx, pledge.PayerID)
	if err == model.ErrNotFound {
		// No payment method on file: sit this cycle out, the failure
		// counter is not touched.
		logger.Info("skipping payer without payment credential")
		result.Status = StatusSkipped
		return result
	}
	if err != nil {
		logger.WithError(err).Error("failed to load payer credential")
		result.Status = StatusSkipped
		result.Err = err
		return result
	}

	quote := Quote(amount)

	_, err = p.gateway.Charge(ctx, gateway.ChargeRequest{
		IdempotencyKey:    fmt.Sprintf("%s/%s", settlement.ID, pledge.PayerID),
		CredentialToken:   credential.Token,
		AmountCents:       amount,
		PlatformFeeCents:  quote.PlatformFeeCents,
		PayoutDestination: server.PayoutAccountID,
	})
	if err != nil {
		// Declines, gateway errors and timeouts all count as failures,
		// success is never assumed without confirmation.
		if gateway.IsDeclined(err) {
			logger.WithError(err).Warn("charge declined")
		} else {
			logger.WithError(err).Error("charge failed")
		}

		result.Status = StatusFailed
		result.Err = err
		p.recordFailure(ctx, settlement, pledge, amount, err)
		return result
	}

	logger.WithField("net_to_owner", quote.NetToOwnerCents).Debug("charge succeeded")

	if err := p.tracker.RecordSuccess(ctx, pledge.PayerID); err != nil {
		logger.WithError(err).Error("failed to reset payment failure count")
	}

	p.activity.Append(ctx, model.Activity{
		Type:        model.ActivityPaymentProcessed,
		Message:     fmt.Sprintf("monthly pledge payment for %s", server.Name),
		AmountCents: amount,
		PayerID:     pledge.PayerID,
		ServerID:    server.ID,
	})

	result.Status = StatusPaid
	return result
}

func (p *Processor) recordFailure(ctx context.Context, settlement *model.Settlement, pledge *model.Pledge, amount model.Cents, cause error) {
	if err := p.tracker.RecordFailure(ctx, pledge.PayerID); err != nil {
		// Keep going, the batch matters more than one counter update
		log.WithError(err).WithField("payer_id", pledge.PayerID).Error("failed to record payment failure")
	}

	p.activity.Append(ctx, model.Activity{
		Type:        model.ActivityPaymentFailed,
		Message:     fmt.Sprintf("pledge payment failed: %v", cause),
		AmountCents: amount,
		PayerID:     pledge.PayerID,
		ServerID:    settlement.ServerID,
	})
}
