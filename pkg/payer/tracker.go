// Package payer owns the payment failure state machine. All mutations of a
// payer's failure count and suspension flags go through Tracker so the
// at-most-N-failures invariant holds in one place.
package payer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/model"
)

type Tracker struct {
	db       db.Storage
	activity activity.Log
}

func NewTracker(storage db.Storage, activityLog activity.Log) *Tracker {
	return &Tracker{db: storage, activity: activityLog}
}

// RecordFailure counts one more consecutive charge failure. Reaching
// model.MaxPaymentFailures suspends the payer and removes every active
// pledge they hold. Failures on an already suspended account are no-ops.
func (t *Tracker) RecordFailure(ctx context.Context, payerID string) error {
	account, err := t.db.GetPayerAccount(ctx, payerID)
	if err != nil {
		return errors.Wrapf(err, "failed to load payer account %q", payerID)
	}

	if account.IsPaymentSuspended {
		log.WithField("payer_id", payerID).Debug("ignoring failure for suspended payer")
		return nil
	}

	account.FailureCount++
	account.LastPaymentFailure = time.Now().UTC()

	log.WithFields(log.Fields{
		"payer_id": payerID,
		"failures": account.FailureCount,
	}).Warn("payment failure recorded")

	if account.FailureCount >= model.MaxPaymentFailures {
		return t.suspend(ctx, account)
	}

	return t.db.UpdatePayerAccount(ctx, account)
}

// RecordSuccess resets the consecutive failure counter after a charge goes
// through.
func (t *Tracker) RecordSuccess(ctx context.Context, payerID string) error {
	account, err := t.db.GetPayerAccount(ctx, payerID)
	if err != nil {
		return errors.Wrapf(err, "failed to load payer account %q", payerID)
	}

	if account.IsPaymentSuspended {
		return nil
	}

	if account.FailureCount == 0 && account.LastPaymentFailure.IsZero() {
		return nil
	}

	account.FailureCount = 0
	account.LastPaymentFailure = time.Time{}

	return t.db.UpdatePayerAccount(ctx, account)
}

func (t *Tracker) suspend(ctx context.Context, account *model.PayerAccount) error {
	account.IsPaymentSuspended = true
	account.PaymentSuspendedAt = time.Now().UTC()

	if err := t.db.UpdatePayerAccount(ctx, account); err != nil {
		return errors.Wrapf(err, "failed to suspend payer %q", account.ID)
	}

	log.WithField("payer_id", account.ID).Warn("payer suspended after repeated payment failures")

	// Collect first, the walk holds a read transaction
	var pledges []*model.Pledge
	err := t.db.WalkPayerPledges(ctx, account.ID, func(pledge *model.Pledge) error {
		pledges = append(pledges, pledge)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to list pledges of payer %q", account.ID)
	}

	for _, pledge := range pledges {
		if err := t.db.DeletePledge(ctx, pledge.ServerID, pledge.ID); err != nil {
			return errors.Wrapf(err, "failed to remove pledge %q", pledge.ID)
		}

		if err := t.db.AtomicAdjustPledgeCount(ctx, pledge.ServerID, -1); err != nil {
			return errors.Wrapf(err, "failed to decrement pledge count for server %q", pledge.ServerID)
		}

		t.activity.Append(ctx, model.Activity{
			Type:        model.ActivityUnpledged,
			Message:     "pledge removed due to payment suspension",
			AmountCents: pledge.AmountCents,
			PayerID:     account.ID,
			ServerID:    pledge.ServerID,
		})
	}

	t.activity.Append(ctx, model.Activity{
		Type:    model.ActivitySuspended,
		Message: fmt.Sprintf("account suspended after %d consecutive payment failures", model.MaxPaymentFailures),
		PayerID: account.ID,
	})

	return nil
}
