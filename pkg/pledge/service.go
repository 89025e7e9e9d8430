// Package pledge handles enrollment and voluntary withdrawal of pledges.
package pledge

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/allocator"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/id"
	"github.com/anthev-stack/communitypledges/pkg/model"
)

type Service struct {
	db       db.Storage
	activity activity.Log
	gen      id.Gen
}

func NewService(storage db.Storage, activityLog activity.Log, gen id.Gen) *Service {
	return &Service{
		db:       storage,
		activity: activityLog,
		gen:      gen,
	}
}

// Create enrolls a payer on a server with the given monthly cap.
func (s *Service) Create(ctx context.Context, payerID, serverID string, amountCents model.Cents) (*model.Pledge, error) {
	server, err := s.db.GetServer(ctx, serverID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load server %q", serverID)
	}

	if !server.IsActive {
		return nil, model.ErrServerInactive
	}

	account, err := s.db.GetPayerAccount(ctx, payerID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load payer account %q", payerID)
	}

	if account.IsPaymentSuspended {
		return nil, model.ErrPaymentSuspended
	}

	// Payers below the server minimum are never admitted, otherwise the
	// floor guarantee of the allocation could not hold.
	if amountCents < server.MinCharge() {
		return nil, model.ErrBelowMinimum
	}

	if !allocator.Admits(server.PledgeCount, server.MonthlyCostCents, server.MinCharge()) {
		return nil, model.ErrServerFull
	}

	pledgeID, err := s.gen.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate pledge id")
	}

	pledge := &model.Pledge{
		ID:          pledgeID,
		PayerID:     payerID,
		ServerID:    serverID,
		AmountCents: amountCents,
		Status:      model.PledgeActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.db.CreatePledge(ctx, pledge); err != nil {
		if err == model.ErrAlreadyExists {
			return nil, model.ErrPledgeExists
		}

		return nil, errors.Wrap(err, "failed to save pledge")
	}

	if err := s.db.AtomicAdjustPledgeCount(ctx, serverID, 1); err != nil {
		return nil, errors.Wrapf(err, "failed to increment pledge count for server %q", serverID)
	}

	log.WithFields(log.Fields{
		"payer_id":  payerID,
		"server_id": serverID,
		"amount":    amountCents,
	}).Info("pledge created")

	s.activity.Append(ctx, model.Activity{
		Type:        model.ActivityPledged,
		Message:     fmt.Sprintf("pledged to %s", server.Name),
		AmountCents: amountCents,
		PayerID:     payerID,
		ServerID:    serverID,
	})

	return pledge, nil
}

// Remove withdraws a payer's pledge from a server.
func (s *Service) Remove(ctx context.Context, payerID, serverID string) error {
	var found *model.Pledge
	err := s.db.WalkPayerPledges(ctx, payerID, func(pledge *model.Pledge) error {
		if pledge.ServerID == serverID {
			found = pledge
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to list pledges of payer %q", payerID)
	}

	if found == nil {
		return model.ErrNotFound
	}

	if err := s.db.DeletePledge(ctx, serverID, found.ID); err != nil {
		return errors.Wrapf(err, "failed to delete pledge %q", found.ID)
	}

	if err := s.db.AtomicAdjustPledgeCount(ctx, serverID, -1); err != nil {
		return errors.Wrapf(err, "failed to decrement pledge count for server %q", serverID)
	}

	s.activity.Append(ctx, model.Activity{
		Type:        model.ActivityUnpledged,
		Message:     "withdrew pledge",
		AmountCents: found.AmountCents,
		PayerID:     payerID,
		ServerID:    serverID,
	})

	return nil
}

// PayerCharge is one payer's projected charge for the upcoming cycle.
type PayerCharge struct {
	PayerID     string
	CapCents    model.Cents
	ChargeCents model.Cents
}

// Projection is the live view of a server's funding shown to members.
type Projection struct {
	Charges             []PayerCharge
	AcceptingNewPledges bool
	ShortfallCents      model.Cents
}

// Preview computes what each payer would be charged if the settlement ran
// now. It goes through the same allocation as billing, so the projected
// numbers match what eventually gets charged.
func (s *Service) Preview(ctx context.Context, serverID string) (*Projection, error) {
	server, err := s.db.GetServer(ctx, serverID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load server %q", serverID)
	}

	pledges, err := s.db.GetActivePledges(ctx, serverID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load pledges for server %q", serverID)
	}

	caps := make([]model.Cents, len(pledges))
	for i, pledge := range pledges {
		caps[i] = pledge.AmountCents
	}

	res := allocator.Allocate(caps, server.MonthlyCostCents, server.MinCharge())

	projection := &Projection{
		AcceptingNewPledges: res.AcceptingNewPledges,
		ShortfallCents:      res.ShortfallCents,
	}

	for i, pledge := range pledges {
		projection.Charges = append(projection.Charges, PayerCharge{
			PayerID:     pledge.PayerID,
			CapCents:    pledge.AmountCents,
			ChargeCents: res.Charges[i],
		})
	}

	return projection, nil
}
