// Package billing implements the monthly withdrawal cycle: scheduling one
// settlement per funded server per month and charging each pledger their
// allocated share through the payment gateway.
package billing

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/allocator"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/id"
	"github.com/anthev-stack/communitypledges/pkg/model"
)

// Scheduler decides when each server's withdrawal runs and makes sure there
// is exactly one pending settlement per server per billing month. It is
// safe to invoke repeatedly, typically from a daily sweep.
type Scheduler struct {
	db  db.Storage
	gen id.Gen
	now func() time.Time
}

func NewScheduler(storage db.Storage, gen id.Gen) *Scheduler {
	return &Scheduler{
		db:  storage,
		gen: gen,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NextBillingDate returns when the next withdrawal for a server should be
// settled: two days ahead of the next due date, so the owner has the funds
// before the hosting bill hits.
func NextBillingDate(now time.Time, billingDay int) time.Time {
	due := dueDate(now.Year(), now.Month(), billingDay)
	if due.Before(startOfDay(now)) {
		due = dueDate(now.Year(), now.Month()+1, billingDay)
	}

	return due.Add(-model.SettlementLead)
}

// EnsureScheduled creates the pending settlement for the server's next
// billing month if one does not exist yet. Paused servers and servers
// without active pledges are skipped. Returns nil when nothing was created.
func (s *Scheduler) EnsureScheduled(ctx context.Context, server *model.Server) (*model.Settlement, error) {
	if !server.IsActive {
		log.WithField("server_id", server.ID).Debug("skipping paused server")
		return nil, nil
	}

	now := s.now()
	scheduled := NextBillingDate(now, server.BillingDay)
	period := scheduled.Add(model.SettlementLead).Format("2006-01")

	_, err := s.db.FindSettlement(ctx, server.ID, period)
	if err == nil {
		// Already scheduled for this cycle
		return nil, nil
	}
	if err != model.ErrNotFound {
		return nil, errors.Wrapf(err, "failed to look up settlement for server %q", server.ID)
	}

	pledges, err := s.db.GetActivePledges(ctx, server.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load pledges for server %q", server.ID)
	}

	if len(pledges) == 0 {
		return nil, nil
	}

	res := allocator.Allocate(pledgeCaps(pledges), server.MonthlyCostCents, server.MinCharge())
	logAnomaly(&res, server.ID)

	var requested model.Cents
	for _, charge := range res.Charges {
		requested += charge
	}

	settlementID, err := s.gen.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate settlement id")
	}

	settlement := &model.Settlement{
		ID:             settlementID,
		ServerID:       server.ID,
		Period:         period,
		ScheduledDate:  scheduled,
		Status:         model.SettlementPending,
		RequestedCents: requested,
		CreatedAt:      now,
	}

	if err := s.db.CreateSettlement(ctx, settlement); err != nil {
		if err == model.ErrAlreadyExists {
			// Lost a race against another scheduler run, not an error
			log.WithFields(log.Fields{
				"server_id": server.ID,
				"period":    period,
			}).Debug("settlement already scheduled")
			return nil, nil
		}

		return nil, errors.Wrapf(err, "failed to create settlement for server %q", server.ID)
	}

	log.WithFields(log.Fields{
		"server_id":     server.ID,
		"settlement_id": settlement.ID,
		"period":        period,
		"scheduled":     scheduled.Format("2006-01-02"),
		"requested":     requested,
	}).Info("settlement scheduled")

	return settlement, nil
}

func dueDate(year int, month time.Month, billingDay int) time.Time {
	day := billingDay
	if last := daysIn(year, month); day > last {
		// Billing day past the end of a short month lands on its last day
		day = last
	}

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func pledgeCaps(pledges []*model.Pledge) []model.Cents {
	caps := make([]model.Cents, len(pledges))
	for i, pledge := range pledges {
		caps[i] = pledge.AmountCents
	}

	return caps
}

// logAnomaly surfaces the unreachable over-reduction case loudly instead of
// letting the forced-to-floor fallback mask it.
func logAnomaly(res *allocator.Result, serverID string) {
	if !res.Anomaly {
		return
	}

	log.WithFields(log.Fields{
		"server_id": serverID,
		"shortfall": res.ShortfallCents,
	}).Error("allocation anomaly: excess exceeds reducible headroom, data is inconsistent")
}
