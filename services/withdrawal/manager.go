// Package withdrawal drives the monthly billing cycle across all servers.
// It is meant to be invoked periodically (normally once a day) and is safe
// to re-run: scheduling is idempotent and charges carry idempotency keys.
package withdrawal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/billing"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/gateway"
	"github.com/anthev-stack/communitypledges/pkg/id"
	"github.com/anthev-stack/communitypledges/pkg/model"
	"github.com/anthev-stack/communitypledges/pkg/payer"
)

const defaultWorkers = 4

type Manager struct {
	db        db.Storage
	scheduler *billing.Scheduler
	processor *billing.Processor
	workers   int
}

func NewManager(
	storage db.Storage,
	gw gateway.Gateway,
	activityLog activity.Log,
	gen id.Gen,
	workers int,
) *Manager {
	if workers <= 0 {
		workers = defaultWorkers
	}

	tracker := payer.NewTracker(storage, activityLog)

	return &Manager{
		db:        storage,
		scheduler: billing.NewScheduler(storage, gen),
		processor: billing.NewProcessor(storage, gw, activityLog, tracker),
		workers:   workers,
	}
}

// Sweep schedules this cycle's settlements and processes everything that is
// due. A failure on one server is logged and does not stop the others,
// store-level errors propagate so the next scheduled run retries the job.
func (m *Manager) Sweep(ctx context.Context) error {
	log.Info("-> starting billing sweep")
	started := time.Now()

	var servers []*model.Server
	err := m.db.WalkServers(ctx, func(server *model.Server) error {
		servers = append(servers, server)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to list servers")
	}

	// Servers are independent, schedule them concurrently
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.workers)
	for _, server := range servers {
		server := server
		group.Go(func() error {
			if _, err := m.scheduler.EnsureScheduled(groupCtx, server); err != nil {
				log.WithError(err).WithField("server_id", server.ID).Error("failed to schedule settlement")
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Settlements of one server stay serialized relative to each other,
	// so due work is grouped per server before fanning out.
	due := map[string][]*model.Settlement{}
	err = m.db.WalkDueSettlements(ctx, time.Now().UTC(), func(settlement *model.Settlement) error {
		due[settlement.ServerID] = append(due[settlement.ServerID], settlement)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to list due settlements")
	}

	group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(m.workers)
	for serverID, settlements := range due {
		serverID, settlements := serverID, settlements
		group.Go(func() error {
			m.processServer(groupCtx, serverID, settlements)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	log.Infof("billing sweep finished in %s, %d server(s), %d due settlement(s)",
		time.Since(started), len(servers), len(due))
	return nil
}

func (m *Manager) processServer(ctx context.Context, serverID string, settlements []*model.Settlement) {
	server, err := m.db.GetServer(ctx, serverID)
	if err != nil {
		log.WithError(err).WithField("server_id", serverID).Error("failed to load server for settlement")
		return
	}

	if !server.IsActive {
		// Paused servers keep their pending settlements until unpaused
		log.WithField("server_id", serverID).Debug("skipping settlements of paused server")
		return
	}

	for _, settlement := range settlements {
		if _, err := m.processor.Process(ctx, settlement); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"server_id":     serverID,
				"settlement_id": settlement.ID,
			}).Error("failed to process settlement")
			return
		}
	}
}
