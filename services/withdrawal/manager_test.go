package withdrawal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/billing"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/gateway"
	"github.com/anthev-stack/communitypledges/pkg/id"
	"github.com/anthev-stack/communitypledges/pkg/model"
)

var testCtx = context.TODO()

func TestManager_Sweep(t *testing.T) {
	storage := createStorage(t)
	gw := &fakeGateway{}
	manager := createManager(t, storage, gw)

	server := seedServer(t, storage, "srv-1", true)
	seedPledge(t, storage, "srv-1", "p1", "payer-1", 3000)
	seedPledge(t, storage, "srv-1", "p2", "payer-2", 2000)
	seedCredential(t, storage, "payer-1")
	seedCredential(t, storage, "payer-2")

	// A settlement left over from a run the daemon missed
	overdue := &model.Settlement{
		ID:             "wd-1",
		ServerID:       "srv-1",
		Period:         "2026-08",
		ScheduledDate:  time.Now().UTC().Add(-24 * time.Hour),
		Status:         model.SettlementPending,
		RequestedCents: 4000,
	}
	require.NoError(t, storage.CreateSettlement(testCtx, overdue))

	require.NoError(t, manager.Sweep(testCtx))

	// Overdue settlement got charged and closed out
	actual, err := storage.FindSettlement(testCtx, "srv-1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementCompleted, actual.Status)
	assert.Equal(t, model.Cents(4000), actual.ActualCents)

	var overdueCharges int
	for _, charge := range gw.charges {
		if strings.HasPrefix(charge.IdempotencyKey, "wd-1/") {
			overdueCharges++
		}
	}
	assert.Equal(t, 2, overdueCharges)

	// The upcoming cycle got scheduled as well
	period := billing.NextBillingDate(time.Now().UTC(), server.BillingDay).Format("2006-01")
	upcoming, err := storage.FindSettlement(testCtx, "srv-1", period)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(4000), upcoming.RequestedCents)
}

func TestManager_SweepIsIdempotent(t *testing.T) {
	storage := createStorage(t)
	gw := &fakeGateway{}
	manager := createManager(t, storage, gw)

	seedServer(t, storage, "srv-1", true)
	seedPledge(t, storage, "srv-1", "p1", "payer-1", 3000)
	seedCredential(t, storage, "payer-1")

	require.NoError(t, manager.Sweep(testCtx))
	require.NoError(t, manager.Sweep(testCtx))

	var pending int
	err := storage.WalkDueSettlements(testCtx, time.Now().UTC().Add(60*24*time.Hour), func(settlement *model.Settlement) error {
		if settlement.Status == model.SettlementPending {
			pending++
		}
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, pending, 1)
}

func TestManager_SweepKeepsPausedServerSettlements(t *testing.T) {
	storage := createStorage(t)
	gw := &fakeGateway{}
	manager := createManager(t, storage, gw)

	seedServer(t, storage, "srv-1", false)
	seedPledge(t, storage, "srv-1", "p1", "payer-1", 3000)
	seedCredential(t, storage, "payer-1")

	overdue := &model.Settlement{
		ID:             "wd-1",
		ServerID:       "srv-1",
		Period:         "2026-08",
		ScheduledDate:  time.Now().UTC().Add(-24 * time.Hour),
		Status:         model.SettlementPending,
		RequestedCents: 3000,
	}
	require.NoError(t, storage.CreateSettlement(testCtx, overdue))

	require.NoError(t, manager.Sweep(testCtx))

	// Paused servers hold their settlements until unpaused
	actual, err := storage.FindSettlement(testCtx, "srv-1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, actual.Status)
	assert.Empty(t, gw.charges)
}

func createManager(t *testing.T, storage db.Storage, gw gateway.Gateway) *Manager {
	gen, err := id.NewGen()
	require.NoError(t, err)

	return NewManager(storage, gw, activity.LogSink{}, gen, 2)
}

func createStorage(t *testing.T) db.Storage {
	storage, err := db.NewBadger(&db.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func seedServer(t *testing.T, storage db.Storage, id string, active bool) *model.Server {
	server := &model.Server{
		ID:               id,
		OwnerID:          "owner-1",
		Name:             "community craft",
		MonthlyCostCents: 4000,
		BillingDay:       15,
		MinChargeCents:   model.DefaultMinChargeCents,
		IsActive:         active,
		PayoutAccountID:  "acct_1",
	}

	require.NoError(t, storage.AddServer(testCtx, server))
	return server
}

func seedPledge(t *testing.T, storage db.Storage, serverID, id, payerID string, amount model.Cents) {
	err := storage.CreatePledge(testCtx, &model.Pledge{
		ID:          id,
		PayerID:     payerID,
		ServerID:    serverID,
		AmountCents: amount,
		Status:      model.PledgeActive,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, storage.AtomicAdjustPledgeCount(testCtx, serverID, 1))
}

func seedCredential(t *testing.T, storage db.Storage, payerID string) {
	require.NoError(t, storage.SaveCredential(testCtx, &model.Credential{
		PayerID: payerID,
		Token:   "tok_" + payerID,
	}))
}

type fakeGateway struct {
	mu      sync.Mutex
	charges []gateway.ChargeRequest
}

func (f *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.charges = append(f.charges, req)
	return &gateway.ChargeResult{TransactionID: "tx_" + req.IdempotencyKey}, nil
}
