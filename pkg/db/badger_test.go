package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

var testCtx = context.TODO()

func TestNewBadger(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadger(&Config{Dir: dir})
	require.NoError(t, err)

	err = db.Close()
	assert.NoError(t, err)
}

func TestBadger_Version(t *testing.T) {
	db := createBadger(t)

	ver, err := db.Version()
	assert.NoError(t, err)
	assert.Equal(t, CurrentVersion, ver)
}

func TestBadger_AddGetServer(t *testing.T) {
	db := createBadger(t)

	server := getServer()
	err := db.AddServer(testCtx, server)
	require.NoError(t, err)

	actual, err := db.GetServer(testCtx, server.ID)
	assert.NoError(t, err)
	assert.Equal(t, server, actual)

	_, err = db.GetServer(testCtx, "nope")
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_WalkServers(t *testing.T) {
	db := createBadger(t)

	server := getServer()
	require.NoError(t, db.AddServer(testCtx, server))

	called := 0
	err := db.WalkServers(testCtx, func(actual *model.Server) error {
		assert.Equal(t, server, actual)
		called++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestBadger_AtomicAdjustPledgeCount(t *testing.T) {
	db := createBadger(t)

	server := getServer()
	require.NoError(t, db.AddServer(testCtx, server))

	require.NoError(t, db.AtomicAdjustPledgeCount(testCtx, server.ID, 1))
	require.NoError(t, db.AtomicAdjustPledgeCount(testCtx, server.ID, 1))
	require.NoError(t, db.AtomicAdjustPledgeCount(testCtx, server.ID, -1))

	actual, err := db.GetServer(testCtx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, actual.PledgeCount)

	// Never drops below zero
	require.NoError(t, db.AtomicAdjustPledgeCount(testCtx, server.ID, -5))
	actual, err = db.GetServer(testCtx, server.ID)
	require.NoError(t, err)
	assert.Zero(t, actual.PledgeCount)
}

func TestBadger_CreatePledge(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("p1", "payer-1", 1000)
	require.NoError(t, db.CreatePledge(testCtx, pledge))

	// Same payer can't pledge twice to one server
	dup := getPledge("p2", "payer-1", 500)
	err := db.CreatePledge(testCtx, dup)
	assert.Equal(t, model.ErrAlreadyExists, err)
}

func TestBadger_GetActivePledges(t *testing.T) {
	db := createBadger(t)

	first := getPledge("p1", "payer-1", 1000)
	first.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := getPledge("p2", "payer-2", 2000)
	second.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// Insert newest first to make sure ordering comes from CreatedAt
	require.NoError(t, db.CreatePledge(testCtx, second))
	require.NoError(t, db.CreatePledge(testCtx, first))

	pledges, err := db.GetActivePledges(testCtx, "srv-1")
	require.NoError(t, err)
	require.Len(t, pledges, 2)
	assert.Equal(t, "payer-1", pledges[0].PayerID)
	assert.Equal(t, "payer-2", pledges[1].PayerID)
}

func TestBadger_DeletePledge(t *testing.T) {
	db := createBadger(t)

	pledge := getPledge("p1", "payer-1", 1000)
	require.NoError(t, db.CreatePledge(testCtx, pledge))
	require.NoError(t, db.DeletePledge(testCtx, pledge.ServerID, pledge.ID))

	pledges, err := db.GetActivePledges(testCtx, pledge.ServerID)
	require.NoError(t, err)
	assert.Empty(t, pledges)
}

func TestBadger_WalkPayerPledges(t *testing.T) {
	db := createBadger(t)

	mine := getPledge("p1", "payer-1", 1000)
	other := getPledge("p2", "payer-2", 2000)
	require.NoError(t, db.CreatePledge(testCtx, mine))
	require.NoError(t, db.CreatePledge(testCtx, other))

	var ids []string
	err := db.WalkPayerPledges(testCtx, "payer-1", func(pledge *model.Pledge) error {
		ids = append(ids, pledge.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}

func TestBadger_CreateSettlement(t *testing.T) {
	db := createBadger(t)

	settlement := getSettlement()
	require.NoError(t, db.CreateSettlement(testCtx, settlement))

	// One settlement per server per month
	err := db.CreateSettlement(testCtx, &model.Settlement{
		ID:       "other",
		ServerID: settlement.ServerID,
		Period:   settlement.Period,
	})
	assert.Equal(t, model.ErrAlreadyExists, err)
}

func TestBadger_FindSettlement(t *testing.T) {
	db := createBadger(t)

	settlement := getSettlement()
	require.NoError(t, db.CreateSettlement(testCtx, settlement))

	actual, err := db.FindSettlement(testCtx, settlement.ServerID, settlement.Period)
	require.NoError(t, err)
	assert.Equal(t, settlement, actual)

	_, err = db.FindSettlement(testCtx, settlement.ServerID, "2099-01")
	assert.Equal(t, model.ErrNotFound, err)
}

func TestBadger_UpdateSettlement(t *testing.T) {
	db := createBadger(t)

	settlement := getSettlement()
	require.NoError(t, db.CreateSettlement(testCtx, settlement))

	err := db.UpdateSettlement(testCtx, settlement.ServerID, settlement.Period, func(s *model.Settlement) error {
		s.Status = model.SettlementCompleted
		s.ActualCents = 1234
		return nil
	})
	require.NoError(t, err)

	actual, err := db.FindSettlement(testCtx, settlement.ServerID, settlement.Period)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementCompleted, actual.Status)
	assert.Equal(t, model.Cents(1234), actual.ActualCents)
}

func TestBadger_WalkDueSettlements(t *testing.T) {
	db := createBadger(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	due := getSettlement()
	due.ScheduledDate = now.Add(-time.Hour)

	future := getSettlement()
	future.ID = "wd-2"
	future.Period = "2026-10"
	future.ScheduledDate = now.Add(24 * time.Hour)

	require.NoError(t, db.CreateSettlement(testCtx, due))
	require.NoError(t, db.CreateSettlement(testCtx, future))

	var ids []string
	err := db.WalkDueSettlements(testCtx, now, func(settlement *model.Settlement) error {
		ids = append(ids, settlement.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{due.ID}, ids)
}

func TestBadger_PayerAccountDefaults(t *testing.T) {
	db := createBadger(t)

	account, err := db.GetPayerAccount(testCtx, "payer-1")
	require.NoError(t, err)
	assert.Equal(t, "payer-1", account.ID)
	assert.Zero(t, account.FailureCount)
	assert.False(t, account.IsPaymentSuspended)

	account.FailureCount = 2
	require.NoError(t, db.UpdatePayerAccount(testCtx, account))

	actual, err := db.GetPayerAccount(testCtx, "payer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, actual.FailureCount)
}

func TestBadger_Credentials(t *testing.T) {
	db := createBadger(t)

	_, err := db.GetCredential(testCtx, "payer-1")
	assert.Equal(t, model.ErrNotFound, err)

	credential := &model.Credential{PayerID: "payer-1", Token: "tok_123"}
	require.NoError(t, db.SaveCredential(testCtx, credential))

	actual, err := db.GetCredential(testCtx, "payer-1")
	require.NoError(t, err)
	assert.Equal(t, credential, actual)
}

func createBadger(t *testing.T) *Badger {
	db, err := NewBadger(&Config{Dir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func getServer() *model.Server {
	return &model.Server{
		ID:               "srv-1",
		OwnerID:          "owner-1",
		Name:             "test server",
		MonthlyCostCents: 4000,
		BillingDay:       15,
		MinChargeCents:   model.DefaultMinChargeCents,
		IsActive:         true,
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func getPledge(id, payerID string, amount model.Cents) *model.Pledge {
	return &model.Pledge{
		ID:          id,
		PayerID:     payerID,
		ServerID:    "srv-1",
		AmountCents: amount,
		Status:      model.PledgeActive,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func getSettlement() *model.Settlement {
	return &model.Settlement{
		ID:             "wd-1",
		ServerID:       "srv-1",
		Period:         "2026-09",
		ScheduledDate:  time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
		Status:         model.SettlementPending,
		RequestedCents: 4000,
		CreatedAt:      time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}
