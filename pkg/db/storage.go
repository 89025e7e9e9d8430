package db

import (
	"context"
	"time"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

type Version int

const (
	CurrentVersion = 1
)

type Storage interface {
	Close() error
	Version() (int, error)

	// AddServer inserts or updates a funded server record
	AddServer(ctx context.Context, server *model.Server) error

	// GetServer gets a server by ID
	GetServer(ctx context.Context, serverID string) (*model.Server, error)

	// WalkServers iterates over every server saved to the database
	WalkServers(ctx context.Context, cb func(server *model.Server) error) error

	// AtomicAdjustPledgeCount adjusts a server's active pledge counter by
	// delta. The adjustment is atomic relative to concurrent calls.
	AtomicAdjustPledgeCount(ctx context.Context, serverID string, delta int) error

	// CreatePledge saves a new pledge. Returns model.ErrAlreadyExists if
	// the payer already has a pledge on the server.
	CreatePledge(ctx context.Context, pledge *model.Pledge) error

	// GetActivePledges returns a server's active pledges in creation order
	GetActivePledges(ctx context.Context, serverID string) ([]*model.Pledge, error)

	// WalkPayerPledges iterates over the active pledges of one payer
	// across all servers
	WalkPayerPledges(ctx context.Context, payerID string, cb func(pledge *model.Pledge) error) error

	// DeletePledge removes a pledge record
	DeletePledge(ctx context.Context, serverID, pledgeID string) error

	// CreateSettlement saves a new settlement. Returns
	// model.ErrAlreadyExists if one already exists for the server and
	// period, which backs the one-withdrawal-per-month invariant.
	CreateSettlement(ctx context.Context, settlement *model.Settlement) error

	// FindSettlement looks up the settlement for a server and period
	// ("2006-01"). Returns model.ErrNotFound when there is none.
	FindSettlement(ctx context.Context, serverID, period string) (*model.Settlement, error)

	// UpdateSettlement mutates a settlement through cb
	UpdateSettlement(ctx context.Context, serverID, period string, cb func(settlement *model.Settlement) error) error

	// WalkDueSettlements iterates over pending settlements whose
	// scheduled date is not after now, oldest first
	WalkDueSettlements(ctx context.Context, now time.Time, cb func(settlement *model.Settlement) error) error

	// GetPayerAccount returns the payment failure state for a payer.
	// Payers without a record get a zero-value account.
	GetPayerAccount(ctx context.Context, payerID string) (*model.PayerAccount, error)

	// UpdatePayerAccount upserts a payer account
	UpdatePayerAccount(ctx context.Context, account *model.PayerAccount) error

	// GetCredential returns a payer's payment credential, or
	// model.ErrNotFound if none is on file
	GetCredential(ctx context.Context, payerID string) (*model.Credential, error)

	// SaveCredential upserts a payer's payment credential
	SaveCredential(ctx context.Context, credential *model.Credential) error
}
