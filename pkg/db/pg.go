package db

import (
	"context"
	"time"

	"github.com/go-pg/pg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

// Postgres keeps engine state in PostgreSQL. Unlike the embedded Badger
// backend, uniqueness of settlements per server and month and of pledges per
// payer and server is enforced by constraints in the store itself.
type Postgres struct {
	db *pg.DB
}

var _ Storage = (*Postgres)(nil)

func NewPostgres(config *Config) (*Postgres, error) {
	opts, err := pg.ParseURL(config.ConnectionURL)
	if err != nil {
		return nil, err
	}

	db := pg.Connect(opts)

	// Check database connectivity
	if _, err := db.ExecOne("SELECT 1"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to check database connectivity")
	}

	log.Debug("running update script")
	if _, err := db.Exec(installScript); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to upgrade database structure")
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Version() (int, error) {
	return CurrentVersion, nil
}

func (p *Postgres) AddServer(_ context.Context, server *model.Server) error {
	err := p.db.Insert(server)
	if isIntegrityViolation(err) {
		return p.db.Update(server)
	}

	return errors.Wrap(err, "failed to save server")
}

func (p *Postgres) GetServer(_ context.Context, serverID string) (*model.Server, error) {
	server := &model.Server{}
	err := p.db.Model(server).Where("id = ?", serverID).Select()
	if err == pg.ErrNoRows {
		return nil, model.ErrNotFound
	}

	return server, err
}

func (p *Postgres) WalkServers(_ context.Context, cb func(server *model.Server) error) error {
	var servers []*model.Server
	if err := p.db.Model(&servers).Select(); err != nil {
		return errors.Wrap(err, "failed to query servers")
	}

	for _, server := range servers {
		if err := cb(server); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) AtomicAdjustPledgeCount(_ context.Context, serverID string, delta int) error {
	_, err := p.db.Exec(
		"UPDATE servers SET pledge_count = GREATEST(pledge_count + ?, 0) WHERE id = ?",
		delta, serverID)
	return errors.Wrap(err, "failed to adjust pledge count")
}

func (p *Postgres) CreatePledge(_ context.Context, pledge *model.Pledge) error {
	err := p.db.Insert(pledge)
	if isIntegrityViolation(err) {
		return model.ErrAlreadyExists
	}

	return errors.Wrap(err, "failed to create pledge")
}

func (p *Postgres) GetActivePledges(_ context.Context, serverID string) ([]*model.Pledge, error) {
	var pledges []*model.Pledge
	err := p.db.Model(&pledges).
		Where("server_id = ?", serverID).
		Where("status = ?", model.PledgeActive).
		Order("created_at ASC").
		Order("id ASC").
		Select()

	return pledges, err
}

func (p *Postgres) WalkPayerPledges(_ context.Context, payerID string, cb func(pledge *model.Pledge) error) error {
	var pledges []*model.Pledge
	err := p.db.Model(&pledges).
		Where("payer_id = ?", payerID).
		Where("status = ?", model.PledgeActive).
		Select()
	if err != nil {
		return errors.Wrap(err, "failed to query payer pledges")
	}

	for _, pledge := range pledges {
		if err := cb(pledge); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) DeletePledge(_ context.Context, serverID, pledgeID string) error {
	_, err := p.db.Model(&model.Pledge{}).
		Where("id = ?", pledgeID).
		Where("server_id = ?", serverID).
		Delete()
	return errors.Wrap(err, "failed to delete pledge")
}

func (p *Postgres) CreateSettlement(_ context.Context, settlement *model.Settlement) error {
	err := p.db.Insert(settlement)
	if isIntegrityViolation(err) {
		// Unique (server_id, period) keeps concurrent schedulers from
		// double-billing a month
		return model.ErrAlreadyExists
	}

	return errors.Wrap(err, "failed to create settlement")
}

func (p *Postgres) FindSettlement(_ context.Context, serverID, period string) (*model.Settlement, error) {
	settlement := &model.Settlement{}
	err := p.db.Model(settlement).
		Where("server_id = ?", serverID).
		Where("period = ?", period).
		Select()
	if err == pg.ErrNoRows {
		return nil, model.ErrNotFound
	}

	return settlement, err
}

func (p *Postgres) UpdateSettlement(ctx context.Context, serverID, period string, cb func(settlement *model.Settlement) error) error {
	settlement, err := p.FindSettlement(ctx, serverID, period)
	if err != nil {
		return err
	}

	if err := cb(settlement); err != nil {
		return err
	}

	return errors.Wrap(p.db.Update(settlement), "failed to update settlement")
}

func (p *Postgres) WalkDueSettlements(_ context.Context, now time.Time, cb func(settlement *model.Settlement) error) error {
	var settlements []*model.Settlement
	err := p.db.Model(&settlements).
		Where("status = ?", model.SettlementPending).
		Where("scheduled_date <= ?", now).
		Order("scheduled_date ASC").
		Select()
	if err != nil {
		return errors.Wrap(err, "failed to query due settlements")
	}

	for _, settlement := range settlements {
		if err := cb(settlement); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) GetPayerAccount(_ context.Context, payerID string) (*model.PayerAccount, error) {
	account := &model.PayerAccount{}
	err := p.db.Model(account).Where("id = ?", payerID).Select()
	if err == pg.ErrNoRows {
		// Payers start with a clean record
		return &model.PayerAccount{ID: payerID}, nil
	}

	return account, err
}

func (p *Postgres) UpdatePayerAccount(_ context.Context, account *model.PayerAccount) error {
	err := p.db.Insert(account)
	if isIntegrityViolation(err) {
		return p.db.Update(account)
	}

	return errors.Wrap(err, "failed to save payer account")
}

func (p *Postgres) GetCredential(_ context.Context, payerID string) (*model.Credential, error) {
	credential := &model.Credential{}
	err := p.db.Model(credential).Where("payer_id = ?", payerID).Select()
	if err == pg.ErrNoRows {
		return nil, model.ErrNotFound
	}

	return credential, err
}

func (p *Postgres) SaveCredential(_ context.Context, credential *model.Credential) error {
	err := p.db.Insert(credential)
	if isIntegrityViolation(err) {
		return p.db.Update(credential)
	}

	return errors.Wrap(err, "failed to save credential")
}

func isIntegrityViolation(err error) bool {
	pgErr, ok := err.(pg.Error)
	return ok && pgErr.IntegrityViolation()
}
