package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/dgraph-io/badger/options"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

const (
	versionPath      = "cp/version"
	serverPrefix     = "server/"
	serverPath       = "server/%s"
	pledgePrefix     = "pledge/"
	pledgeServerPath = "pledge/%s/"
	pledgePath       = "pledge/%s/%s" // ServerID + PledgeID
	settlementPrefix = "settlement/"
	settlementPath   = "settlement/%s/%s" // ServerID + Period
	payerPath        = "payer/%s"
	credentialPath   = "credential/%s"
)

// BadgerConfig represents BadgerDB configuration parameters
type BadgerConfig struct {
	Truncate bool `toml:"truncate"`
	FileIO   bool `toml:"file_io"`
}

type Badger struct {
	db *badger.DB
}

var _ Storage = (*Badger)(nil)

func NewBadger(config *Config) (*Badger, error) {
	var (
		dir = config.Dir
	)

	log.Infof("opening database %q", dir)

	// Make sure database directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "could not mkdir database dir")
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(log.StandardLogger()).
		WithTruncate(true)

	if config.Badger != nil {
		opts.Truncate = config.Badger.Truncate
		if config.Badger.FileIO {
			opts.ValueLogLoadingMode = options.FileIO
		}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	storage := &Badger{db: db}

	if err := db.Update(func(txn *badger.Txn) error {
		if err := storage.setObj(txn, []byte(versionPath), CurrentVersion, false); err != nil && err != model.ErrAlreadyExists {
			return err
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to read database version")
	}

	return storage, nil
}

func (b *Badger) Close() error {
	log.Debug("closing database")
	return b.db.Close()
}

func (b *Badger) Version() (int, error) {
	var (
		version = -1
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, []byte(versionPath), &version)
	})

	return version, err
}

func (b *Badger) AddServer(_ context.Context, server *model.Server) error {
	key := b.getKey(serverPath, server.ID)
	return b.db.Update(func(txn *badger.Txn) error {
		return b.setObj(txn, key, server, true)
	})
}

func (b *Badger) GetServer(_ context.Context, serverID string) (*model.Server, error) {
	var (
		server model.Server
		key    = b.getKey(serverPath, serverID)
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &server)
	})

	if err != nil {
		return nil, err
	}

	return &server, nil
}

func (b *Badger) WalkServers(_ context.Context, cb func(server *model.Server) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(serverPrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			server := &model.Server{}
			if err := b.unmarshalObj(item, server); err != nil {
				return err
			}

			return cb(server)
		})
	})
}

func (b *Badger) AtomicAdjustPledgeCount(_ context.Context, serverID string, delta int) error {
	var (
		key    = b.getKey(serverPath, serverID)
		server model.Server
	)

	// Badger serializes Update transactions, so the read-adjust-write
	// below cannot interleave with a concurrent adjustment.
	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.getObj(txn, key, &server); err != nil {
			return err
		}

		server.PledgeCount += delta
		if server.PledgeCount < 0 {
			server.PledgeCount = 0
		}

		return b.setObj(txn, key, &server, true)
	})
}

func (b *Badger) CreatePledge(_ context.Context, pledge *model.Pledge) error {
	key := b.getKey(pledgePath, pledge.ServerID, pledge.ID)
	return b.db.Update(func(txn *badger.Txn) error {
		// One pledge per payer per server
		err := b.walkServerPledges(txn, pledge.ServerID, func(existing *model.Pledge) error {
			if existing.PayerID == pledge.PayerID {
				return model.ErrAlreadyExists
			}
			return nil
		})
		if err != nil {
			return err
		}

		return b.setObj(txn, key, pledge, false)
	})
}

func (b *Badger) GetActivePledges(_ context.Context, serverID string) ([]*model.Pledge, error) {
	var pledges []*model.Pledge

	err := b.db.View(func(txn *badger.Txn) error {
		return b.walkServerPledges(txn, serverID, func(pledge *model.Pledge) error {
			if pledge.Status == model.PledgeActive {
				pledges = append(pledges, pledge)
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	// Charge in enrollment order
	sort.Slice(pledges, func(i, j int) bool {
		if pledges[i].CreatedAt.Equal(pledges[j].CreatedAt) {
			return pledges[i].ID < pledges[j].ID
		}
		return pledges[i].CreatedAt.Before(pledges[j].CreatedAt)
	})

	return pledges, nil
}

func (b *Badger) WalkPayerPledges(_ context.Context, payerID string, cb func(pledge *model.Pledge) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(pledgePrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			pledge := &model.Pledge{}
			if err := b.unmarshalObj(item, pledge); err != nil {
				return err
			}

			if pledge.PayerID != payerID || pledge.Status != model.PledgeActive {
				return nil
			}

			return cb(pledge)
		})
	})
}

func (b *Badger) DeletePledge(_ context.Context, serverID, pledgeID string) error {
	key := b.getKey(pledgePath, serverID, pledgeID)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *Badger) CreateSettlement(_ context.Context, settlement *model.Settlement) error {
	key := b.getKey(settlementPath, settlement.ServerID, settlement.Period)
	return b.db.Update(func(txn *badger.Txn) error {
		return b.setObj(txn, key, settlement, false)
	})
}

func (b *Badger) FindSettlement(_ context.Context, serverID, period string) (*model.Settlement, error) {
	var (
		settlement model.Settlement
		key        = b.getKey(settlementPath, serverID, period)
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &settlement)
	})

	if err != nil {
		return nil, err
	}

	return &settlement, nil
}

func (b *Badger) UpdateSettlement(_ context.Context, serverID, period string, cb func(settlement *model.Settlement) error) error {
	var (
		key        = b.getKey(settlementPath, serverID, period)
		settlement model.Settlement
	)

	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.getObj(txn, key, &settlement); err != nil {
			return err
		}

		if err := cb(&settlement); err != nil {
			return err
		}

		if settlement.ServerID != serverID || settlement.Period != period {
			return errors.New("can't change settlement identity")
		}

		return b.setObj(txn, key, &settlement, true)
	})
}

func (b *Badger) WalkDueSettlements(_ context.Context, now time.Time, cb func(settlement *model.Settlement) error) error {
	var due []*model.Settlement

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.getKey(settlementPrefix)
		opts.PrefetchValues = true
		return b.iterator(txn, opts, func(item *badger.Item) error {
			settlement := &model.Settlement{}
			if err := b.unmarshalObj(item, settlement); err != nil {
				return err
			}

			if settlement.Status == model.SettlementPending && !settlement.ScheduledDate.After(now) {
				due = append(due, settlement)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledDate.Before(due[j].ScheduledDate)
	})

	for _, settlement := range due {
		if err := cb(settlement); err != nil {
			return err
		}
	}

	return nil
}

func (b *Badger) GetPayerAccount(_ context.Context, payerID string) (*model.PayerAccount, error) {
	var (
		account = model.PayerAccount{ID: payerID}
		key     = b.getKey(payerPath, payerID)
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &account)
	})

	if err == model.ErrNotFound {
		// Payers start with a clean record
		return &model.PayerAccount{ID: payerID}, nil
	}

	if err != nil {
		return nil, err
	}

	return &account, nil
}

func (b *Badger) UpdatePayerAccount(_ context.Context, account *model.PayerAccount) error {
	key := b.getKey(payerPath, account.ID)
	return b.db.Update(func(txn *badger.Txn) error {
		return b.setObj(txn, key, account, true)
	})
}

func (b *Badger) GetCredential(_ context.Context, payerID string) (*model.Credential, error) {
	var (
		credential model.Credential
		key        = b.getKey(credentialPath, payerID)
	)

	err := b.db.View(func(txn *badger.Txn) error {
		return b.getObj(txn, key, &credential)
	})

	if err != nil {
		return nil, err
	}

	return &credential, nil
}

func (b *Badger) SaveCredential(_ context.Context, credential *model.Credential) error {
	key := b.getKey(credentialPath, credential.PayerID)
	return b.db.Update(func(txn *badger.Txn) error {
		return b.setObj(txn, key, credential, true)
	})
}

func (b *Badger) walkServerPledges(txn *badger.Txn, serverID string, cb func(pledge *model.Pledge) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = b.getKey(pledgeServerPath, serverID)
	opts.PrefetchValues = true
	return b.iterator(txn, opts, func(item *badger.Item) error {
		pledge := &model.Pledge{}
		if err := b.unmarshalObj(item, pledge); err != nil {
			return err
		}

		return cb(pledge)
	})
}

func (b *Badger) iterator(txn *badger.Txn, opts badger.IteratorOptions, callback func(item *badger.Item) error) error {
	iter := txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()

		if err := callback(item); err != nil {
			return err
		}
	}

	return nil
}

func (b *Badger) getKey(format string, a ...interface{}) []byte {
	resourcePath := fmt.Sprintf(format, a...)
	fullPath := fmt.Sprintf("cp/v%d/%s", CurrentVersion, resourcePath)

	return []byte(fullPath)
}

func (b *Badger) setObj(txn *badger.Txn, key []byte, obj interface{}, overwrite bool) error {
	if !overwrite {
		// Overwrites are not allowed, make sure there is no object with the given key
		_, err := txn.Get(key)
		if err == nil {
			return model.ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return errors.Wrap(err, "failed to check whether key exists")
		}
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize object for key %q", key)
	}

	return txn.Set(key, data)
}

func (b *Badger) getObj(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return model.ErrNotFound
		}

		return err
	}

	return b.unmarshalObj(item, out)
}

func (b *Badger) unmarshalObj(item *badger.Item, out interface{}) error {
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}
