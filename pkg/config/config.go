package config

import (
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/gateway"
)

const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Billing configures the periodic withdrawal sweep
type Billing struct {
	// Schedule is a cron expression for how often to run the sweep.
	// The sweep is idempotent, running it more often than daily is safe.
	Schedule string `toml:"schedule"`
	// Workers bounds how many servers are billed concurrently
	Workers int `toml:"workers"`
}

type Config struct {
	// Store selects and configures the storage backend
	Store db.Config `toml:"store"`
	// Gateway configures the payment processor client
	Gateway gateway.Config `toml:"gateway"`
	// Activity configures the activity feed sink
	Activity activity.Config `toml:"activity"`
	// Billing configures the withdrawal sweep
	Billing Billing `toml:"billing"`
}

// LoadConfig loads TOML configuration from a file path
func LoadConfig(path string) (*Config, error) {
	config := Config{}
	_, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config file")
	}

	config.applyDefaults(path)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	var result *multierror.Error

	switch c.Store.Type {
	case StoreBadger:
		if c.Store.Dir == "" {
			result = multierror.Append(result, errors.New("store directory is required"))
		}
	case StorePostgres:
		if c.Store.ConnectionURL == "" {
			result = multierror.Append(result, errors.New("postgres connection URL is required"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown store type %q", c.Store.Type))
	}

	if c.Gateway.URL == "" {
		result = multierror.Append(result, errors.New("gateway URL is required"))
	}

	if c.Gateway.SecretKey == "" {
		result = multierror.Append(result, errors.New("gateway secret key is required"))
	}

	return result.ErrorOrNil()
}

func (c *Config) applyDefaults(configPath string) {
	if c.Store.Type == "" {
		c.Store.Type = StoreBadger
	}

	if c.Store.Type == StoreBadger && c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(filepath.Dir(configPath), "db")
	}

	if c.Billing.Schedule == "" {
		c.Billing.Schedule = "@daily"
	}

	if c.Billing.Workers == 0 {
		c.Billing.Workers = 4
	}
}
