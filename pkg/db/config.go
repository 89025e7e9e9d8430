package db

type Config struct {
	// Type selects the storage backend, either "badger" or "postgres"
	Type string `toml:"type"`
	// Dir is a directory to keep Badger database files
	Dir string `toml:"dir"`
	// ConnectionURL is a Postgres connection string
	ConnectionURL string `toml:"connection_url"`
	// Badger holds BadgerDB tuning parameters
	Badger *BadgerConfig `toml:"badger"`
}
