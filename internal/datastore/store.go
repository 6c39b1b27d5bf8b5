package datastore

// Config holds datastore configuration.
type Config struct {
	SQLitePath string
}

// NewStore opens the SQLite-backed store described by config.
func NewStore(config *Config) (Store, error) {
	return NewSQLiteStore(config.SQLitePath)
}
