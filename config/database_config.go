package config

import (
	"fmt"
)

// The database holds the transfers table, the source of truth for every
// transfer's lifecycle.
type databaseConfig struct {
	// path to the SQLite database file (created if absent)
	File string `yaml:"file"`
}

// This helper validates the given database parameters, returning an error
// indicating success or failure.
func validateDatabaseParameters(params databaseConfig) error {
	if params.File == "" {
		return fmt.Errorf("No database file was provided!")
	}
	return nil
}
