package config

import (
	"fmt"
)

// authorization settings for the submission surface
type authConfig struct {
	// distinguished names permitted to submit transfers
	AllowedDns []string `yaml:"allowed_dns"`
	// optional file with one allowed DN per line ('#' comments permitted);
	// entries are merged with allowed_dns
	AllowedDnFile string `yaml:"allowed_dn_file"`
}

// This helper validates the assembled authorization parameters (after any DN
// file has been merged in), returning an error indicating success or failure.
func validateAuthParameters(params authConfig) error {
	if len(params.AllowedDns) == 0 {
		return fmt.Errorf("No allowed submitter DNs were provided!")
	}
	for _, dn := range params.AllowedDns {
		if dn == "" {
			return fmt.Errorf("Blank DN in allowed_dns!")
		}
	}
	return nil
}
