package config

import (
	"fmt"
	"net/url"

	"github.com/fernet/fernet-go"
)

// configuration for the staging stage and its external stager service
type stagingConfig struct {
	// URI of the stager's submission endpoint
	Uri string `yaml:"uri"`
	// maximum number of transfers staging at once
	ConcurrentMax int `yaml:"concurrent_max"`
	// client certificate and key presented to the stager
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	// distinguished name the stager presents on its completion callback
	Dn string `yaml:"dn"`
	// optional fernet key; when set, staging dispatches carry an authcode
	// that the completion callback must return
	CallbackKey string `yaml:"callback_key"`
	// lifetime of an authcode in seconds
	CallbackTtl int `yaml:"callback_ttl"`
}

// configuration for the prepare stage and the transfer-host agent
type prepareConfig struct {
	// port on which each transfer host's agent listens
	AgentPort int `yaml:"agent_port"`
	// maximum number of transfers preparing at once
	ConcurrentMax int `yaml:"concurrent_max"`
	// client certificate and key presented to the agent
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	// distinguished name the agent presents on its completion callback
	Dn string `yaml:"dn"`
}

// configuration for the FTS bulk-transfer backend
type ftsConfig struct {
	// base URL of the FTS REST server
	Server string `yaml:"server"`
	// seconds between polls of active FTS jobs
	PollingInterval int `yaml:"polling_interval"`
	// maximum number of transfers in flight at FTS at once
	ConcurrentMax int `yaml:"concurrent_max"`
	// client certificate and key presented to FTS
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// This helper validates the given staging parameters, returning an error
// indicating success or failure.
func validateStagingParameters(params stagingConfig) error {
	if params.Uri == "" {
		return fmt.Errorf("No stager URI was provided!")
	}
	u, err := url.Parse(params.Uri)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("Invalid stager URI: %s", params.Uri)
	}
	if params.ConcurrentMax <= 0 {
		return fmt.Errorf("Invalid staging concurrent_max: %d (must be positive)",
			params.ConcurrentMax)
	}
	if params.Dn == "" {
		return fmt.Errorf("No stager DN was provided!")
	}
	if params.CallbackKey != "" {
		if _, err := fernet.DecodeKey(params.CallbackKey); err != nil {
			return fmt.Errorf("Invalid staging callback_key: %s", err.Error())
		}
		if params.CallbackTtl <= 0 {
			return fmt.Errorf("Invalid staging callback_ttl: %d (must be positive)",
				params.CallbackTtl)
		}
	}
	return nil
}

// This helper validates the given prepare parameters, returning an error
// indicating success or failure.
func validatePrepareParameters(params prepareConfig) error {
	if params.AgentPort <= 0 || params.AgentPort > 65535 {
		return fmt.Errorf("Invalid agent_port: %d (must be 1-65535)",
			params.AgentPort)
	}
	if params.ConcurrentMax <= 0 {
		return fmt.Errorf("Invalid prepare concurrent_max: %d (must be positive)",
			params.ConcurrentMax)
	}
	if params.Dn == "" {
		return fmt.Errorf("No agent DN was provided!")
	}
	return nil
}

// This helper validates the given FTS parameters, returning an error
// indicating success or failure.
func validateFtsParameters(params ftsConfig) error {
	if params.Server == "" {
		return fmt.Errorf("No FTS server was provided!")
	}
	u, err := url.Parse(params.Server)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("Invalid FTS server: %s", params.Server)
	}
	if params.PollingInterval <= 0 {
		return fmt.Errorf("Invalid FTS polling_interval: %d (must be positive)",
			params.PollingInterval)
	}
	if params.ConcurrentMax <= 0 {
		return fmt.Errorf("Invalid FTS concurrent_max: %d (must be positive)",
			params.ConcurrentMax)
	}
	return nil
}
