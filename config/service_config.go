package config

import (
	"fmt"
	"net/url"
)

// a type with service configuration parameters
type serviceConfig struct {
	// port on which the service listens
	Port int `yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `yaml:"max_connections"`
	// externally reachable base URL for completion callbacks
	// (e.g. https://gts.example.org:8443)
	CallbackBase string `yaml:"callback_base"`
	// paths to the server certificate and key presented to clients; when both
	// are empty the service runs without TLS (testing only)
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	// path to a PEM bundle of CA certificates trusted for client
	// authentication; empty means the system pool
	CaFile string `yaml:"ca_file"`
}

// This helper validates the given service parameters, returning an error
// indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port <= 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 1-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.CallbackBase == "" {
		return fmt.Errorf("No callback_base was provided!")
	}
	u, err := url.Parse(params.CallbackBase)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("Invalid callback_base: %s", params.CallbackBase)
	}
	if (params.Cert == "") != (params.Key == "") {
		return fmt.Errorf("A service cert and key must be provided together")
	}
	return nil
}
