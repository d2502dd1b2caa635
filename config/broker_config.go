package config

import (
	"fmt"
	"net/url"
)

// The broker carries the three durable queues that chain the pipeline stages.
type brokerConfig struct {
	// AMQP URL of the broker (amqp:// or amqps://)
	URL string `yaml:"url"`
	// names of the per-stage queues
	Queues struct {
		Staging  string `yaml:"staging"`
		Prepare  string `yaml:"prepare"`
		Transfer string `yaml:"transfer"`
	} `yaml:"queues"`
}

// This helper validates the given broker parameters, returning an error
// indicating success or failure.
func validateBrokerParameters(params brokerConfig) error {
	if params.URL == "" {
		return fmt.Errorf("No broker URL was provided!")
	}
	u, err := url.Parse(params.URL)
	if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
		return fmt.Errorf("Invalid broker URL: %s", params.URL)
	}
	names := map[string]string{
		"staging":  params.Queues.Staging,
		"prepare":  params.Queues.Prepare,
		"transfer": params.Queues.Transfer,
	}
	seen := make(map[string]string)
	for which, name := range names {
		if name == "" {
			return fmt.Errorf("No %s queue name was provided!", which)
		}
		if other, found := seen[name]; found {
			return fmt.Errorf("The %s and %s queues share the name %s", which,
				other, name)
		}
		seen[name] = which
	}
	return nil
}
