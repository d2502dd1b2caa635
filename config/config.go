package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// global config variables, populated by Init
var Service serviceConfig
var Database databaseConfig
var Broker brokerConfig
var Staging stagingConfig
var Prepare prepareConfig
var Fts ftsConfig
var Auth authConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service  serviceConfig  `yaml:"service"`
	Database databaseConfig `yaml:"database"`
	Broker   brokerConfig   `yaml:"broker"`
	Staging  stagingConfig  `yaml:"staging"`
	Prepare  prepareConfig  `yaml:"prepare"`
	Fts      ftsConfig      `yaml:"fts"`
	Auth     authConfig     `yaml:"auth"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8443
	conf.Service.MaxConnections = 100
	conf.Staging.ConcurrentMax = 10
	conf.Staging.CallbackTtl = 86400
	conf.Prepare.AgentPort = 8444
	conf.Prepare.ConcurrentMax = 10
	conf.Fts.ConcurrentMax = 20
	conf.Fts.PollingInterval = 60
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Database = conf.Database
	Broker = conf.Broker
	Staging = conf.Staging
	Prepare = conf.Prepare
	Fts = conf.Fts
	Auth = conf.Auth

	return err
}

// This helper reads a file containing one allowed DN per line (blank lines
// and lines starting with '#' are skipped) and appends its entries to the
// allowed DN list.
func readAllowedDnFile(path string) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Couldn't read allowed DN file %s: %s", path, err.Error())
	}
	for _, line := range strings.Split(string(bytes), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		Auth.AllowedDns = append(Auth.AllowedDns, line)
	}
	return nil
}

// This helper validates the assembled configuration, returning an error that
// indicates success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}
	err = validateDatabaseParameters(Database)
	if err != nil {
		return err
	}
	err = validateBrokerParameters(Broker)
	if err != nil {
		return err
	}
	err = validateStagingParameters(Staging)
	if err != nil {
		return err
	}
	err = validatePrepareParameters(Prepare)
	if err != nil {
		return err
	}
	err = validateFtsParameters(Fts)
	if err != nil {
		return err
	}
	return validateAuthParameters(Auth)
}

// Initializes the transfer service configuration using the given YAML byte
// data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML file.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Pull in allowed DNs kept in a separate file, if any.
	if Auth.AllowedDnFile != "" {
		err = readAllowedDnFile(Auth.AllowedDnFile)
		if err != nil {
			return err
		}
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
