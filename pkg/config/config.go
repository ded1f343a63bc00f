// Package config loads engine configuration from the environment and
// validates it before any collaborator is constructed.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"licenseguard/pkg/discovery"
	"licenseguard/pkg/license"
)

// Prefix is the environment variable prefix for all settings.
const Prefix = "LICENSEGUARD"

// Config is the environment-facing configuration of the validation
// engine and its default collaborators.
type Config struct {
	SubscriptionEndpoint string `envconfig:"SUBSCRIPTION_ENDPOINT" validate:"omitempty,url"`
	SubscriptionPasscode string `envconfig:"SUBSCRIPTION_PASSCODE"`
	FloatingEndpoint     string `envconfig:"FLOATING_ENDPOINT" validate:"omitempty,url"`

	DisableFloatingLicenses bool `envconfig:"DISABLE_FLOATING_LICENSES"`
	DisableTimeChecks       bool `envconfig:"DISABLE_TIME_CHECKS"`

	LeaseTimeout         time.Duration `envconfig:"LEASE_TIMEOUT" default:"5m"`
	NearExpirationWindow time.Duration `envconfig:"NEAR_EXPIRATION_WINDOW" default:"10m"`
	FloatingRenewalLead  time.Duration `envconfig:"FLOATING_RENEWAL_LEAD" default:"5m"`
	OperationTimeout     time.Duration `envconfig:"OPERATION_TIMEOUT" default:"30s"`

	TimeSources []string `envconfig:"TIME_SOURCES"`

	DiscoveryPort   int    `envconfig:"DISCOVERY_PORT" default:"12391" validate:"min=1,max=65535"`
	DuplicatePolicy string `envconfig:"DUPLICATE_POLICY" default:"deny" validate:"oneof=deny allow-same-user"`

	MachineName string `envconfig:"MACHINE_NAME"`
	UserName    string `envconfig:"USER_NAME"`
}

var validate = validator.New()

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load from env: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// EngineConfig maps the loaded settings onto the validation engine's
// configuration. The license text, public key, and callbacks remain the
// caller's to supply.
func (c *Config) EngineConfig() (license.Config, error) {
	policy, err := license.ParseDuplicatePolicy(c.DuplicatePolicy)
	if err != nil {
		return license.Config{}, fmt.Errorf("config: %w", err)
	}
	return license.Config{
		SubscriptionEndpoint:    c.SubscriptionEndpoint,
		SubscriptionPasscode:    c.SubscriptionPasscode,
		FloatingEndpoint:        c.FloatingEndpoint,
		DisableFloatingLicenses: c.DisableFloatingLicenses,
		DisableTimeChecks:       c.DisableTimeChecks,
		LeaseTimeout:            c.LeaseTimeout,
		NearExpirationWindow:    c.NearExpirationWindow,
		FloatingRenewalLead:     c.FloatingRenewalLead,
		OperationTimeout:        c.OperationTimeout,
		TimeSources:             c.TimeSources,
		DuplicatePolicy:         policy,
		MachineName:             c.MachineName,
		UserName:                c.UserName,
	}, nil
}

// OpenDiscovery opens the UDP discovery transport on the configured
// port.
func (c *Config) OpenDiscovery(logger *slog.Logger) (*discovery.UDPTransport, error) {
	return discovery.NewUDP(c.DiscoveryPort, logger)
}
