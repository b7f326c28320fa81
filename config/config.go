/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds ptpslaved's on-disk configuration, its
// defaults, and the CLI-flag override pass cmd/ptpslaved runs before
// the config is considered final.
package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// maxDomain is the largest PTP domainNumber this client will filter
// on; values above it are almost certainly a misconfiguration rather
// than a real deployment.
const maxDomain = 127

// Config is ptpslaved's full set of run options.
type Config struct {
	Domain                   uint8         `yaml:"domain"`
	Iface                    string        `yaml:"iface"`
	MonitoringAddr           string        `yaml:"monitoringAddr"`
	LogLevel                 string        `yaml:"logLevel"`
	MetricsAggregationWindow time.Duration `yaml:"metricsAggregationWindow"`
}

// DefaultConfig returns a Config initialized with default values.
func DefaultConfig() *Config {
	return &Config{
		Domain:                   0,
		Iface:                    "eth0",
		MonitoringAddr:           ":4269",
		LogLevel:                 "info",
		MetricsAggregationWindow: 60 * time.Second,
	}
}

// Validate reports whether c is sane to run with.
func (c *Config) Validate() error {
	if c.Domain > maxDomain {
		return fmt.Errorf("domain must be between 0 and %d", maxDomain)
	}
	if c.Iface == "" {
		return fmt.Errorf("iface must be specified")
	}
	if c.MonitoringAddr == "" {
		return fmt.Errorf("monitoringAddr must be specified")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	if c.MetricsAggregationWindow <= 0 {
		return fmt.Errorf("metricsAggregationWindow must be greater than zero")
	}
	return nil
}

// ReadConfig reads a Config from the YAML file at path. Unset fields
// keep DefaultConfig's values.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config from %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config from %q: %w", path, err)
	}
	return c, nil
}

// PrepareConfig loads the on-disk config (if cfgPath is non-empty,
// DefaultConfig otherwise), applies any CLI-flag override whose name
// is set in setFlags, and validates the result. Each override is
// logged via the warn closure, matching the teacher's CLI wiring.
func PrepareConfig(cfgPath string, domain uint8, iface, monitoringAddr, logLevel string, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
	}
	if setFlags["domain"] {
		warn("domain")
		cfg.Domain = domain
	}
	if setFlags["iface"] {
		warn("iface")
		cfg.Iface = iface
	}
	if setFlags["monitoring-addr"] {
		warn("monitoring-addr")
		cfg.MonitoringAddr = monitoringAddr
	}
	if setFlags["verbose"] {
		warn("logLevel")
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
