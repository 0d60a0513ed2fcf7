// Package config loads the controller configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-sdn/pkg/failover"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/generate"
)

type Config struct {
	Topology TopologyConfig `yaml:"topology"`
	Sync     SyncConfig     `yaml:"sync"`
	Failover FailoverConfig `yaml:"failover"`
	Probe    ProbeConfig    `yaml:"probe"`
	Resolver ResolverConfig `yaml:"resolver"`
	Export   ExportConfig   `yaml:"export"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type TopologyConfig struct {
	File     string `yaml:"file" validate:"required"`
	SaveFile string `yaml:"save_file" validate:"required"`
	// Sources are the host names nodes are synthesised from when the
	// document lists none.
	Sources           []string      `yaml:"sources,omitempty" validate:"dive,hostname_rfc1123|ip"`
	CheckAvailability bool          `yaml:"check_availability"`
	LinkGenerator     string        `yaml:"link_generator" validate:"oneof=ring fullmesh"`
	PrefixLen         int           `yaml:"prefix_len" validate:"min=1,max=32"`
	PollInterval      time.Duration `yaml:"poll_interval" validate:"min=0"`
	Watch             bool          `yaml:"watch"`
	MaxNodeID         uint64        `yaml:"max_node_id" validate:"min=1,max=255"`
	HostnameTTL       time.Duration `yaml:"hostname_ttl" validate:"min=0"`
}

type SyncConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay" validate:"min=0"`
}

type FailoverConfig struct {
	Link string `yaml:"link" validate:"required"`
	// Triggers replaces the stock trigger table when set. Keys are
	// addresses inside 10.10.10.0/24.
	Triggers map[string]failover.Trigger `yaml:"triggers,omitempty"`
}

type ProbeConfig struct {
	Workers    int           `yaml:"workers" validate:"min=1,max=256"`
	Count      int           `yaml:"count" validate:"min=1"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0"`
	Privileged bool          `yaml:"privileged"`
}

type ResolverConfig struct {
	Servers    []string      `yaml:"servers,omitempty"`
	ResolvConf string        `yaml:"resolv_conf"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0"`
}

type ExportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport" validate:"oneof=mangos zmq"`
	Address   string `yaml:"address" validate:"required_if=Enabled true"`
	Compress  bool   `yaml:"compress"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Topology: TopologyConfig{
			File:          "topo.json",
			SaveFile:      "auto_topo.json",
			LinkGenerator: generate.Ring,
			PrefixLen:     generate.DefaultPrefixLen,
			PollInterval:  2 * time.Second,
			Watch:         true,
			MaxNodeID:     255,
			HostnameTTL:   10 * time.Minute,
		},
		Sync:     SyncConfig{SettleDelay: flowsync.DefaultSettleDelay},
		Failover: FailoverConfig{Link: failover.DefaultLink},
		Probe:    ProbeConfig{Workers: 10, Count: 2, Timeout: 2 * time.Second},
		Resolver: ResolverConfig{ResolvConf: "/etc/resolv.conf", Timeout: 2 * time.Second},
		Export:   ExportConfig{Transport: "mangos", Address: "tcp://127.0.0.1:5556"},
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TriggerTable returns the configured triggers keyed by address, or nil
// for the stock table.
func (c *Config) TriggerTable() (map[netip.Addr]failover.Trigger, error) {
	if len(c.Failover.Triggers) == 0 {
		return nil, nil
	}
	out := make(map[netip.Addr]failover.Trigger, len(c.Failover.Triggers))
	for k, t := range c.Failover.Triggers {
		addr, err := netip.ParseAddr(k)
		if err != nil {
			return nil, fmt.Errorf("failover.triggers: %w", err)
		}
		if !failover.TriggerPrefix.Contains(addr) {
			return nil, fmt.Errorf("failover.triggers: %s is outside %s", addr, failover.TriggerPrefix)
		}
		out[addr] = t
	}
	return out, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
