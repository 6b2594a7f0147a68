// config.go - MLS/Noise relay extension configuration.
// Copyright (C) 2025  jab-r.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the MLS/Noise relay extension configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress        = ":7447"
	defaultLogLevel       = "NOTICE"
	defaultStoreFile      = "mlsrelay.db"
	defaultArchiveTTL     = 7 * 24 * 60 * 60 // 7 days, in seconds.
	defaultCleanupBatch   = 1000
	defaultWindowSecs     = 60
	defaultKeyPackageRate = 30
	defaultGroupMsgRate   = 600
	defaultAggregateRate  = 1200
	defaultNoiseVersion   = "noise.1"
	defaultRateTableBound = 16384
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the relay extension server configuration.
type Server struct {
	// Identifier is the human readable identifier for the node (eg: FQDN).
	Identifier string

	// Address is the listener address the host relay binds to.
	Address string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  Empty disables the listener.
	MetricsAddress string

	// DataDir is the absolute path to the relay's state files.
	DataDir string

	// OmitSenderDelivery excludes the sender's own pubkey from the
	// recipient set computed for group messages.  The default is to
	// deliver to the sender.
	OmitSenderDelivery bool
}

func (sCfg *Server) validate() error {
	if sCfg.Identifier == "" {
		return errors.New("config: Server: Identifier is not set")
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.MetricsAddress != "" {
		if _, err := netip.ParseAddrPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	switch lCfg.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	return nil
}

// Limits is the rate limiter configuration.  All rates are maximum
// accepted submissions per window, per pubkey.
type Limits struct {
	// WindowSeconds is the sliding window span in seconds.
	WindowSeconds int

	// KeyPackagesPerWindow bounds identity credential submissions.
	KeyPackagesPerWindow int

	// GroupMessagesPerWindow bounds encrypted group traffic.
	GroupMessagesPerWindow int

	// EventsPerWindow bounds aggregate extension event volume.
	EventsPerWindow int

	// MaxTrackedKeys bounds the in-memory (pubkey, category) table.
	MaxTrackedKeys int
}

func (lCfg *Limits) applyDefaults() {
	if lCfg.WindowSeconds <= 0 {
		lCfg.WindowSeconds = defaultWindowSecs
	}
	if lCfg.KeyPackagesPerWindow <= 0 {
		lCfg.KeyPackagesPerWindow = defaultKeyPackageRate
	}
	if lCfg.GroupMessagesPerWindow <= 0 {
		lCfg.GroupMessagesPerWindow = defaultGroupMsgRate
	}
	if lCfg.EventsPerWindow <= 0 {
		lCfg.EventsPerWindow = defaultAggregateRate
	}
	if lCfg.MaxTrackedKeys <= 0 {
		lCfg.MaxTrackedKeys = defaultRateTableBound
	}
}

// Archive is the message archive configuration.
type Archive struct {
	// TTLSeconds is the lifetime of archived envelopes.
	TTLSeconds int64
}

func (aCfg *Archive) applyDefaults() {
	if aCfg.TTLSeconds <= 0 {
		aCfg.TTLSeconds = defaultArchiveTTL
	}
}

// Cleanup is the vacuum job configuration.
type Cleanup struct {
	// BatchSize bounds the number of deletions buffered per scan pass.
	BatchSize int

	// IntervalSeconds is the in-process vacuum period.  0 disables the
	// periodic worker, for deployments that schedule vacuuming
	// out-of-process.
	IntervalSeconds int
}

func (cCfg *Cleanup) applyDefaults() {
	if cCfg.BatchSize <= 0 {
		cCfg.BatchSize = defaultCleanupBatch
	}
}

// Noise is the Noise DM transport configuration.
type Noise struct {
	// SupportedVersions enumerates the protocol version tags this relay
	// will gate.  Unlisted versions are rejected, not forwarded.
	SupportedVersions []string
}

func (nCfg *Noise) applyDefaults() {
	if len(nCfg.SupportedVersions) == 0 {
		nCfg.SupportedVersions = []string{defaultNoiseVersion}
	}
}

// Config is the top level relay extension configuration.
type Config struct {
	Server  *Server
	Logging *Logging
	Limits  *Limits
	Archive *Archive
	Cleanup *Cleanup
	Noise   *Noise
}

// StoreFile returns the path of the bolt backing store.
func (cfg *Config) StoreFile() string {
	return filepath.Join(cfg.Server.DataDir, defaultStoreFile)
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Logging == nil {
		cfg.Logging = &defaultLogging
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Limits == nil {
		cfg.Limits = new(Limits)
	}
	if cfg.Archive == nil {
		cfg.Archive = new(Archive)
	}
	if cfg.Cleanup == nil {
		cfg.Cleanup = new(Cleanup)
	}
	if cfg.Noise == nil {
		cfg.Noise = new(Noise)
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	cfg.Limits.applyDefaults()
	cfg.Archive.applyDefaults()
	cfg.Cleanup.applyDefaults()
	cfg.Noise.applyDefaults()

	return nil
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns
// the Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
