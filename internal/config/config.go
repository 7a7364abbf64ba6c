// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and live
// reloading for the animation daemon.
package config

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/animate/internal/scheduler"
)

// Config is the daemon configuration.
type Config struct {
	// Pause is the global pause mode.
	Pause scheduler.Mode `toml:"pause" json:"pause"`

	// Inactivity is the duration an animation keeps
	// running without consumers.
	Inactivity Duration `toml:"inactivity" json:"inactivity"`
	// MinDelay is the minimum delay between frames.
	MinDelay Duration `toml:"min_delay" json:"min_delay"`
	// Workers is the number of concurrent frame ticks. Zero
	// is the number of available CPUs.
	Workers int `toml:"workers" json:"workers"`

	// Network and Addr are the control surface's listen
	// address. An empty Addr uses the default socket path.
	Network string `toml:"network" json:"network"`
	Addr    string `toml:"addr" json:"addr"`

	LogLevel     slog.Level `toml:"log_level" json:"log_level"`
	LogAddSource bool       `toml:"log_add_source" json:"log_add_source"`

	// DataDir is the directory relative image paths are
	// resolved against. If empty, the directory holding
	// the configuration file is used.
	DataDir string `toml:"data_dir" json:"data_dir"`

	Deck       *Deck       `toml:"deck" json:"deck,omitempty"`
	Animations []Animation `toml:"animation" json:"animation,omitempty"`
}

// Deck is the Stream Deck configuration.
type Deck struct {
	PID        int    `toml:"pid" json:"pid"`
	Serial     string `toml:"serial" json:"serial"`
	Brightness *int   `toml:"brightness" json:"brightness,omitempty"`
	// Toggle is the pause mode that a button press toggles
	// with running. If empty, button presses are ignored.
	Toggle string `toml:"toggle" json:"toggle,omitempty"`
}

// Animation is a single animation definition.
type Animation struct {
	Name string `toml:"name" json:"name"`
	// Source is an image file path or data URI.
	Source string `toml:"source" json:"source"`
	Row    int    `toml:"row" json:"row"`
	Col    int    `toml:"col" json:"col"`
	// Preferred overrides the preferred pause frame.
	Preferred *int `toml:"preferred" json:"preferred,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Pause:      scheduler.Running,
		Inactivity: Duration(scheduler.DefaultInactivity),
		Network:    "unix",
		LogLevel:   slog.LevelInfo,
	}
}

// Options returns the scheduler options described by c.
func (c *Config) Options() scheduler.Options {
	return scheduler.Options{
		Inactivity: time.Duration(c.Inactivity),
		MinDelay:   time.Duration(c.MinDelay),
	}
}

// Sum returns the semantic hash of c.
func (c *Config) Sum() (Sum, error) {
	var sum Sum
	b, err := json.Marshal(c)
	if err != nil {
		return sum, err
	}
	return sha1.Sum(b), nil
}

// Sum is a configuration hash.
type Sum [sha1.Size]byte

func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Duration is a time.Duration that is decoded from a duration string.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Parse returns the configuration held in the TOML data b. The data is
// validated against the configuration schema before decoding and any
// values not specified in b take their default value.
func Parse(b []byte) (*Config, error) {
	var raw map[string]any
	_, err := toml.NewDecoder(bytes.NewReader(b)).Decode(&raw)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	_, err = Validate(Schema, raw)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	md, err := toml.NewDecoder(bytes.NewReader(b)).Decode(cfg)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) != 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undec)
	}
	return cfg, nil
}

// Load returns the configuration held in the file at path and its
// semantic hash.
func Load(path string) (*Config, Sum, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Sum{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, Sum{}, fmt.Errorf("%s: %w", path, err)
	}
	sum, err := cfg.Sum()
	return cfg, sum, err
}
