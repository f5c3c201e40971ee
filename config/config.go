// Package config loads rdtp's tunable knobs (spec §6) and the chat
// server's own settings from a YAML file, grounded on tinyrange-cc's
// cmd/ccapp/site_config.go: yaml.v3 Unmarshal into a plain struct, with
// missing or partially-specified files falling back to protocol defaults
// rather than failing the process.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/duskline/rdtp/transport"
)

// File is the top-level shape of a site configuration file.
type File struct {
	Transport TransportFile `yaml:"transport"`
	Chat      ChatFile      `yaml:"chat"`
}

// TransportFile mirrors transport.Config with YAML tags and
// millisecond-denominated durations.
type TransportFile struct {
	MaxWindow     *int `yaml:"max_window"`
	RcvWndCap     *int `yaml:"rcv_wnd_cap"`
	RTOInitialMS  *int `yaml:"rto_initial_ms"`
	RTOMinMS      *int `yaml:"rto_min_ms"`
	RTOMaxMS      *int `yaml:"rto_max_ms"`
	MaxRetries    *int `yaml:"max_retries"`
	MaxPayload    *int `yaml:"max_payload"`
	DelayedACKMS  *int `yaml:"delayed_ack_ms"`
}

// ChatFile holds the peripheral chat application's own settings.
type ChatFile struct {
	Room          string `yaml:"room"`
	HistoryLimit  int    `yaml:"history_limit"`
	ListenAddr    string `yaml:"listen_addr"`
}

// Load reads and parses path into a File. A missing file is not an error;
// Load returns a zero-value File so ToTransportConfig falls back entirely
// to protocol defaults.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, errors.Wrapf(err, "config: read %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, errors.Wrapf(err, "config: parse %s", path)
	}
	return f, nil
}

// ToTransportConfig overlays any knobs set in f.Transport onto
// transport.DefaultConfig, leaving unset fields at their protocol default.
func (f File) ToTransportConfig() transport.Config {
	cfg := transport.DefaultConfig()

	t := f.Transport
	if t.MaxWindow != nil {
		cfg.MaxWindow = *t.MaxWindow
	}
	if t.RcvWndCap != nil {
		cfg.RcvWndCap = *t.RcvWndCap
	}
	if t.RTOInitialMS != nil {
		cfg.RTOInitial = time.Duration(*t.RTOInitialMS) * time.Millisecond
	}
	if t.RTOMinMS != nil {
		cfg.RTOMin = time.Duration(*t.RTOMinMS) * time.Millisecond
	}
	if t.RTOMaxMS != nil {
		cfg.RTOMax = time.Duration(*t.RTOMaxMS) * time.Millisecond
	}
	if t.MaxRetries != nil {
		cfg.MaxRetries = *t.MaxRetries
	}
	if t.MaxPayload != nil {
		cfg.MaxPayload = *t.MaxPayload
	}
	if t.DelayedACKMS != nil {
		cfg.DelayedACK = time.Duration(*t.DelayedACKMS) * time.Millisecond
	}
	return cfg
}

// DefaultRoom is used when the config file doesn't name one.
const DefaultRoom = "lobby"

// DefaultHistoryLimit bounds the chat room's retained backlog when the
// config file doesn't set history_limit.
const DefaultHistoryLimit = 200

// Room returns the configured chat room name, or DefaultRoom.
func (f File) Room() string {
	if f.Chat.Room == "" {
		return DefaultRoom
	}
	return f.Chat.Room
}

// HistoryLimit returns the configured history backlog size, or
// DefaultHistoryLimit.
func (f File) HistoryLimit() int {
	if f.Chat.HistoryLimit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Chat.HistoryLimit
}
