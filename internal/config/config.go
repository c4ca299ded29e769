package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/strawctl/internal/straw"
	"github.com/danmuck/strawctl/internal/tunnel"
)

// StrawFile is the [inbound] / [outbound] table of a strawctl config.
type StrawFile struct {
	Role       string `toml:"role" comment:"client dials, server accepts one peer; defaults to the mode's role"`
	Address    string `toml:"address"`
	Port       int    `toml:"port"`
	Interval   int    `toml:"interval" comment:"seconds between aggressive attempts"`
	IntervalMS int64  `toml:"interval_ms,omitempty"`
	Aggressive bool   `toml:"aggressive"`
}

// File is the on-disk strawctl config.
type File struct {
	Version     int       `toml:"version" comment:"config schema version"`
	Mode        string    `toml:"mode" comment:"active | passive"`
	Resilient   bool      `toml:"resilient" comment:"keep the counterpart straw open when one side ends"`
	Reestablish bool      `toml:"reestablish" comment:"start a new session after each one ends"`
	Aggressive  bool      `toml:"aggressive,omitempty"`
	AdminListen string    `toml:"admin_listen,omitempty"`
	AdminToken  string    `toml:"admin_token,omitempty"`
	Inbound     StrawFile `toml:"inbound"`
	Outbound    StrawFile `toml:"outbound"`
}

// Overlay is a decoded config file that only overrides the keys it defines.
type Overlay struct {
	Path string
	file File
	meta toml.MetaData
}

func Load(path string) (Overlay, error) {
	var raw File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Overlay{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Overlay{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}
	return Overlay{Path: path, file: raw, meta: meta}, nil
}

// Mode returns the file's mode if it defines one.
func (o Overlay) Mode() (tunnel.Mode, bool, error) {
	if !o.meta.IsDefined("mode") {
		return "", false, nil
	}
	mode, err := tunnel.ParseMode(o.file.Mode)
	if err != nil {
		return "", false, err
	}
	return mode, true, nil
}

// Version returns the schema version the file declares, or the current one.
func (o Overlay) Version() int {
	if o.meta.IsDefined("version") {
		return o.file.Version
	}
	return straw.ConfigSchemaVersion
}

// Apply overlays the defined keys onto cfg.
func (o Overlay) Apply(cfg tunnel.Config) (tunnel.Config, error) {
	version := o.Version()
	if version < 1 || version > straw.ConfigSchemaVersion {
		return tunnel.Config{}, fmt.Errorf("%s: unsupported config version %d", o.Path, version)
	}
	if version != straw.ConfigSchemaVersion {
		def := straw.DefaultRetryIntervalFor(version)
		cfg.Inbound.RetryInterval = def
		cfg.Outbound.RetryInterval = def
	}

	if o.meta.IsDefined("resilient") {
		cfg.Resilient = o.file.Resilient
	}
	if o.meta.IsDefined("reestablish") {
		cfg.Reestablish = o.file.Reestablish
	}
	if o.meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(o.file.AdminListen)
	}
	if o.meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(o.file.AdminToken)
	}
	if o.meta.IsDefined("aggressive") {
		cfg.Inbound.Aggressive = o.file.Aggressive
		cfg.Outbound.Aggressive = o.file.Aggressive
	}

	var err error
	if cfg.Inbound, err = o.applyStraw("inbound", o.file.Inbound, cfg.Inbound); err != nil {
		return tunnel.Config{}, err
	}
	if cfg.Outbound, err = o.applyStraw("outbound", o.file.Outbound, cfg.Outbound); err != nil {
		return tunnel.Config{}, err
	}
	return cfg, nil
}

func (o Overlay) applyStraw(table string, raw StrawFile, cfg straw.Config) (straw.Config, error) {
	if o.meta.IsDefined(table, "role") {
		role, err := straw.ParseRole(raw.Role)
		if err != nil {
			return straw.Config{}, fmt.Errorf("parse %s.role: %w", table, err)
		}
		cfg.Role = role
	}
	if o.meta.IsDefined(table, "address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if o.meta.IsDefined(table, "port") {
		cfg.Port = raw.Port
	}
	if o.meta.IsDefined(table, "interval") {
		if raw.Interval < 0 {
			return straw.Config{}, fmt.Errorf("parse %s.interval: negative", table)
		}
		cfg.RetryInterval = time.Duration(raw.Interval) * time.Second
	}
	if o.meta.IsDefined(table, "interval_ms") {
		if raw.IntervalMS < 0 {
			return straw.Config{}, fmt.Errorf("parse %s.interval_ms: negative", table)
		}
		cfg.RetryInterval = time.Duration(raw.IntervalMS) * time.Millisecond
	}
	if o.meta.IsDefined(table, "aggressive") {
		cfg.Aggressive = raw.Aggressive
	}
	return cfg, nil
}

// LoadConfig resolves a complete tunnel config from a file alone. The file
// must name its mode.
func LoadConfig(path string) (tunnel.Config, error) {
	overlay, err := Load(path)
	if err != nil {
		return tunnel.Config{}, err
	}
	mode, ok, err := overlay.Mode()
	if err != nil {
		return tunnel.Config{}, err
	}
	if !ok {
		return tunnel.Config{}, fmt.Errorf("%s: mode is required", path)
	}
	cfg, err := overlay.Apply(tunnel.DefaultConfig(mode))
	if err != nil {
		return tunnel.Config{}, err
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return tunnel.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
