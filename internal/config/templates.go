package config

import (
	"fmt"
	"os"

	"github.com/danmuck/strawctl/internal/straw"
	"github.com/danmuck/strawctl/internal/tunnel"
	gotoml "github.com/pelletier/go-toml/v2"
)

const templateHeader = "# strawctl relay configuration\n# Command line flags override values set here.\n\n"

// Template renders a config file for mode populated with defaults.
func Template(kind string) (string, error) {
	mode, err := tunnel.ParseMode(kind)
	if err != nil {
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	cfg := tunnel.DefaultConfig(mode)
	file := File{
		Version:     straw.ConfigSchemaVersion,
		Mode:        string(mode),
		Resilient:   cfg.Resilient,
		Reestablish: cfg.Reestablish,
		Inbound:     strawFile(cfg.Inbound, 9000),
		Outbound:    strawFile(cfg.Outbound, 9001),
	}
	out, err := gotoml.Marshal(file)
	if err != nil {
		return "", err
	}
	return templateHeader + string(out), nil
}

func strawFile(cfg straw.Config, port int) StrawFile {
	return StrawFile{
		Role:       string(cfg.Role),
		Address:    cfg.Address,
		Port:       port,
		Interval:   int(cfg.RetryInterval.Seconds()),
		Aggressive: cfg.Aggressive,
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
