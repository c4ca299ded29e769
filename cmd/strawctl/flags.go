package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/strawctl/internal/config"
	"github.com/danmuck/strawctl/internal/straw"
	"github.com/danmuck/strawctl/internal/tunnel"
	"github.com/spf13/pflag"
)

// errExit ends the process successfully without running the relay.
var errExit = errors.New("strawctl: exit")

type cliFlags struct {
	configPath  string
	inAddr      string
	inPort      int
	inInterval  int
	inRole      string
	outAddr     string
	outPort     int
	outInterval int
	outRole     string
	aggressive  bool
	resilient   bool
	reestablish bool
	adminListen string
	adminToken  string
	version     bool
}

func newFlagSet(f *cliFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("strawctl", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.StringVarP(&f.configPath, "config", "c", "", "TOML config file; flags set on the command line win over it")
	fs.StringVar(&f.inAddr, "in-addr", straw.DefaultAddress, "address of the inbound straw")
	fs.IntVar(&f.inPort, "in-port", 0, "port of the inbound straw")
	fs.IntVar(&f.inInterval, "in-interval", int(straw.DefaultRetryInterval/time.Second), "seconds between inbound connection attempts when aggressive")
	fs.StringVar(&f.inRole, "in-role", "", "override the inbound role (client|server)")
	fs.StringVar(&f.outAddr, "out-addr", straw.DefaultAddress, "address of the outbound straw")
	fs.IntVar(&f.outPort, "out-port", 0, "port of the outbound straw")
	fs.IntVar(&f.outInterval, "out-interval", int(straw.DefaultRetryInterval/time.Second), "seconds between outbound connection attempts when aggressive")
	fs.StringVar(&f.outRole, "out-role", "", "override the outbound role (client|server)")
	fs.BoolVar(&f.aggressive, "aggressive", false, "retry establishing both straws until they connect")
	fs.BoolVar(&f.resilient, "resilient", false, "keep the other straw open when one straw ends")
	fs.BoolVarP(&f.reestablish, "reestablish", "r", false, "start a new session whenever one ends")
	fs.StringVar(&f.adminListen, "admin-listen", "", "serve /health, /status and /metrics on this address")
	fs.StringVar(&f.adminToken, "admin-token", "", "bearer token required by /status and /metrics")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	fs.BoolP("help", "h", false, "show help")
	return fs
}

func printHelp(out io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(out, "Usage: strawctl <active|passive> [flags]\n\n")
	fmt.Fprintf(out, "Relays bytes between an inbound and an outbound TCP straw.\n")
	fmt.Fprintf(out, "active dials both straws, passive accepts one peer on each.\n\n")
	fmt.Fprint(out, fs.FlagUsages())
}

// parseArgs resolves defaults, then the config file, then explicitly set flags.
func parseArgs(args []string, out io.Writer) (tunnel.Config, error) {
	var f cliFlags
	fs := newFlagSet(&f)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, fs)
			return tunnel.Config{}, errExit
		}
		return tunnel.Config{}, err
	}
	if help, _ := fs.GetBool("help"); help {
		printHelp(out, fs)
		return tunnel.Config{}, errExit
	}
	if f.version {
		fmt.Fprintf(out, "strawctl %s (config schema %d)\n", tunnel.Version, straw.ConfigSchemaVersion)
		return tunnel.Config{}, errExit
	}

	var overlay *config.Overlay
	if path := strings.TrimSpace(f.configPath); path != "" {
		o, err := config.Load(path)
		if err != nil {
			return tunnel.Config{}, err
		}
		overlay = &o
	}

	mode, err := resolveMode(fs.Args(), overlay)
	if err != nil {
		printHelp(out, fs)
		return tunnel.Config{}, err
	}
	cfg := tunnel.DefaultConfig(mode)
	if overlay != nil {
		if cfg, err = overlay.Apply(cfg); err != nil {
			return tunnel.Config{}, err
		}
	}
	return applyFlags(fs, f, cfg)
}

func resolveMode(positional []string, overlay *config.Overlay) (tunnel.Mode, error) {
	if len(positional) > 1 {
		return "", fmt.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}
	if len(positional) == 1 {
		return tunnel.ParseMode(positional[0])
	}
	if overlay != nil {
		mode, ok, err := overlay.Mode()
		if err != nil {
			return "", err
		}
		if ok {
			return mode, nil
		}
	}
	return "", fmt.Errorf("%w: mode required", tunnel.ErrInvalidMode)
}

func applyFlags(fs *pflag.FlagSet, f cliFlags, cfg tunnel.Config) (tunnel.Config, error) {
	var err error
	if fs.Changed("in-addr") {
		cfg.Inbound.Address = strings.TrimSpace(f.inAddr)
	}
	if fs.Changed("in-port") {
		cfg.Inbound.Port = f.inPort
	}
	if fs.Changed("in-interval") {
		if cfg.Inbound.RetryInterval, err = seconds("in-interval", f.inInterval); err != nil {
			return tunnel.Config{}, err
		}
	}
	if fs.Changed("in-role") {
		if cfg.Inbound.Role, err = straw.ParseRole(f.inRole); err != nil {
			return tunnel.Config{}, err
		}
	}
	if fs.Changed("out-addr") {
		cfg.Outbound.Address = strings.TrimSpace(f.outAddr)
	}
	if fs.Changed("out-port") {
		cfg.Outbound.Port = f.outPort
	}
	if fs.Changed("out-interval") {
		if cfg.Outbound.RetryInterval, err = seconds("out-interval", f.outInterval); err != nil {
			return tunnel.Config{}, err
		}
	}
	if fs.Changed("out-role") {
		if cfg.Outbound.Role, err = straw.ParseRole(f.outRole); err != nil {
			return tunnel.Config{}, err
		}
	}
	if fs.Changed("aggressive") {
		cfg.Inbound.Aggressive = f.aggressive
		cfg.Outbound.Aggressive = f.aggressive
	}
	if fs.Changed("resilient") {
		cfg.Resilient = f.resilient
	}
	if fs.Changed("reestablish") {
		cfg.Reestablish = f.reestablish
	}
	if fs.Changed("admin-listen") {
		cfg.AdminListen = strings.TrimSpace(f.adminListen)
	}
	if fs.Changed("admin-token") {
		cfg.AdminToken = strings.TrimSpace(f.adminToken)
	}
	return cfg, nil
}

func seconds(name string, v int) (time.Duration, error) {
	if v < 0 {
		return 0, fmt.Errorf("--%s must be >= 0, got %d", name, v)
	}
	return time.Duration(v) * time.Second, nil
}
