package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/strawctl/internal/logging"
	"github.com/danmuck/strawctl/internal/observability"
	"github.com/danmuck/strawctl/internal/tunnel"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "strawctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseArgs(args, os.Stdout)
	if errors.Is(err, errExit) {
		return nil
	}
	if err != nil {
		return err
	}

	logging.ConfigureRuntime()
	observability.InitLogger("strawctl")

	svc, err := tunnel.NewService(cfg)
	if err != nil {
		return err
	}
	return svc.Run()
}
