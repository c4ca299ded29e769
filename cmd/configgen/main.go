package main

import (
	"fmt"
	"os"

	"github.com/danmuck/strawctl/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	kind := pflag.String("kind", "passive", "config kind: active|passive")
	output := pflag.StringP("output", "o", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.StringP("input", "i", "", "config path for validation (defaults to strawctl.toml)")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = "strawctl.toml"
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Validated %s config at %s\n", cfg.Mode, path)
		return
	}

	target := *output
	if target == "" {
		target = "strawctl.toml"
	}
	if target == "-" {
		template, err := config.Template(*kind)
		if err != nil {
			fatal(err)
		}
		fmt.Print(template)
		return
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s config template to %s\n", *kind, target)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
	os.Exit(1)
}
