package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/rbmirror/internal/config"
	"github.com/danmuck/rbmirror/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/mirrorctl/config.toml"

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.String("kind", "mirror", "config kind: mirror|replay")
	output := fs.StringP("output", "o", defaultPath, "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.StringP("input", "i", defaultPath, "config path for validation")
	printCfg := fs.Bool("print", false, "print the resolved config after validation")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		cfg, err := config.LoadMirrorConfig(*input)
		if err != nil {
			return err
		}
		log.Info().Str("path", *input).Str("name", cfg.Name).Msg("config validated")
		if *printCfg {
			raw, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = stdout.Write(raw)
			return err
		}
		return nil
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		return err
	}
	log.Info().Str("kind", *kind).Str("path", *output).Msg("config template written")
	return nil
}
