package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/config"
	"github.com/fxnlabs/gpurt/internal/logger"
)

// env is filled in by the Before hook and shared by the commands.
type env struct {
	cfg *config.Config
	log *zap.Logger
	out io.Writer
}

func newApp(out io.Writer) *cli.App {
	e := &env{out: out}
	return &cli.App{
		Name:      "gpurt",
		Usage:     "Inspect and exercise the GPU compute runtime",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   config.DefaultPath,
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"GPURT_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if e.log != nil {
				_ = e.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			devicesCommand(e),
			selfTestCommand(e),
			serveCommand(e),
			initCommand(e),
		},
	}
}

// loadConfig falls back to the defaults when the default file is absent.
// A file named explicitly must exist unless it is about to be written by
// init.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) && (!c.IsSet("config") || c.Args().First() == "init") {
		return config.Default(), nil
	}
	return cfg, err
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
