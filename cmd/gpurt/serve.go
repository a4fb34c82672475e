package main

import (
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/runtime"
	"github.com/fxnlabs/gpurt/internal/server"
)

func serveCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve metrics and the introspection API for the configured engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address; overrides metrics.listenAddress",
			},
		},
		Action: func(c *cli.Context) error {
			if addr := c.String("listen"); addr != "" {
				e.cfg.Metrics.ListenAddress = addr
			}
			printBanner(e)
			log := e.log.Named("serve")
			app := fx.New(
				fx.WithLogger(func() fxevent.Logger {
					return &fxevent.ZapLogger{Logger: log.Named("fx")}
				}),
				fx.Supply(e.cfg, runtime.DeviceQueryOptions{}, log),
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			log.Info("serving", zap.String("address", e.cfg.Metrics.ListenAddress))
			app.Run()
			return nil
		},
	}
}
