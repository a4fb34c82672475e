package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/kernels"
	"github.com/fxnlabs/gpurt/internal/runtime"
	"github.com/fxnlabs/gpurt/internal/runtime/backends"
	"github.com/fxnlabs/gpurt/internal/server"
)

func selfTestCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:    "selftest",
		Aliases: []string{"smoke"},
		Usage:   "Run the reference kernels on the configured engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "engine",
				Usage: "Backend to test (ocl or sycl); defaults to the configured one",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the report as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if name := c.String("engine"); name != "" {
				e.cfg.Runtime.Engine = name
			}
			typ, err := e.cfg.EngineType()
			if err != nil {
				return err
			}
			cfg, err := e.cfg.EngineConfiguration()
			if err != nil {
				return err
			}
			backends.Compiled(e.log)
			engine, err := server.CreateEngine(typ, e.cfg.Runtime.Device, cfg, runtime.DeviceQueryOptions{}, e.log)
			if err != nil {
				return err
			}
			defer engine.Close()

			report, err := kernels.SelfTest(engine, e.log)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(e, report)
			}
			if !report.Passed() {
				return errors.New("self-test failed")
			}
			e.log.Info("self-test passed", zap.String("backend", report.Backend), zap.String("device", report.Device))
			return nil
		},
	}
}

func printReport(e *env, report kernels.Report) {
	fmt.Fprintf(e.out, "%s engine %s on %s\n", report.Backend, report.Engine, report.Device)
	table := tablewriter.NewWriter(e.out)
	table.SetHeader([]string{"CHECK", "RESULT", "ELAPSED", "OUTPUT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, check := range report.Checks {
		result, output := "ok", formatValues(check.Got)
		if !check.Passed {
			result, output = "FAIL", check.Error
		}
		table.Append([]string{check.Name, result, check.Elapsed.String(), output})
	}
	table.Render()
}

func formatValues(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%g", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
