package main

import (
	"fmt"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/runtime"
	"github.com/fxnlabs/gpurt/internal/runtime/backends"
)

func printBanner(e *env) {
	fmt.Fprintln(e.out, figure.NewFigure("gpurt", "", true).String())
}

func devicesCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the devices every compiled-in backend reports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "runtime",
				Usage: "Native runtime to query (ocl or level_zero); defaults to the configured one",
			},
			&cli.BoolFlag{
				Name:  "no-banner",
				Usage: "Do not print the banner",
			},
		},
		Action: func(c *cli.Context) error {
			rtName := c.String("runtime")
			if rtName == "" {
				rtName = e.cfg.Runtime.Runtime
			}
			rt, err := runtime.ParseRuntimeType(rtName)
			if err != nil {
				return err
			}
			if !c.Bool("no-banner") {
				printBanner(e)
			}

			var rows [][]string
			for _, typ := range backends.Compiled(e.log) {
				q, err := runtime.NewDeviceQuery(typ, rt, runtime.DeviceQueryOptions{}, e.log)
				if err != nil {
					return err
				}
				devices := q.AvailableDevices()
				for _, id := range q.Keys() {
					rows = append(rows, deviceRow(typ, id, devices[id]))
				}
				e.log.Debug("queried devices", zap.Stringer("backend", typ), zap.Stringer("runtime", rt), zap.Int("count", len(devices)))
			}
			if len(rows) == 0 {
				fmt.Fprintf(e.out, "no devices found on the %s runtime\n", rt)
				return nil
			}

			table := tablewriter.NewWriter(e.out)
			table.SetHeader([]string{"BACKEND", "ID", "NAME", "TYPE", "PCI", "MEMORY", "MAX ALLOC", "ALLOCATIONS"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(rows)
			table.Render()
			return nil
		},
	}
}

func deviceRow(typ runtime.EngineType, id string, dev runtime.Device) []string {
	info := dev.Info()
	types := dev.MemoryCapabilities().Types()
	allocs := make([]string, len(types))
	for i, t := range types {
		allocs[i] = t.String()
	}
	return []string{
		typ.String(),
		id,
		info.Name,
		info.DevType.String(),
		info.PCIBusID,
		humanBytes(info.MaxGlobalMemSize),
		humanBytes(info.MaxAllocMemSize),
		strings.Join(allocs, ","),
	}
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
