// Command mudra serves live sign detection from a camera over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig   = "config"
	flagAddr     = "addr"
	flagTray     = "tray"
	flagMock     = "mock"
	flagData     = "data"
	flagOut      = "out"
	flagLabel    = "label"
	flagCount    = "count"
	flagInterval = "interval"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mudra",
		Usage: "live sign language detection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"MUDRA_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "open the camera and serve the detector over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddr,
						Usage: "listen address, overrides server.addr",
					},
					&cli.BoolFlag{
						Name:  flagTray,
						Usage: "show a system tray menu",
					},
					&cli.BoolFlag{
						Name:  flagMock,
						Usage: "use the mock landmark detector",
					},
				},
				Action: serveAction,
			},
			{
				Name:  "train",
				Usage: "fit a model from recorded landmark samples",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagData,
						Usage: "sample directory laid out as `DIR`/<label>/*.json",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "where to write the model bundle",
					},
				},
				Action: trainAction,
			},
			{
				Name:  "collect",
				Usage: "record landmark samples of one sign from the camera",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagLabel,
						Usage:    "sign to record",
						Required: true,
					},
					&cli.IntFlag{
						Name:  flagCount,
						Usage: "number of samples to record",
						Value: defaultCollectCount,
					},
					&cli.DurationFlag{
						Name:  flagInterval,
						Usage: "minimum time between samples",
						Value: defaultCollectInterval,
					},
					&cli.StringFlag{
						Name:  flagData,
						Usage: "sample directory, defaults to <data_dir>/data",
					},
				},
				Action: collectAction,
			},
		},
	}
}
