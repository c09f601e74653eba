// macroctl - client controller for an input-automation executor.
// Builds, edits and runs step lists against a remote executor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:                  "macroctl",
		Usage:                 "Build, edit and run input automation step lists",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file",
				Sources: cli.EnvVars("MACROCTL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Executor websocket URL (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Before: setup,
		Action: runShell,
		Commands: []*cli.Command{
			newShellCommand(),
			newSimulateCommand(),
			newExportCommand(),
			newImportCommand(),
			newValidateCommand(),
			newSchemaCommand(),
			newTrayCommand(),
			newDiscoverCommand(),
			newConfigCommand(),
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(context.Context, *cli.Command) error {
					fmt.Printf("macroctl version %s\n", version)
					return nil
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "macroctl: %v\n", err)
		os.Exit(1)
	}
}
