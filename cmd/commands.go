package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"macroctl/internal/executorsim"
	"macroctl/internal/hotkey"
	"macroctl/internal/network"
	"macroctl/internal/persistence"
	"macroctl/internal/shell"
	"macroctl/internal/tray"
)

const (
	syncTimeout = 10 * time.Second
	ackTimeout  = 10 * time.Second
)

func newShellCommand() *cli.Command {
	return &cli.Command{
		Name:   "shell",
		Usage:  "Connect to the executor and open the console (default)",
		Action: runShell,
	}
}

func runShell(ctx context.Context, _ *cli.Command) error {
	cfg := configFrom(ctx).Get()
	s := newSession(cfg)
	defer s.close()

	sh := shell.New(s.ed, hotkey.NewManager(nil), shell.Options{
		LoopCount: cfg.Editor.LoopCount,
		StepsFile: cfg.Editor.StepsFile,
	})
	if err := sh.BindHotkeys(cfg.Hotkeys); err != nil {
		return err
	}

	notes, err := s.notify.Subscribe(ctx)
	if err != nil {
		return err
	}
	s.start(ctx)
	return sh.Run(ctx, notes)
}

func newSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Serve a simulated executor that plays runs without injecting input",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to simulator.addr)",
			},
			&cli.FloatFlag{
				Name:  "time-scale",
				Usage: "Multiplier applied to every step wait (defaults to simulator.time_scale)",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Require this bearer token from clients",
			},
			&cli.BoolFlag{
				Name:  "no-version-echo",
				Usage: "Omit edit versions from steps_updated",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx).Get()
			addr := cmd.String("addr")
			if addr == "" {
				addr = cfg.Simulator.Addr
			}
			scale := cmd.Float("time-scale")
			if scale <= 0 {
				scale = cfg.Simulator.TimeScale
			}
			sim := executorsim.New(executorsim.Options{
				Token:              cmd.String("token"),
				TimeScale:          scale,
				DisableVersionEcho: cmd.Bool("no-version-echo"),
			})
			return sim.ListenAndServe(ctx, addr)
		},
	}
}

func newExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Save the executor's step list to a file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := fileArg(ctx, cmd)
			if err != nil {
				return err
			}
			s := newSession(configFrom(ctx).Get())
			defer s.close()
			s.start(ctx)

			if err := s.waitSynced(ctx, syncTimeout); err != nil {
				return err
			}
			if err := s.ed.Export(path); err != nil {
				return err
			}
			fmt.Printf("exported %d steps to %s\n", s.store.Len(), path)
			return nil
		},
	}
}

func newImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the executor's step list with a file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := fileArg(ctx, cmd)
			if err != nil {
				return err
			}
			s := newSession(configFrom(ctx).Get())
			defer s.close()
			s.start(ctx)

			if err := s.waitSynced(ctx, syncTimeout); err != nil {
				return err
			}
			n, err := s.ed.Import(path)
			if err != nil {
				return err
			}
			if err := s.waitAcked(ctx, ackTimeout); err != nil {
				return err
			}
			fmt.Printf("imported %d steps from %s\n", n, path)
			return nil
		},
	}
}

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a step file without connecting",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one file")
			}
			path := cmd.Args().First()
			doc, err := persistence.Import(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok, %d steps (format %s)\n", path, len(doc.Steps), persistence.FormatFromPath(path))
			return nil
		},
	}
}

func newSchemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of step files",
		Action: func(context.Context, *cli.Command) error {
			raw, err := persistence.Schema()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(raw, '\n'))
			return err
		},
	}
}

func newTrayCommand() *cli.Command {
	return &cli.Command{
		Name:  "tray",
		Usage: "Show record, run and stop controls in the system tray",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg := configFrom(ctx).Get()
			s := newSession(cfg)
			defer s.close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			controls := tray.NewControls(s.ed, cfg.Editor.LoopCount, cancel)
			s.conn.OnStateChange(func(st network.State) {
				controls.Connected(st == network.Connected)
			})
			go func() {
				<-ctx.Done()
				controls.Stop()
			}()

			s.start(ctx)
			controls.Run()
			return nil
		},
	}
}

func newDiscoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Scan the local subnet for executors",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Value: 5000,
				Usage: "Executor port to probe",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			found, err := network.ScanLAN(ctx, int(cmd.Int("port")))
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("no executors found")
				return nil
			}
			for _, d := range found {
				fmt.Printf("%s\tsteps=%d clients=%d running=%t recording=%t\n",
					d.URL(), d.Steps, d.Clients, d.Running, d.Recording)
			}
			return nil
		},
	}
}

func newConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or write the configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(ctx context.Context, _ *cli.Command) error {
					mgr := configFrom(ctx)
					fmt.Printf("# %s\n", mgr.Path())
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(mgr.Get())
				},
			},
			{
				Name:  "init",
				Usage: "Write the effective configuration to the config file",
				Action: func(ctx context.Context, _ *cli.Command) error {
					mgr := configFrom(ctx)
					if err := mgr.Save(); err != nil {
						return err
					}
					fmt.Printf("wrote %s\n", mgr.Path())
					return nil
				},
			},
		},
	}
}

// fileArg returns the single file argument, falling back to the
// configured steps file.
func fileArg(ctx context.Context, cmd *cli.Command) (string, error) {
	switch cmd.Args().Len() {
	case 0:
		if f := configFrom(ctx).Get().Editor.StepsFile; f != "" {
			return f, nil
		}
		return "", fmt.Errorf("missing file argument")
	case 1:
		return cmd.Args().First(), nil
	default:
		return "", fmt.Errorf("expected one file, got %d", cmd.Args().Len())
	}
}
