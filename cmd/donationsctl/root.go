package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"donations/internal/cli"
	"donations/internal/log"
)

// app carries what every command needs. newServices is swapped in tests.
type app struct {
	out         io.Writer
	errOut      io.Writer
	newServices func(ctx context.Context) (*cli.Services, error)
	svc         *cli.Services
}

func newApp(out io.Writer) *app {
	return &app{out: out, newServices: servicesFromEnv}
}

// servicesFromEnv builds services the way the server does, logging to stderr so
// command output stays clean.
func servicesFromEnv(ctx context.Context) (*cli.Services, error) {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	lc := log.DefaultConfig()
	lc.Output = os.Stderr
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		lc.Level = level
	}
	return cli.NewServices(ctx, cfg, log.New(lc), true)
}

func (a *app) services(ctx context.Context) (*cli.Services, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	svc, err := a.newServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	a.svc = svc
	return svc, nil
}

func (a *app) close() {
	if a.svc != nil {
		_ = a.svc.Close()
		a.svc = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "donationsctl",
		Short:         "Inspect and maintain the donations dataset",
		Long:          "Load, summarise, add to, import into and export the donations dataset using the same sources and storage as the server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(a.out)
	if a.errOut != nil {
		root.SetErr(a.errOut)
	}

	root.AddCommand(
		newLoadCmd(a),
		newYearsCmd(a),
		newTotalsCmd(a),
		newAddCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newTemplateCmd(a),
		newSheetsLoginCmd(a),
	)
	return root
}

// execute runs the command line and releases services whether or not the
// command failed.
func execute(a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	defer a.close()
	return root.Execute()
}
