package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-sdn/pkg/app"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

func newRun(flags *globalFlags) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller until interrupted",
		Long: `Run loads the topology, serves the operator API and keeps every
connected switch's flow table in sync with the topology. SIGHUP reloads the
topology file; SIGINT and SIGTERM stop the controller.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(background(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(app.Options{Config: cfg, Logger: logger, Simulate: simulate})
			if err != nil {
				return err
			}
			logger.Info("controller starting",
				logging.Path(cfg.Topology.File),
				logging.String("addr", cfg.Server.Addr),
				logging.Bool("simulate", simulate))
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", false, "drive in-memory switches instead of a real transport")
	return cmd
}

// background is used by commands that run outside signal handling.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
