// Command sdnctl runs the SDN controller and inspects topology documents.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-sdn/pkg/config"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

type globalFlags struct {
	config   string
	logLevel string
}

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var flags globalFlags
	cmd := &cobra.Command{
		Use:   filepath.Base(os.Args[0]),
		Short: "Out-of-band SDN controller",
		Args:  cobra.NoArgs,
		// main prints the error once.
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "sdnctl.yaml", "configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newRun(&flags),
		newTopology(&flags),
		newConfig(&flags),
	)
	return cmd
}

// setup loads the configuration and builds the logger every command uses.
func (f *globalFlags) setup() (*config.Config, *logging.JSONLogger, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.Log.Level))
	return cfg, logger, nil
}

func newConfig(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, _, err := flags.setup()
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
