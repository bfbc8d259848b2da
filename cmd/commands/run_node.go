package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	nm "bftchain/node"
)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a node
func AddNodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("moniker", config.Moniker, "node name")
	cmd.Flags().String("db_backend", config.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", config.DBPath, "database directory")

	cmd.Flags().Bool("pbft.enabled", config.PBFT.Enabled, "run the PBFT finality layer")
	cmd.Flags().Int64("pbft.checkpoint_interval", config.PBFT.CheckpointInterval, "blocks between two checkpoints")
	cmd.Flags().Duration("pbft.view_change_timeout", config.PBFT.ViewChangeTimeout,
		"start a view change when no block became irreversible for this long")

	cmd.Flags().Bool("instrumentation.prometheus", config.Instrumentation.Prometheus, "serve Prometheus metrics")
	cmd.Flags().String("instrumentation.prometheus_listen_addr", config.Instrumentation.PrometheusListenAddr,
		"Prometheus listen address")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
// It can be used with a custom PrivValidator and in-process ABCI application.
func NewRunNodeCmd(nodeProvider nm.Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("Started node", "chain", n.GenesisDoc().ChainID, "head", n.Chain().HeadBlockState().Height)

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
