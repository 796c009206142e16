package cmd

import (
	"fmt"
	"os"

	"github.com/eliquinox/simple-rsm/cmd/serve"
	"github.com/eliquinox/simple-rsm/cmd/status"
	"github.com/eliquinox/simple-rsm/cmd/topology"
	"github.com/eliquinox/simple-rsm/cmd/value"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rsm",
		Short: "replicated state machine",
		Long: fmt.Sprintf(`rsm (v%s)

A replicated int64 value, kept consistent across a cluster by RAFT consensus.
Clients read and write it through sessions that survive leader failover.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rsm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rsm v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(value.ValueCommands)
	RootCmd.AddCommand(topology.TopologyCmd)
	RootCmd.AddCommand(status.StatusCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
