package value

import (
	"context"
	"time"

	"github.com/eliquinox/simple-rsm/cmd/util"
	"github.com/eliquinox/simple-rsm/lib/rsm/client"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rsmClient *client.Client

	// ValueCommands represents the replicated value command group
	ValueCommands = &cobra.Command{
		Use:                "value",
		Short:              "Read and write the replicated value",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: stopClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add the client flags to the value command
	util.SetupClientFlags(ValueCommands)
	ValueCommands.PersistentFlags().String("log-level", "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	// Add subcommands
	ValueCommands.AddCommand(getCmd)
	ValueCommands.AddCommand(setCmd)
	ValueCommands.AddCommand(perfTestCmd)
}

// setupClient opens a session on the cluster
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	config := util.GetClientConfig()
	c, err := client.NewClient(config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.ConnectTimeoutSecond)*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		return err
	}
	rsmClient = c
	return nil
}

// stopClient closes the session
func stopClient(_ *cobra.Command, _ []string) error {
	if rsmClient == nil {
		return nil
	}
	return rsmClient.Stop()
}
