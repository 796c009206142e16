package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/eliquinox/simple-rsm/cmd/util"
	"github.com/eliquinox/simple-rsm/lib/cluster"
	"github.com/eliquinox/simple-rsm/lib/rsm/service"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultNodeConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a member of the replicated value cluster",
		Long:    `Start a member of the replicated value cluster with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is RSM_<flag> (e.g. RSM_NODE_ID=1)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupTopologyFlags(ServeCmd)

	defaults := common.DefaultNodeConfig()

	key := "node-id"
	ServeCmd.PersistentFlags().Int(key, defaults.NodeID, cmdUtil.WrapString("NodeID is the position of this member in the cluster-hosts list (starting at 0)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Uint64(key, defaults.RTTMillisecond, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two members. \nThe election timeout (10 RTT) and the heartbeat interval (1 RTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Uint64(key, defaults.SnapshotEntries, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Uint64(key, defaults.CompactionOverhead, cmdUtil.WrapString("CompactionOverhead defines the number of log entries to keep after a snapshot was taken. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, defaults.DataDir, cmdUtil.WrapString("DataDir is the directory used for storing the raft log and the snapshots"))

	key = "delete-data-dir"
	ServeCmd.PersistentFlags().Bool(key, defaults.DeleteDirOnStart, cmdUtil.WrapString("Delete the data dir on start, the member rejoins with an empty log"))

	key = "session-timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.SessionTimeoutSecond, cmdUtil.WrapString("Client sessions without activity for this many seconds are closed"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Timeout in seconds of a single proposal"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the node configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.NodeID = viper.GetInt("node-id")
	serveCmdConfig.Hostnames = cmdUtil.GetHostnames()
	serveCmdConfig.BasePort = viper.GetInt("base-port")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.DeleteDirOnStart = viper.GetBool("delete-data-dir")
	serveCmdConfig.SessionTimeoutSecond = viper.GetInt64("session-timeout")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// configuration errors abort the start
	if err := serveCmdConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the member and blocks until it is interrupted
func run(_ *cobra.Command, _ []string) error {
	node, err := cluster.NewNode(serveCmdConfig, service.NewReplicatedService(serveCmdConfig.NodeID))
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal to gracefully shut down the member
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		fmt.Printf("received %s, shutting down\n", sig)
	case <-node.Done():
	}
	node.Stop()
	return nil
}
