package util

import (
	"strings"

	"github.com/eliquinox/simple-rsm/lib/topology"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTopologyFlags adds the flags describing the cluster to a command
func SetupTopologyFlags(cmd *cobra.Command) {
	key := "cluster-hosts"
	cmd.PersistentFlags().String(key, "localhost", WrapString("Comma-separated, ordered list of the member hostnames. The position in the list is the node id of the member"))

	key = "base-port"
	cmd.PersistentFlags().Int(key, topology.DefaultBasePort, WrapString("Base port of the cluster. All ports of all members are derived from it"))
}

// SetupClientFlags adds the flags of the replicated value client to a command
func SetupClientFlags(cmd *cobra.Command) {
	SetupTopologyFlags(cmd)

	defaults := common.DefaultClientConfig()

	key := "timeout"
	cmd.PersistentFlags().Int(key, defaults.TimeoutSecond, WrapString("Time in seconds to wait for the response of a single attempt"))

	key = "retries"
	cmd.PersistentFlags().Int(key, defaults.RetryCount, WrapString("How many times a request is sent before it fails with a timeout"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, defaults.ConnectTimeoutSecond, WrapString("Time in seconds to wait for the session to be opened (and reattached after a failover)"))

	key = "poll-interval"
	cmd.PersistentFlags().Int(key, defaults.PollIntervalMillisecond, WrapString("Interval in milliseconds of the response polling loop"))

	key = "keep-alive-interval"
	cmd.PersistentFlags().Int(key, defaults.KeepAliveIntervalMillisecond, WrapString("Interval in milliseconds at which keep alives are sent to the cluster"))

	key = "max-idle"
	cmd.PersistentFlags().Int(key, defaults.MaxIdleMillisecond, WrapString("Maximum time in milliseconds to idle while waiting for a response"))
}

// InitConfig loads the env files and binds environment variables with the prefix RSM_
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rsm")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetHostnames returns the hostnames of the cluster
func GetHostnames() []string {
	var hostnames []string
	for _, h := range strings.Split(viper.GetString("cluster-hosts"), ",") {
		hostnames = append(hostnames, strings.TrimSpace(h))
	}
	return hostnames
}

// GetTopology returns the topology given by the flags
func GetTopology() (topology.Topology, error) {
	return topology.New(GetHostnames(), viper.GetInt("base-port"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		Hostnames:                    GetHostnames(),
		BasePort:                     viper.GetInt("base-port"),
		TimeoutSecond:                viper.GetInt("timeout"),
		RetryCount:                   viper.GetInt("retries"),
		ConnectTimeoutSecond:         viper.GetInt("connect-timeout"),
		PollIntervalMillisecond:      viper.GetInt("poll-interval"),
		KeepAliveIntervalMillisecond: viper.GetInt("keep-alive-interval"),
		MaxIdleMillisecond:           viper.GetInt("max-idle"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
