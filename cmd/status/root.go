package status

import (
	"fmt"
	"time"

	"github.com/eliquinox/simple-rsm/cmd/util"
	"github.com/eliquinox/simple-rsm/lib/topology"
	controlhttp "github.com/eliquinox/simple-rsm/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// StatusCmd queries the control endpoint of every member
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the role of every member",
	Long:  "Query the control endpoint (archive-control port) of every member and print its role and the leader it knows. With --metrics the prometheus metrics of every member are printed as well.",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return util.BindCommandFlags(cmd)
	},
	RunE: run,
}

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupTopologyFlags(StatusCmd)

	key := "metrics"
	StatusCmd.Flags().Bool(key, false, util.WrapString("Print the metrics of every member"))
	key = "timeout"
	StatusCmd.Flags().Int(key, 2, util.WrapString("Timeout in seconds of every request"))
}

func run(_ *cobra.Command, _ []string) error {
	t, err := util.GetTopology()
	if err != nil {
		return err
	}
	c := controlhttp.NewControlClient(time.Duration(viper.GetInt("timeout")) * time.Second)

	reachable := 0
	for id := 0; id < t.Size(); id++ {
		endpoint, err := t.Address(id, topology.ChannelArchiveControl)
		if err != nil {
			return err
		}

		status, err := c.Status(endpoint)
		if err != nil {
			fmt.Printf("node %d (%s): unreachable: %v\n", id, endpoint, err)
			continue
		}
		reachable++
		fmt.Printf("node %d (%s): role=%s leader=%d\n", id, endpoint, status.Role, status.LeaderID)

		if viper.GetBool("metrics") {
			m, err := c.Metrics(endpoint)
			if err != nil {
				fmt.Printf("  failed to read metrics: %v\n", err)
				continue
			}
			fmt.Println(m)
		}
	}

	if reachable == 0 {
		return fmt.Errorf("no member of the cluster is reachable")
	}
	return nil
}
