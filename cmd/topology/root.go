package topology

import (
	"fmt"

	"github.com/eliquinox/simple-rsm/cmd/util"
	"github.com/eliquinox/simple-rsm/lib/topology"
	"github.com/spf13/cobra"
)

// TopologyCmd prints every derived address of the cluster
var TopologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the derived addresses of the cluster",
	Long:  "Print the ports of every member, the ingress endpoint map used by clients and the member descriptors used by the consensus layer. Nothing is contacted.",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return util.BindCommandFlags(cmd)
	},
	RunE: run,
}

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupTopologyFlags(TopologyCmd)
}

func run(_ *cobra.Command, _ []string) error {
	t, err := util.GetTopology()
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-20s", "Node", "Host")
	for _, c := range topology.Channels {
		fmt.Printf(" %-16s", c)
	}
	fmt.Println()

	for id := 0; id < t.Size(); id++ {
		fmt.Printf("%-6d %-20s", id, t.Hostnames()[id])
		for _, c := range topology.Channels {
			fmt.Printf(" %-16d", topology.Port(t.BasePort(), id, c))
		}
		fmt.Println()
	}

	fmt.Println()
	fmt.Printf("Ingress endpoints: %s\n", t.IngressEndpoints())
	fmt.Printf("Cluster members:   %s\n", t.ClusterMembers())
	return nil
}
