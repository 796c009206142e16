package value

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get",
		Short: "Reads the replicated value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := rsmClient.GetValue()
			if err != nil {
				return err
			}
			fmt.Printf("value=%d, node=%d\n", value, rsmClient.LastRespondingNodeID())
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [value]",
		Short: "Replaces the replicated value",
		Long:  "Replaces the replicated value. Negative values must follow -- so they are not read as flags.",
		Example: `  rsm value set 101
  rsm value set -- -5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseValue(args[0])
			if err != nil {
				return err
			}
			value, err := rsmClient.SetValue(v)
			if err != nil {
				return err
			}
			fmt.Printf("value=%d, node=%d\n", value, rsmClient.LastRespondingNodeID())
			return nil
		},
	}
)

// parseValue parses the argument of the set command
func parseValue(arg string) (int64, error) {
	v, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value must be a number: %w", err)
	}
	return v, nil
}
