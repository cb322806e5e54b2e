package cmd

import (
	"fmt"
	"sort"

	"github.com/josephlewis42/ushell/core"
	"github.com/josephlewis42/ushell/tools"
	"github.com/spf13/cobra"
)

// builtinsCmd represents the builtins command
var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "Show the commands the shell runs without searching PATH.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		var builtins []string

		for _, entry := range core.ListBuiltins() {
			builtins = append(builtins, "shell:"+entry.Name)
		}

		builtins = append(builtins, tools.Names()...)

		sort.Strings(builtins)

		for _, v := range builtins {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(builtinsCmd)
}
