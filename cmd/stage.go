package cmd

import (
	"os"

	"github.com/josephlewis42/ushell/core"
	"github.com/josephlewis42/ushell/core/executor"
	"github.com/spf13/cobra"
)

// stageCmd runs one stage of a pipeline in a child process.
var stageCmd = &cobra.Command{
	Use:                executor.StageCommand + " [--in=FILE] [--out=FILE [--append]] -- ARGV...",
	Short:              "Run a single pipeline stage.",
	Hidden:             true,
	DisableFlagParsing: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(executor.RunStage(core.NewStageShell(), args) & 0xff)
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
}
