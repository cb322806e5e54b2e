package cmd

import (
	"log"
	"os"

	"github.com/josephlewis42/ushell/core"
	"github.com/josephlewis42/ushell/core/config"
	"github.com/josephlewis42/ushell/core/executor"
	"github.com/josephlewis42/ushell/core/logger"
	"github.com/spf13/cobra"
)

var (
	cfgPath     string
	commandLine string
	exitCode    int
)

func loadConfig() (*config.Configuration, error) {
	return config.Load(cfgPath)
}

// rootCmd runs the shell when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ushell [SCRIPT]",
	Short: "Unified Shell",
	Long: `An interactive shell with job control, pipelines and a set of
integrated file tools.

With no arguments ushell reads commands from the terminal. -c runs a single
command line and SCRIPT runs a file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		code, err := runShell(cmd, args)
		exitCode = code
		return err
	},
}

func runShell(cmd *cobra.Command, args []string) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 1, err
	}

	launcher, err := executor.SelfLauncher()
	if err != nil {
		return 1, err
	}

	opts := core.Options{
		Config:   cfg,
		Launcher: launcher,
		Log:      log.New(cmd.ErrOrStderr(), "", 0),
	}

	eventLog, err := cfg.OpenEventLog()
	if err != nil {
		return 1, err
	}
	if eventLog != nil {
		defer eventLog.Close()
		opts.Events = logger.NewJsonLinesLogRecorder(eventLog).NewSession()
	}

	shell, err := core.NewShell(opts)
	if err != nil {
		return 1, err
	}
	defer shell.Close()

	shell.RunStartup()
	switch {
	case shell.Quit:
	case cmd.Flags().Changed("command"):
		shell.RunCommand(commandLine)
	case len(args) == 1:
		script, err := os.Open(args[0])
		if err != nil {
			return 127, err
		}
		defer script.Close()
		shell.RunScript(script, args[0])
	default:
		shell.RunInteractive()
	}

	return shell.ExitCode(), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitCode)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultDir(), "config directory")
	rootCmd.Flags().StringVarP(&commandLine, "command", "c", "", "run COMMAND and exit")
}
