package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avsync/config"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
	"github.com/babelcloud/gbox/packages/avsync/internal/version"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "avsync",
		Short: "Audio/video synchronization toolkit",
		Long: `avsync merges independently encoded video and audio streams into one
presentation-time ordered recording, and checks frame-ready render pacing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose || config.GetVerbose())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				fmt.Fprintln(cmd.OutOrStdout(), version.ClientInfo().Short())
				return nil
			}
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")

	rootCmd.AddCommand(NewRecordCommand())
	rootCmd.AddCommand(NewRenderCheckCommand())
	rootCmd.AddCommand(NewVersionCommand())

	// Enable custom help output ordering
	setupHelpCommand(rootCmd)
}
