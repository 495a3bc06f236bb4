package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signcrate/signcrate/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := handlers.CurrentVersion()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%s %s\n", info.App.Name, info.App.Version)
		if !extended {
			return nil
		}

		fmt.Fprintf(out, "Commit: %s\n", info.App.Commit)
		fmt.Fprintf(out, "Built: %s\n", info.App.BuildDate)
		fmt.Fprintf(out, "Go: %s (%s)\n", info.App.GoVersion, info.Runtime.Platform)
		fmt.Fprintf(out, "\n")
		fmt.Fprintf(out, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
		fmt.Fprintf(out, "Crucible: %s\n", info.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
