package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	apimachineryversion "k8s.io/apimachinery/pkg/version"

	"github.com/openmcp-project/image-promoter/internal/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long: `Print the version information of the image-promoter.

This command displays detailed version information including the build version,
Git commit, build date, Go version, and platform information.`,
	Run: func(cmd *cobra.Command, args []string) {
		ownVersion := version.GetVersion()

		if ownVersion == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Version information not available")
			return
		}

		printVersion(cmd.OutOrStdout(), ownVersion, version.Name)
	},
}

func printVersion(w io.Writer, v *apimachineryversion.Info, header string) {
	fmt.Fprintf(w, "\n%s\n", header)
	fmt.Fprintf(w, "========================\n")
	fmt.Fprintf(w, "Version:      %s\n", v.GitVersion)
	if v.GitCommit != "" {
		fmt.Fprintf(w, "Git Commit:   %s\n", v.GitCommit)
	}
	if v.GitTreeState != "" {
		fmt.Fprintf(w, "Git State:    %s\n", v.GitTreeState)
	}
	if v.BuildDate != "" {
		fmt.Fprintf(w, "Build Date:   %s\n", v.BuildDate)
	}
	fmt.Fprintf(w, "Go Version:   %s\n", v.GoVersion)
	fmt.Fprintf(w, "Compiler:     %s\n", v.Compiler)
	fmt.Fprintf(w, "Platform:     %s\n", v.Platform)
	fmt.Fprintf(w, "===================\n")
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
