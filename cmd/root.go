package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openmcp-project/image-promoter/internal/log"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "image-promoter",
	Short: "Promotes new container image tags into Git repositories",
	Long: `The image-promoter watches container registries for new image tags,
selects the latest tag per image policy and commits the result to the
marked fields of Kubernetes manifests in Git repositories.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, err := cmd.Flags().GetString(FlagEnvFile)
		if err != nil {
			return err
		}
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load environment file %s: %w", envFile, err)
			}
		}

		format, err := cmd.Flags().GetString(FlagLogFormat)
		if err != nil {
			return err
		}
		return log.SetFormat(format)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := RootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringP("verbosity", "v", "info", "Set the verbosity level (panic, fatal, error, warn, info, debug, trace)")
	RootCmd.PersistentFlags().String(FlagLogFormat, log.FormatAuto, "Set the log format (text, json, auto)")
	RootCmd.PersistentFlags().String(FlagEnvFile, "", "Load environment variables like GIT_USER and GIT_TOKEN from a dotenv file")
	cobra.OnInitialize(func() {
		verbosity, err := RootCmd.PersistentFlags().GetString("verbosity")
		if err != nil {
			log.InitLogger("info")
			return
		}
		log.InitLogger(verbosity)
	})
}
