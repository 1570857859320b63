package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

type repositoryOutput struct {
	Name  string   `json:"name"`
	Image string   `json:"image"`
	Tags  []string `json:"tags"`
	Error string   `json:"error,omitempty"`
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scans all image repositories once and prints their tags",
	Long: `Scans all image repositories of the configuration once and prints the
tags found, after exclusions were applied.
image-promoter scan <configFile>`,
	Args: cobra.ExactArgs(1),
	ArgAliases: []string{
		"configFile",
	},
	Example: `  image-promoter scan "./config.yaml"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newComponents(cmd, args[0])
		if err != nil {
			return err
		}

		scanErr := c.manager.ScanAll(cmd.Context())

		var out []repositoryOutput
		for _, repo := range c.config.Load().Config.ImageRepositories {
			st := c.state.Repository(repo.Key()).Get()
			ro := repositoryOutput{Name: repo.Key().String(), Image: repo.Image, Tags: []string{}, Error: st.LastError}
			if st.TagSet != nil {
				ro.Tags = st.TagSet.Tags
			}
			out = append(out, ro)
		}
		if err := printYAML(cmd, out); err != nil {
			return err
		}
		return scanErr
	},
}

func printYAML(cmd *cobra.Command, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func init() {
	RootCmd.AddCommand(scanCmd)
	addCommonFlags(scanCmd)
}
