package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmcp-project/image-promoter/internal/log"
)

type automationOutput struct {
	Name      string   `json:"name"`
	Outcome   string   `json:"outcome,omitempty"`
	Commit    string   `json:"commit,omitempty"`
	Changes   []string `json:"changes,omitempty"`
	Malformed []string `json:"malformedMarkers,omitempty"`
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Runs every image update automation once",
	Long: `Scans all image repositories, resolves all image policies and runs every image
update automation once. With --dry-run the planned changes are printed and
nothing is committed or pushed.
image-promoter update <configFile>`,
	Args: cobra.ExactArgs(1),
	ArgAliases: []string{
		"configFile",
	},
	Example: `  image-promoter update "./config.yaml" --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newComponents(cmd, args[0])
		if err != nil {
			return err
		}

		c.automator.DryRun, err = cmd.Flags().GetBool(FlagDryRun)
		if err != nil {
			return err
		}

		if err := c.manager.ScanAll(cmd.Context()); err != nil {
			log.GetLogger().Warnf("Not all image repositories could be scanned: %v", err)
		}

		results, updateErr := c.manager.UpdateAll(cmd.Context())

		var out []automationOutput
		for _, automation := range c.config.Load().Config.ImageUpdateAutomations {
			result := results[automation.Key()]
			ao := automationOutput{Name: automation.Key().String(), Outcome: string(result.Outcome), Commit: result.Commit}
			for _, change := range result.Changes {
				ao.Changes = append(ao.Changes, fmt.Sprintf("%s: %s -> %s", change.Marker, change.OldValue, change.NewValue))
			}
			for _, m := range result.Malformed {
				ao.Malformed = append(ao.Malformed, m.Error())
			}
			out = append(out, ao)
		}
		if err := printYAML(cmd, out); err != nil {
			return err
		}
		return updateErr
	},
}

func init() {
	RootCmd.AddCommand(updateCmd)
	addCommonFlags(updateCmd)
	updateCmd.Flags().Bool(FlagDryRun, false, "Print the planned changes without committing and pushing them")
}
