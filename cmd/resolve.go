package cmd

import (
	"github.com/fluxcd/pkg/apis/meta"
	"github.com/spf13/cobra"

	"github.com/openmcp-project/image-promoter/internal/log"
)

type policyOutput struct {
	Name        string `json:"name"`
	LatestRef   string `json:"latestRef,omitempty"`
	PreviousTag string `json:"previousTag,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Scans all image repositories once and prints the latest image of every policy",
	Long: `Scans all image repositories of the configuration once, applies every image
policy to the tags found and prints the selected image references.
image-promoter resolve <configFile>`,
	Args: cobra.ExactArgs(1),
	ArgAliases: []string{
		"configFile",
	},
	Example: `  image-promoter resolve "./config.yaml"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newComponents(cmd, args[0])
		if err != nil {
			return err
		}

		if err := c.manager.ScanAll(cmd.Context()); err != nil {
			log.GetLogger().Warnf("Not all image repositories could be scanned: %v", err)
		}

		var out []policyOutput
		for _, p := range c.config.Load().Config.ImagePolicies {
			st := c.state.Policy(p.Key()).Get()
			po := policyOutput{Name: p.Key().String(), LatestRef: st.LatestRef(), PreviousTag: st.PreviousTag}
			if cond := st.Conditions.Get(meta.ReadyCondition); cond != nil {
				po.Reason = cond.Reason
				po.Message = cond.Message
			}
			out = append(out, po)
		}
		return printYAML(cmd, out)
	},
}

func init() {
	RootCmd.AddCommand(resolveCmd)
	addCommonFlags(resolveCmd)
}
