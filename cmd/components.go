package cmd

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/api/equality"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/openmcp-project/image-promoter/internal/config"
	"github.com/openmcp-project/image-promoter/internal/controller"
	deploymentrepo "github.com/openmcp-project/image-promoter/internal/deployment-repo"
	gitconfig "github.com/openmcp-project/image-promoter/internal/git-config"
	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/metrics"
	"github.com/openmcp-project/image-promoter/internal/registry"
	"github.com/openmcp-project/image-promoter/internal/scheme"
	"github.com/openmcp-project/image-promoter/internal/secretstore"
	"github.com/openmcp-project/image-promoter/internal/state"
	"github.com/openmcp-project/image-promoter/internal/util"
)

// components wires the controller parts for one configuration file.
type components struct {
	config    *config.Store
	state     *state.Store
	recorder  *metrics.Recorder
	automator *deploymentrepo.Automator
	manager   *controller.Manager
}

func newComponents(cmd *cobra.Command, configPath string) (*components, error) {
	logger := log.GetLogger()

	// disable controller-runtime logging
	controllerruntime.SetLogger(logr.Discard())

	cfgStore, err := config.NewStore(configPath)
	if err != nil {
		return nil, err
	}
	cfg := cfgStore.Load().Config

	kubeconfig := cfg.SecretStore.Kubeconfig
	if flag := cmd.Flag(FlagKubeConfig).Value.String(); flag != "" {
		kubeconfig = flag
	}
	secrets, err := secretstore.New(cfg.SecretStore, func() (client.Reader, error) {
		return util.GetClient(kubeconfig, scheme.NewScheme())
	})
	if err != nil {
		return nil, err
	}

	gitConfig, err := fallbackGitConfig(cmd.Flag(FlagGitConfig).Value.String())
	if err != nil {
		return nil, err
	}
	if gitConfig == nil {
		logger.Debug("No fallback Git credentials configured, using anonymous access for automations without secretRef")
	}

	c := &components{
		config:    cfgStore,
		state:     state.NewStore(),
		recorder:  metrics.NewRecorder(),
		automator: deploymentrepo.NewAutomator(secrets, gitConfig, cfg.Retry.GetPushConflictRetries()),
	}
	c.automator.Config = cfgStore
	c.manager = controller.NewManager(c.config, c.state, registry.NewScanner(secrets), c.automator, c.recorder)
	return c, nil
}

// fallbackGitConfig reads the Git credentials file, or GIT_USER and GIT_TOKEN if no file is given.
func fallbackGitConfig(path string) (*gitconfig.Config, error) {
	if path == "" {
		return gitconfig.FromEnv(), nil
	}
	gitConfig, err := gitconfig.ParseConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read git config file %s: %w", path, err)
	}
	if err := gitConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid git config file %s: %w", path, err)
	}
	return gitConfig, nil
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.Flags().String(FlagKubeConfig, "", "Kubernetes configuration file, used by the kubernetes secret store")
	cmd.Flags().String(FlagGitConfig, "", "Git credentials configuration file that configures basic auth, a bearer token or an ssh private key. It is used for automations without secretRef. If not set, GIT_USER and GIT_TOKEN are used.")
}

// restartRequired lists the settings of next that only take effect after a restart.
func restartRequired(current, next *config.ControllerConfig) []string {
	var settings []string
	if !equality.Semantic.DeepEqual(current.SecretStore, next.SecretStore) {
		settings = append(settings, "secretStore")
	}
	if !equality.Semantic.DeepEqual(current.Server, next.Server) {
		settings = append(settings, "server")
	}
	return settings
}
