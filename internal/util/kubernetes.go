package util

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/openmcp-project/image-promoter/internal/log"
)

// ResolveKubeconfigPath returns kubeconfigPath if set.
// Otherwise it tries to read the "KUBECONFIG" environment variable.
// If that is also empty, it defaults to "$HOME/.kube/config".
func ResolveKubeconfigPath(kubeconfigPath string) (string, error) {
	if len(kubeconfigPath) > 0 {
		return kubeconfigPath, nil
	}

	kubeconfigEnvVar := os.Getenv("KUBECONFIG")
	if len(kubeconfigEnvVar) > 0 {
		return kubeconfigEnvVar, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".kube", "config"), nil
}

// GetClient creates a cluster client for the kubeconfig resolved by ResolveKubeconfigPath.
// If no kubeconfig file exists, the in-cluster configuration is used.
func GetClient(kubeconfigPath string, scheme *runtime.Scheme) (client.Client, error) {
	logger := log.GetLogger()

	path, err := ResolveKubeconfigPath(kubeconfigPath)
	if err != nil {
		return nil, err
	}

	var restConfig *rest.Config
	if _, statErr := os.Stat(path); statErr == nil {
		logger.Debugf("Using kubeconfig %s", path)
		restConfig, err = clientcmd.BuildConfigFromFlags("", path)
	} else {
		logger.Debug("No kubeconfig found, using in-cluster configuration")
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("error initializing REST config: %w", err)
	}

	c, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("error initializing cluster client: %w", err)
	}

	return c, nil
}
