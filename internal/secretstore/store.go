package secretstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/openmcp-project/image-promoter/internal/config"
	"github.com/openmcp-project/image-promoter/internal/status"
)

// ErrNotFound is returned when a secret does not exist (yet).
var ErrNotFound = errors.New("secret not found")

// Store resolves secrets by namespace and name.
type Store interface {
	Get(ctx context.Context, key types.NamespacedName) (*corev1.Secret, error)
}

// ClientFactory creates the cluster client of a KubernetesStore.
type ClientFactory func() (client.Reader, error)

// KubernetesStore reads secrets from the Kubernetes API. Without Client, NewClient is called on
// the first lookup and again after every failed attempt.
type KubernetesStore struct {
	Client    client.Reader
	NewClient ClientFactory

	mu sync.Mutex
}

func (s *KubernetesStore) reader() (client.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Client != nil {
		return s.Client, nil
	}
	if s.NewClient == nil {
		return nil, fmt.Errorf("kubernetes secret store has no cluster client")
	}
	c, err := s.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster client for the secret store: %w", err)
	}
	s.Client = c
	return c, nil
}

func (s *KubernetesStore) Get(ctx context.Context, key types.NamespacedName) (*corev1.Secret, error) {
	reader, err := s.reader()
	if err != nil {
		return nil, err
	}

	secret := &corev1.Secret{}
	if err := reader.Get(ctx, key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	return secret, nil
}

// DirectoryStore reads Secret manifests laid out as <root>/<namespace>/<name>.yaml, e.g. the
// output of an unsealing step written to disk.
type DirectoryStore struct {
	Root string
}

func (s *DirectoryStore) Get(_ context.Context, key types.NamespacedName) (*corev1.Secret, error) {
	path := filepath.Join(s.Root, key.Namespace, key.Name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	secret := &corev1.Secret{}
	if err := yaml.Unmarshal(data, secret); err != nil {
		return nil, fmt.Errorf("failed to parse secret file %s: %w", path, err)
	}

	// stringData takes precedence, as it does when the API server merges it into data.
	if len(secret.StringData) > 0 {
		if secret.Data == nil {
			secret.Data = map[string][]byte{}
		}
		for k, v := range secret.StringData {
			secret.Data[k] = []byte(v)
		}
		secret.StringData = nil
	}
	return secret, nil
}

// Resolve fetches a secret and classifies a missing secret as CredentialNotYetAvailable.
func Resolve(ctx context.Context, store Store, key types.NamespacedName) (*corev1.Secret, error) {
	secret, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, status.NewError(status.ReasonCredentialNotYetAvailable, err)
		}
		return nil, status.NewError(status.ReasonNetworkTransient, err)
	}
	return secret, nil
}

// New creates the store selected by the configuration. The kubernetes store creates its client
// with newClient when the first secret is looked up.
func New(cfg config.SecretStore, newClient ClientFactory) (Store, error) {
	switch cfg.Kind {
	case config.SecretStoreDirectory:
		return &DirectoryStore{Root: cfg.Path}, nil
	case config.SecretStoreKubernetes:
		if newClient == nil {
			return nil, fmt.Errorf("kubernetes secret store requires a cluster client")
		}
		return &KubernetesStore{NewClient: newClient}, nil
	default:
		return nil, fmt.Errorf("unsupported secret store kind %q", cfg.Kind)
	}
}
