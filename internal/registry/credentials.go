package registry

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	corev1 "k8s.io/api/core/v1"
)

const (
	SecretKeyUsername = "username"
	SecretKeyPassword = "password"
)

type dockerConfigJSON struct {
	Auths map[string]authn.AuthConfig `json:"auths"`
}

// AuthenticatorFromSecret returns the credentials a secret holds for the registry of repo.
// Secrets of type kubernetes.io/dockerconfigjson are matched by registry host; any other
// secret must carry username and password keys.
func AuthenticatorFromSecret(secret *corev1.Secret, repo name.Repository) (authn.Authenticator, error) {
	if b, ok := secret.Data[corev1.DockerConfigJsonKey]; ok && len(b) > 0 {
		var cfg dockerConfigJSON
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s in secret %s/%s: %w", corev1.DockerConfigJsonKey, secret.Namespace, secret.Name, err)
		}
		registry := repo.RegistryStr()
		for key, auth := range cfg.Auths {
			if registryHost(key) == registry {
				return authn.FromConfig(auth), nil
			}
		}
		return nil, fmt.Errorf("secret %s/%s has no credentials for registry %s", secret.Namespace, secret.Name, registry)
	}

	username, password := secret.Data[SecretKeyUsername], secret.Data[SecretKeyPassword]
	if len(username) == 0 || len(password) == 0 {
		return nil, fmt.Errorf("secret %s/%s must contain %s or %s and %s", secret.Namespace, secret.Name, corev1.DockerConfigJsonKey, SecretKeyUsername, SecretKeyPassword)
	}
	return authn.FromConfig(authn.AuthConfig{Username: string(username), Password: string(password)}), nil
}

// registryHost normalizes a docker config auths key like "https://index.docker.io/v1/" to the
// registry name used by go-containerregistry.
func registryHost(key string) string {
	value := key
	if !strings.HasPrefix(value, "https://") && !strings.HasPrefix(value, "http://") {
		value = "https://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return key
	}
	host := parsed.Host
	if host == "docker.io" || host == "registry-1.docker.io" {
		host = name.DefaultRegistry
	}
	return host
}
