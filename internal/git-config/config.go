package gitconfig

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// Keys read from a Git credentials secret.
const (
	SecretKeyUsername    = "username"
	SecretKeyPassword    = "password"
	SecretKeyBearerToken = "bearerToken"
	SecretKeyIdentity    = "identity"
	SecretKeyPassphrase  = "password"
	SecretKeyKnownHosts  = "known_hosts"

	EnvGitUser  = "GIT_USER"
	EnvGitToken = "GIT_TOKEN"
)

// Config represents the configuration for git operations.
type Config struct {
	Authentication Authentication `json:"auth,omitempty"`
}

// Authentication holds the authentication methods for git operations.
type Authentication struct {
	BasicAuth     *BasicAuth     `json:"basic,omitempty"`
	BearerToken   *BearerToken   `json:"bearerToken,omitempty"`
	SSHPrivateKey *SSHPrivateKey `json:"sshPrivateKey,omitempty"`
}

// BasicAuth represents basic authentication credentials.
type BasicAuth struct {
	// Username is the username for basic authentication.
	Username string `json:"username,omitempty"`
	// Password is the password for basic authentication.
	Password string `json:"password,omitempty"`
}

// BearerToken represents a bearer token for authentication.
// For popular Git servers (e.g. GitHub, Bitbucket, GitLab), use basic access authentication instead.
type BearerToken struct {
	// Token is the bearer token used for authentication.
	Token string `json:"token,omitempty"`
}

// SSHPrivateKey represents an SSH private key for authentication.
type SSHPrivateKey struct {
	// PrivateKey is the base64 encoded SSH private key.
	PrivateKey string `json:"privateKey,omitempty"`
	// Passphrase decrypts a password protected private key.
	Passphrase string `json:"passphrase,omitempty"`
	// KnownHosts is the path to the known hosts file for SSH.
	KnownHosts string `json:"knownHosts,omitempty"`
	// KnownHostsData holds known_hosts entries inline. It takes precedence over KnownHosts.
	KnownHostsData string `json:"knownHostsData,omitempty"`
}

// DecodePrivateKey decodes the base64 encoded SSH private key.
func (s *SSHPrivateKey) DecodePrivateKey() ([]byte, error) {
	if s.PrivateKey == "" {
		return nil, fmt.Errorf("SSH private key is empty")
	}
	privateKeyDecoded, err := base64.StdEncoding.DecodeString(s.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode SSH private key: %w", err)
	}
	return privateKeyDecoded, nil
}

// ParseConfig reads a YAML configuration file and returns a Config object.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// FromSecret builds a Config from a credentials secret. An SSH identity wins over a bearer
// token, which wins over username and password.
func FromSecret(secret *corev1.Secret) (*Config, error) {
	data := secret.Data
	config := &Config{}

	switch {
	case len(data[SecretKeyIdentity]) > 0:
		config.Authentication.SSHPrivateKey = &SSHPrivateKey{
			PrivateKey:     base64.StdEncoding.EncodeToString(data[SecretKeyIdentity]),
			Passphrase:     string(data[SecretKeyPassphrase]),
			KnownHostsData: string(data[SecretKeyKnownHosts]),
		}
	case len(data[SecretKeyBearerToken]) > 0:
		config.Authentication.BearerToken = &BearerToken{Token: string(data[SecretKeyBearerToken])}
	case len(data[SecretKeyUsername]) > 0 || len(data[SecretKeyPassword]) > 0:
		config.Authentication.BasicAuth = &BasicAuth{
			Username: string(data[SecretKeyUsername]),
			Password: string(data[SecretKeyPassword]),
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid git credentials in secret %s/%s: %w", secret.Namespace, secret.Name, err)
	}
	return config, nil
}

// FromEnv builds a basic auth Config from GIT_USER and GIT_TOKEN. It returns nil if GIT_TOKEN is unset.
func FromEnv() *Config {
	token := os.Getenv(EnvGitToken)
	if token == "" {
		return nil
	}
	user := os.Getenv(EnvGitUser)
	if user == "" {
		user = "git"
	}
	return &Config{Authentication: Authentication{BasicAuth: &BasicAuth{Username: user, Password: token}}}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	numMethods := 0
	if c.Authentication.BasicAuth != nil {
		numMethods++
	}
	if c.Authentication.BearerToken != nil {
		numMethods++
	}
	if c.Authentication.SSHPrivateKey != nil {
		numMethods++
	}
	if numMethods > 1 {
		return fmt.Errorf("multiple authentication methods provided, only one is allowed")
	}
	if numMethods == 0 {
		return fmt.Errorf("no authentication method provided, at least one is required")
	}

	if c.Authentication.BasicAuth != nil {
		if c.Authentication.BasicAuth.Username == "" || c.Authentication.BasicAuth.Password == "" {
			return fmt.Errorf("invalid basic authentication: username and password must be provided")
		}
	}
	if c.Authentication.BearerToken != nil {
		if c.Authentication.BearerToken.Token == "" {
			return fmt.Errorf("invalid bearer token: token must be provided")
		}
	}
	if c.Authentication.SSHPrivateKey != nil {
		if c.Authentication.SSHPrivateKey.PrivateKey == "" {
			return fmt.Errorf("invalid SSH private key: private key must be provided")
		}
	}

	return nil
}

// ConfigureCloneOptions configures the provided git.CloneOptions with the authentication method from the Config.
func (c *Config) ConfigureCloneOptions(options *git.CloneOptions) error {
	auth, err := c.AuthMethod()
	if err != nil {
		return err
	}
	options.Auth = auth
	return nil
}

// ConfigureFetchOptions configures the provided git.FetchOptions with the authentication method from the Config.
func (c *Config) ConfigureFetchOptions(options *git.FetchOptions) error {
	auth, err := c.AuthMethod()
	if err != nil {
		return err
	}
	options.Auth = auth
	return nil
}

// ConfigurePushOptions configures the provided git.PushOptions with the authentication method from the Config.
func (c *Config) ConfigurePushOptions(options *git.PushOptions) error {
	auth, err := c.AuthMethod()
	if err != nil {
		return err
	}
	options.Auth = auth
	return nil
}

// AuthMethod returns the go-git transport authentication. A nil Config or one without
// any method yields anonymous access.
func (c *Config) AuthMethod() (auth transport.AuthMethod, err error) {
	if c == nil {
		return nil, nil
	}

	if c.Authentication.BasicAuth != nil {
		auth = &http.BasicAuth{
			Username: c.Authentication.BasicAuth.Username,
			Password: c.Authentication.BasicAuth.Password,
		}
	}

	if c.Authentication.BearerToken != nil {
		auth = &http.TokenAuth{
			Token: c.Authentication.BearerToken.Token,
		}
	}

	if c.Authentication.SSHPrivateKey != nil {
		key := c.Authentication.SSHPrivateKey
		privateKeyDecoded, err := key.DecodePrivateKey()
		if err != nil {
			return nil, err
		}

		publicKeys, err := ssh.NewPublicKeys("git", privateKeyDecoded, key.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
		}

		switch {
		case key.KnownHostsData != "":
			callback, err := knownHostsCallback([]byte(key.KnownHostsData))
			if err != nil {
				return nil, err
			}
			publicKeys.HostKeyCallback = callback
		case key.KnownHosts != "":
			callback, err := ssh.NewKnownHostsCallback(key.KnownHosts)
			if err != nil {
				return nil, fmt.Errorf("failed to read known hosts file %s: %w", key.KnownHosts, err)
			}
			publicKeys.HostKeyCallback = callback
		}
		auth = publicKeys
	}

	return auth, nil
}
