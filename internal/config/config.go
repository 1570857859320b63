package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fluxcd/pkg/apis/meta"
	"github.com/google/go-containerregistry/pkg/name"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	DefaultNamespace         = "default"
	DefaultExclusionPattern  = `^.*\.sig$`
	DefaultScanTimeout       = 60 * time.Second
	DefaultPushTimeout       = 2 * time.Minute
	DefaultUpdatePath        = "."
	DefaultAuthorName        = "image-promoter"
	DefaultAuthorEmail       = "image-promoter@users.noreply.local"
	DefaultServerAddress     = ":8080"
	DefaultEscalateThreshold = 3

	OrderAsc  = "asc"
	OrderDesc = "desc"

	SecretStoreKubernetes = "kubernetes"
	SecretStoreDirectory  = "directory"
)

type ControllerConfig struct {
	ImageRepositories      []ImageRepository       `json:"imageRepositories"`
	ImagePolicies          []ImagePolicy           `json:"imagePolicies"`
	ImageUpdateAutomations []ImageUpdateAutomation `json:"imageUpdateAutomations"`
	SecretStore            SecretStore             `json:"secretStore"`
	Retry                  Retry                   `json:"retry"`
	Server                 Server                  `json:"server"`
}

// ImageRepository is a registry repository whose tags are scanned periodically.
type ImageRepository struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	// Image is the repository reference without tag or digest, e.g. ghcr.io/org/app.
	Image    string           `json:"image"`
	Interval metav1.Duration  `json:"interval"`
	Timeout  *metav1.Duration `json:"timeout,omitempty"`
	// SecretRef names a secret in the same namespace holding registry credentials.
	SecretRef *meta.LocalObjectReference `json:"secretRef,omitempty"`
	// ExclusionList holds regular expressions; matching tags are dropped from the scan result.
	ExclusionList []string `json:"exclusionList,omitempty"`
	Insecure      bool     `json:"insecure,omitempty"`
	Suspend       bool     `json:"suspend,omitempty"`
}

// ImagePolicy selects one tag from the tags of an ImageRepository.
type ImagePolicy struct {
	Name               string                         `json:"name"`
	Namespace          string                         `json:"namespace,omitempty"`
	ImageRepositoryRef meta.NamespacedObjectReference `json:"imageRepositoryRef"`
	Policy             PolicyChoice                   `json:"policy"`
	FilterTags         *TagFilter                     `json:"filterTags,omitempty"`
}

// PolicyChoice holds exactly one selection rule.
type PolicyChoice struct {
	SemVer       *SemVerPolicy       `json:"semver,omitempty"`
	Numerical    *NumericalPolicy    `json:"numerical,omitempty"`
	Alphabetical *AlphabeticalPolicy `json:"alphabetical,omitempty"`
}

type SemVerPolicy struct {
	Range string `json:"range"`
}

type NumericalPolicy struct {
	// Order is asc (select the highest value) or desc (select the lowest value).
	Order string `json:"order,omitempty"`
}

type AlphabeticalPolicy struct {
	Order string `json:"order,omitempty"`
}

// TagFilter restricts the candidate tags and optionally extracts the value the rule orders by.
type TagFilter struct {
	Pattern string `json:"pattern"`
	// Extract is a regexp expansion template like "$ts". If empty and Pattern has exactly
	// one named group, that group is used.
	Extract string `json:"extract,omitempty"`
}

// ImageUpdateAutomation rewrites marked fields in a Git repository and pushes the result.
type ImageUpdateAutomation struct {
	Name      string          `json:"name"`
	Namespace string          `json:"namespace,omitempty"`
	Interval  metav1.Duration `json:"interval"`
	SourceRef GitSource       `json:"sourceRef"`
	Git       GitSpec         `json:"git"`
	Update    UpdateStrategy  `json:"update,omitempty"`
	Suspend   bool            `json:"suspend,omitempty"`
}

type GitSource struct {
	URL string `json:"url"`
	// SecretRef names a secret in the same namespace holding Git credentials.
	SecretRef *meta.LocalObjectReference `json:"secretRef,omitempty"`
}

type GitSpec struct {
	Checkout GitCheckout `json:"checkout"`
	Commit   CommitSpec  `json:"commit"`
	Push     *PushSpec   `json:"push,omitempty"`
}

type GitCheckout struct {
	Branch string `json:"branch"`
}

type CommitSpec struct {
	Author          CommitUser `json:"author"`
	MessageTemplate string     `json:"messageTemplate,omitempty"`
	// MissingKey is the text/template missingkey mode of the message template: default, invalid,
	// zero or error. Empty means error.
	MissingKey string `json:"missingKey,omitempty"`
}

type CommitUser struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type PushSpec struct {
	Branch  string           `json:"branch,omitempty"`
	Timeout *metav1.Duration `json:"timeout,omitempty"`
}

type UpdateStrategy struct {
	// Path is the directory, relative to the repository root, scanned for markers.
	Path string `json:"path,omitempty"`
}

type SecretStore struct {
	// Kind is kubernetes or directory.
	Kind string `json:"kind,omitempty"`
	// Path is the root of a directory store laid out as <namespace>/<name>.yaml.
	Path string `json:"path,omitempty"`
	// Kubeconfig used by the kubernetes store. Falls back to KUBECONFIG and ~/.kube/config.
	Kubeconfig string `json:"kubeconfig,omitempty"`
}

type Retry struct {
	InitialInterval     metav1.Duration `json:"initialInterval,omitempty"`
	Multiplier          float64         `json:"multiplier,omitempty"`
	RandomizationFactor *float64        `json:"randomizationFactor,omitempty"`
	PushConflictRetries *int            `json:"pushConflictRetries,omitempty"`
	EscalationThreshold int             `json:"escalationThreshold,omitempty"`
}

type Server struct {
	Address  string `json:"address,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

func (r *ImageRepository) Key() types.NamespacedName {
	return types.NamespacedName{Namespace: r.Namespace, Name: r.Name}
}

// ScanTimeout returns the per-scan timeout.
func (r *ImageRepository) ScanTimeout() time.Duration {
	if r.Timeout != nil && r.Timeout.Duration > 0 {
		return r.Timeout.Duration
	}
	return DefaultScanTimeout
}

func (p *ImagePolicy) Key() types.NamespacedName {
	return types.NamespacedName{Namespace: p.Namespace, Name: p.Name}
}

// RepositoryKey returns the identity of the referenced ImageRepository.
func (p *ImagePolicy) RepositoryKey() types.NamespacedName {
	ns := p.ImageRepositoryRef.Namespace
	if ns == "" {
		ns = p.Namespace
	}
	return types.NamespacedName{Namespace: ns, Name: p.ImageRepositoryRef.Name}
}

func (a *ImageUpdateAutomation) Key() types.NamespacedName {
	return types.NamespacedName{Namespace: a.Namespace, Name: a.Name}
}

// PushBranch returns the branch pushed to, defaulting to the checkout branch.
func (a *ImageUpdateAutomation) PushBranch() string {
	if a.Git.Push != nil && a.Git.Push.Branch != "" {
		return a.Git.Push.Branch
	}
	return a.Git.Checkout.Branch
}

// PushTimeout returns the timeout for a single push.
func (a *ImageUpdateAutomation) PushTimeout() time.Duration {
	if a.Git.Push != nil && a.Git.Push.Timeout != nil && a.Git.Push.Timeout.Duration > 0 {
		return a.Git.Push.Timeout.Duration
	}
	return DefaultPushTimeout
}

func (r *Retry) GetPushConflictRetries() int {
	if r.PushConflictRetries == nil {
		return 1
	}
	return *r.PushConflictRetries
}

func (r *Retry) GetRandomizationFactor() float64 {
	if r.RandomizationFactor == nil {
		return 0.1
	}
	return *r.RandomizationFactor
}

// ReadFromFile reads a YAML configuration file.
func (c *ControllerConfig) ReadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.UnmarshalStrict(data, c)
}

func (c *ControllerConfig) SetDefaults() {
	for i := range c.ImageRepositories {
		r := &c.ImageRepositories[i]
		if len(r.Namespace) == 0 {
			r.Namespace = DefaultNamespace
		}
		if r.ExclusionList == nil {
			r.ExclusionList = []string{DefaultExclusionPattern}
		}
	}

	for i := range c.ImagePolicies {
		p := &c.ImagePolicies[i]
		if len(p.Namespace) == 0 {
			p.Namespace = DefaultNamespace
		}
		if p.Policy.Numerical != nil && len(p.Policy.Numerical.Order) == 0 {
			p.Policy.Numerical.Order = OrderAsc
		}
		if p.Policy.Alphabetical != nil && len(p.Policy.Alphabetical.Order) == 0 {
			p.Policy.Alphabetical.Order = OrderAsc
		}
	}

	for i := range c.ImageUpdateAutomations {
		a := &c.ImageUpdateAutomations[i]
		if len(a.Namespace) == 0 {
			a.Namespace = DefaultNamespace
		}
		if len(a.Update.Path) == 0 {
			a.Update.Path = DefaultUpdatePath
		}
		if len(a.Git.Commit.Author.Name) == 0 {
			a.Git.Commit.Author.Name = DefaultAuthorName
		}
		if len(a.Git.Commit.Author.Email) == 0 {
			a.Git.Commit.Author.Email = DefaultAuthorEmail
		}
	}

	if len(c.SecretStore.Kind) == 0 {
		if len(c.SecretStore.Path) > 0 {
			c.SecretStore.Kind = SecretStoreDirectory
		} else {
			c.SecretStore.Kind = SecretStoreKubernetes
		}
	}

	if c.Retry.InitialInterval.Duration == 0 {
		c.Retry.InitialInterval.Duration = 5 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.EscalationThreshold == 0 {
		c.Retry.EscalationThreshold = DefaultEscalateThreshold
	}

	if len(c.Server.Address) == 0 {
		c.Server.Address = DefaultServerAddress
	}
}

func (c *ControllerConfig) Validate() error {
	errs := field.ErrorList{}

	repositories := map[types.NamespacedName]bool{}
	for i, r := range c.ImageRepositories {
		p := field.NewPath("imageRepositories").Index(i)
		errs = append(errs, validateName(p, r.Name)...)

		if repositories[r.Key()] {
			errs = append(errs, field.Duplicate(p.Child("name"), r.Key().String()))
		}
		repositories[r.Key()] = true

		if len(r.Image) == 0 {
			errs = append(errs, field.Required(p.Child("image"), "image is required"))
		} else if _, err := name.NewRepository(r.Image); err != nil {
			errs = append(errs, field.Invalid(p.Child("image"), r.Image, "image must be a repository reference without tag or digest"))
		}

		if r.Interval.Duration <= 0 {
			errs = append(errs, field.Required(p.Child("interval"), "interval must be greater than zero"))
		}

		for j, pattern := range r.ExclusionList {
			if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, field.Invalid(p.Child("exclusionList").Index(j), pattern, err.Error()))
			}
		}
	}

	policies := map[types.NamespacedName]bool{}
	for i, pol := range c.ImagePolicies {
		p := field.NewPath("imagePolicies").Index(i)
		errs = append(errs, validateName(p, pol.Name)...)

		if policies[pol.Key()] {
			errs = append(errs, field.Duplicate(p.Child("name"), pol.Key().String()))
		}
		policies[pol.Key()] = true

		if len(pol.ImageRepositoryRef.Name) == 0 {
			errs = append(errs, field.Required(p.Child("imageRepositoryRef", "name"), "image repository reference is required"))
		} else if !repositories[pol.RepositoryKey()] {
			errs = append(errs, field.NotFound(p.Child("imageRepositoryRef"), pol.RepositoryKey().String()))
		}

		errs = append(errs, validatePolicyChoice(p.Child("policy"), pol.Policy)...)

		if pol.FilterTags != nil {
			if _, err := regexp.Compile(pol.FilterTags.Pattern); err != nil {
				errs = append(errs, field.Invalid(p.Child("filterTags", "pattern"), pol.FilterTags.Pattern, err.Error()))
			}
		}
	}

	automations := map[types.NamespacedName]bool{}
	for i, a := range c.ImageUpdateAutomations {
		p := field.NewPath("imageUpdateAutomations").Index(i)
		errs = append(errs, validateName(p, a.Name)...)

		if automations[a.Key()] {
			errs = append(errs, field.Duplicate(p.Child("name"), a.Key().String()))
		}
		automations[a.Key()] = true

		if a.Interval.Duration <= 0 {
			errs = append(errs, field.Required(p.Child("interval"), "interval must be greater than zero"))
		}
		if len(a.SourceRef.URL) == 0 {
			errs = append(errs, field.Required(p.Child("sourceRef", "url"), "git repository url is required"))
		}
		if len(a.Git.Checkout.Branch) == 0 {
			errs = append(errs, field.Required(p.Child("git", "checkout", "branch"), "checkout branch is required"))
		}
		if mode := a.Git.Commit.MissingKey; len(mode) > 0 && !slices.Contains(missingKeyModes, mode) {
			errs = append(errs, field.NotSupported(p.Child("git", "commit", "missingKey"), mode, missingKeyModes))
		}
	}

	switch c.SecretStore.Kind {
	case SecretStoreKubernetes:
	case SecretStoreDirectory:
		if len(c.SecretStore.Path) == 0 {
			errs = append(errs, field.Required(field.NewPath("secretStore", "path"), "path is required for the directory secret store"))
		}
	default:
		errs = append(errs, field.NotSupported(field.NewPath("secretStore", "kind"), c.SecretStore.Kind, []string{SecretStoreKubernetes, SecretStoreDirectory}))
	}

	if c.Retry.Multiplier < 1 {
		errs = append(errs, field.Invalid(field.NewPath("retry", "multiplier"), c.Retry.Multiplier, "multiplier must be at least 1"))
	}
	if c.Retry.GetPushConflictRetries() < 0 {
		errs = append(errs, field.Invalid(field.NewPath("retry", "pushConflictRetries"), c.Retry.GetPushConflictRetries(), "must not be negative"))
	}

	return errs.ToAggregate()
}

func validateName(p *field.Path, name string) field.ErrorList {
	if len(name) == 0 {
		return field.ErrorList{field.Required(p.Child("name"), "name is required")}
	}
	return nil
}

func validatePolicyChoice(p *field.Path, choice PolicyChoice) field.ErrorList {
	errs := field.ErrorList{}

	numRules := 0
	if choice.SemVer != nil {
		numRules++
		if _, err := semver.NewConstraint(choice.SemVer.Range); err != nil {
			errs = append(errs, field.Invalid(p.Child("semver", "range"), choice.SemVer.Range, fmt.Sprintf("invalid semver range: %v", err)))
		}
	}
	if choice.Numerical != nil {
		numRules++
		errs = append(errs, validateOrder(p.Child("numerical", "order"), choice.Numerical.Order)...)
	}
	if choice.Alphabetical != nil {
		numRules++
		errs = append(errs, validateOrder(p.Child("alphabetical", "order"), choice.Alphabetical.Order)...)
	}

	if numRules != 1 {
		errs = append(errs, field.Invalid(p, numRules, "exactly one of semver, numerical or alphabetical must be set"))
	}

	return errs
}

var missingKeyModes = []string{"default", "invalid", "zero", "error"}

func validateOrder(p *field.Path, order string) field.ErrorList {
	if order != OrderAsc && order != OrderDesc {
		return field.ErrorList{field.NotSupported(p, order, []string{OrderAsc, OrderDesc})}
	}
	return nil
}
