package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"

	"github.com/openmcp-project/image-promoter/internal/config"
	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/secretstore"
	"github.com/openmcp-project/image-promoter/internal/state"
	"github.com/openmcp-project/image-promoter/internal/status"
	"github.com/openmcp-project/image-promoter/internal/version"
)

// Lister lists all tags of a repository.
type Lister func(ctx context.Context, repo name.Repository, auth authn.Authenticator) ([]string, error)

// RemoteLister lists tags with the registry API.
func RemoteLister(ctx context.Context, repo name.Repository, auth authn.Authenticator) ([]string, error) {
	return remote.List(repo,
		remote.WithAuth(auth),
		remote.WithContext(ctx),
		remote.WithUserAgent(version.UserAgent()),
	)
}

// Scanner lists the tags of image repositories.
type Scanner struct {
	Secrets secretstore.Store
	Lister  Lister
	Clock   clock.PassiveClock
}

func NewScanner(secrets secretstore.Store) *Scanner {
	return &Scanner{
		Secrets: secrets,
		Lister:  RemoteLister,
		Clock:   clock.RealClock{},
	}
}

// Scan lists the tags of repo. A repository without tags is a successful scan with an empty TagSet.
// Errors are classified with the status package reasons.
func (s *Scanner) Scan(ctx context.Context, repo config.ImageRepository) (*state.TagSet, error) {
	logger := log.GetLogger().WithFields(logrus.Fields{"repository": repo.Key().String(), "image": repo.Image})

	var opts []name.Option
	if repo.Insecure {
		opts = append(opts, name.Insecure)
	}
	ref, err := name.NewRepository(repo.Image, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse image %s: %w", repo.Image, err)
	}

	auth := authn.Anonymous
	if repo.SecretRef != nil {
		key := types.NamespacedName{Namespace: repo.Namespace, Name: repo.SecretRef.Name}
		secret, err := secretstore.Resolve(ctx, s.Secrets, key)
		if err != nil {
			return nil, err
		}
		auth, err = AuthenticatorFromSecret(secret, ref)
		if err != nil {
			return nil, status.NewError(status.ReasonAuthRejected, err)
		}
	}

	scanCtx, cancel := context.WithTimeout(ctx, repo.ScanTimeout())
	defer cancel()

	logger.Debug("Listing tags")
	tags, err := s.Lister(scanCtx, ref, auth)
	if err != nil {
		return nil, classify(err)
	}

	exclusions := make([]*regexp.Regexp, 0, len(repo.ExclusionList))
	for _, pattern := range repo.ExclusionList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", pattern, err)
		}
		exclusions = append(exclusions, re)
	}

	tagSet := &state.TagSet{
		Image:     repo.Image,
		Tags:      filterTags(tags, exclusions),
		ScannedAt: s.now(),
	}
	logger.Debugf("Found %d tags (%d excluded)", len(tagSet.Tags), len(tags)-len(tagSet.Tags))
	return tagSet, nil
}

func (s *Scanner) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// filterTags drops excluded tags and duplicates and sorts the result.
func filterTags(tags []string, exclusions []*regexp.Regexp) []string {
	seen := make(map[string]bool, len(tags))
	result := make([]string, 0, len(tags))
outer:
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		for _, re := range exclusions {
			if re.MatchString(tag) {
				continue outer
			}
		}
		result = append(result, tag)
	}
	sort.Strings(result)
	return result
}

func classify(err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		for _, diagnostic := range terr.Errors {
			switch diagnostic.Code {
			case transport.NameUnknownErrorCode:
				return status.NewError(status.ReasonRepositoryNotFound, err)
			case transport.UnauthorizedErrorCode, transport.DeniedErrorCode:
				return status.NewError(status.ReasonAuthRejected, err)
			}
		}
		switch terr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return status.NewError(status.ReasonAuthRejected, err)
		case http.StatusNotFound:
			return status.NewError(status.ReasonRepositoryNotFound, err)
		}
		return status.NewError(status.ReasonNetworkTransient, err)
	}

	// timeouts, connection failures and anything else the registry did not answer explicitly
	return status.NewError(status.ReasonNetworkTransient, err)
}
