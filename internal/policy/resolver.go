package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fluxcd/pkg/apis/meta"

	"github.com/openmcp-project/image-promoter/internal/config"
	"github.com/openmcp-project/image-promoter/internal/state"
	"github.com/openmcp-project/image-promoter/internal/status"
)

// SpecHash identifies the parts of a policy that influence its resolution.
func SpecHash(p config.ImagePolicy) string {
	data, _ := json.Marshal(struct {
		Repository string              `json:"repository"`
		Policy     config.PolicyChoice `json:"policy"`
		FilterTags *config.TagFilter   `json:"filterTags,omitempty"`
	}{
		Repository: p.RepositoryKey().String(),
		Policy:     p.Policy,
		FilterTags: p.FilterTags,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reconcile computes the next status of a policy from the last successful TagSet of its repository.
// A NoMatch outcome keeps the previously resolved tag; only a changed policy definition clears it.
// tagSet is nil while the repository has not been scanned successfully.
func Reconcile(p config.ImagePolicy, tagSet *state.TagSet, prev state.PolicyStatus, generation int64, now time.Time) (next state.PolicyStatus, changed bool) {
	next = prev.DeepCopy()

	hash := SpecHash(p)
	if next.SpecHash != hash {
		next.SpecHash = hash
		next.Image = ""
		next.ResolvedTag = ""
		next.PreviousTag = ""
		next.ResolvedAt = time.Time{}
	}

	if tagSet == nil {
		status.MarkNotReady(&next.Conditions, meta.DependencyNotReadyReason,
			fmt.Sprintf("image repository %s has not been scanned successfully yet", p.RepositoryKey()), generation, now)
		return next, false
	}

	tag, err := Resolve(p, tagSet.Tags)
	switch {
	case errors.Is(err, ErrNoMatch):
		msg := fmt.Sprintf("no tag of %s matches the policy", tagSet.Image)
		if next.ResolvedTag != "" {
			status.MarkReady(&next.Conditions, status.ReasonNoMatchingTag, msg+", keeping "+next.ResolvedTag, generation, now)
		} else {
			status.MarkNotReady(&next.Conditions, status.ReasonNoMatchingTag, msg, generation, now)
		}
		return next, false
	case err != nil:
		status.MarkStalled(&next.Conditions, status.ReasonInvalidPolicy, err.Error(), generation, now)
		return next, false
	}

	changed = next.ResolvedTag != tag || next.Image != tagSet.Image
	if changed {
		next.PreviousTag = next.ResolvedTag
		next.ResolvedTag = tag
		next.ResolvedAt = now
	}
	next.Image = tagSet.Image
	status.MarkReady(&next.Conditions, meta.SucceededReason,
		fmt.Sprintf("latest image tag for %s resolved to %s", tagSet.Image, tag), generation, now)
	return next, changed
}
