package deploymentrepo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"

	"github.com/openmcp-project/image-promoter/internal/config"
	gitconfig "github.com/openmcp-project/image-promoter/internal/git-config"
	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/marker"
	"github.com/openmcp-project/image-promoter/internal/secretstore"
	"github.com/openmcp-project/image-promoter/internal/status"
	"github.com/openmcp-project/image-promoter/internal/template"
	"github.com/openmcp-project/image-promoter/internal/util"
)

// Outcome is the result kind of an update run.
type Outcome string

const (
	OutcomeNoChange  Outcome = "NoChange"
	OutcomeCommitted Outcome = "Committed"
	// OutcomeDryRun reports the planned changes without committing them.
	OutcomeDryRun Outcome = "DryRun"
)

// Result describes a finished update run.
type Result struct {
	Outcome Outcome
	// Commit is the pushed commit hash. It is empty unless Outcome is OutcomeCommitted.
	Commit     string
	Changes    []marker.Change
	Files      []string
	Unresolved []marker.Marker
	Malformed  []error
	// Attempts is the number of push attempts.
	Attempts int
}

// Automator rewrites marked fields in Git repositories and pushes a single commit per run.
type Automator struct {
	// Secrets resolves the credentials referenced by an automation.
	Secrets secretstore.Store
	// GitConfig is used for automations without a secret reference. Nil means anonymous access.
	GitConfig *gitconfig.Config
	Clock     clock.PassiveClock
	// PushConflictRetries is the number of times a rejected push is rebased and retried.
	// Config overrides it with the value of the current snapshot.
	PushConflictRetries int
	Config              *config.Store
	DryRun              bool

	locks      sync.Map
	beforePush func(attempt int) error
}

func NewAutomator(secrets secretstore.Store, gitConfig *gitconfig.Config, pushConflictRetries int) *Automator {
	return &Automator{
		Secrets:             secrets,
		GitConfig:           gitConfig,
		Clock:               clock.RealClock{},
		PushConflictRetries: pushConflictRetries,
	}
}

// Run brings every marked field below the automation's update path in line with the resolutions
// of resolver. All changes of a run land in one commit. Concurrent runs of the same automation
// fail with status.ErrRunInProgress.
func (a *Automator) Run(ctx context.Context, automation *config.ImageUpdateAutomation, resolver marker.Resolver) (Result, error) {
	key := automation.Key()
	lock := a.lockFor(key)
	if !lock.TryLock() {
		return Result{}, status.ErrRunInProgress
	}
	defer lock.Unlock()

	logger := log.GetLogger().WithFields(logrus.Fields{"automation": key.String(), "url": automation.SourceRef.URL})

	gitConfig, err := a.credentials(ctx, automation)
	if err != nil {
		return Result{}, err
	}

	workDir, err := util.CreateTempDir()
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := util.DeleteTempDir(workDir); err != nil {
			logger.Warnf("Failed to clean up work directory: %v", err)
		}
	}()

	repo, err := CloneRepo(ctx, automation.SourceRef.URL, workDir, automation.Git.Checkout.Branch, gitConfig)
	if err != nil {
		return Result{}, err
	}

	pushBranch := automation.PushBranch()
	if pushBranch != automation.Git.Checkout.Branch {
		found, err := ResetToRemoteBranch(repo, pushBranch)
		if err != nil {
			return Result{}, err
		}
		if found {
			logger.Debugf("Continuing on existing push branch %s", pushBranch)
		}
	}

	retries := a.pushConflictRetries()
	snapshot := newSnapshot(resolver)
	for attempt := 1; ; attempt++ {
		result, err := a.update(repo, automation, snapshot)
		if err != nil || result.Outcome != OutcomeCommitted {
			return result, err
		}
		result.Attempts = attempt

		err = a.push(ctx, repo, automation, gitConfig, attempt)
		if err == nil {
			logger.Infof("Pushed commit %s with %d change(s) to %s", result.Commit, len(result.Changes), pushBranch)
			return result, nil
		}
		if !errors.Is(err, status.ErrPushConflict) || attempt > retries {
			return result, err
		}

		logger.Warnf("Push to %s was rejected, rebasing onto the remote branch (attempt %d)", pushBranch, attempt)
		if err := FetchRepo(ctx, repo, gitConfig); err != nil {
			return result, err
		}
		found, err := ResetToRemoteBranch(repo, pushBranch)
		if err == nil && !found {
			found, err = ResetToRemoteBranch(repo, automation.Git.Checkout.Branch)
		}
		if err != nil {
			return result, err
		}
		if !found {
			return result, status.Errorf(status.ReasonRepositoryNotFound, "branch %s no longer exists on the remote", automation.Git.Checkout.Branch)
		}
	}
}

// update scans the worktree, applies the planned changes and commits them.
func (a *Automator) update(repo *git.Repository, automation *config.ImageUpdateAutomation, resolver marker.Resolver) (Result, error) {
	logger := log.GetLogger().WithField("automation", automation.Key().String())

	workTree, err := repo.Worktree()
	if err != nil {
		return Result{}, fmt.Errorf("failed to get worktree: %w", err)
	}

	markers, malformed, err := marker.Scan(workTree.Filesystem, automation.Update.Path)
	if err != nil {
		return Result{}, err
	}
	for _, m := range malformed {
		logger.Warnf("Skipping malformed marker: %v", m)
	}

	changes, unresolved := marker.Plan(markers, resolver)
	for _, m := range unresolved {
		logger.Debugf("Policy %s of marker %s is not resolved yet", m.Policy, m)
	}

	result := Result{
		Outcome:    OutcomeNoChange,
		Changes:    changes,
		Files:      marker.Files(changes),
		Unresolved: unresolved,
		Malformed:  malformed,
	}
	if len(changes) == 0 {
		logger.Debug("All marked fields are up to date")
		return result, nil
	}
	if a.DryRun {
		result.Outcome = OutcomeDryRun
		return result, nil
	}

	if err := marker.Apply(workTree.Filesystem, changes); err != nil {
		return result, err
	}

	message, err := template.RenderCommitMessage(automation.Git.Commit.MessageTemplate, automation.Git.Commit.MissingKey, commitMessageData(automation, changes))
	if err != nil {
		return result, err
	}

	author := automation.Git.Commit.Author
	hash, err := CommitChanges(repo, result.Files, message, author.Name, author.Email, a.Clock.Now())
	if err != nil {
		return result, err
	}
	if hash.IsZero() {
		return result, nil
	}

	result.Outcome = OutcomeCommitted
	result.Commit = hash.String()
	return result, nil
}

// push pushes HEAD within the push timeout. Cancelling ctx does not abort a started push.
func (a *Automator) push(ctx context.Context, repo *git.Repository, automation *config.ImageUpdateAutomation, gitConfig *gitconfig.Config, attempt int) error {
	if a.beforePush != nil {
		if err := a.beforePush(attempt); err != nil {
			return err
		}
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), automation.PushTimeout())
	defer cancel()
	return PushRepo(pushCtx, repo, automation.PushBranch(), gitConfig)
}

func (a *Automator) credentials(ctx context.Context, automation *config.ImageUpdateAutomation) (*gitconfig.Config, error) {
	if automation.SourceRef.SecretRef == nil {
		return a.GitConfig, nil
	}

	key := types.NamespacedName{Namespace: automation.Namespace, Name: automation.SourceRef.SecretRef.Name}
	secret, err := secretstore.Resolve(ctx, a.Secrets, key)
	if err != nil {
		return nil, err
	}
	gitConfig, err := gitconfig.FromSecret(secret)
	if err != nil {
		return nil, status.NewError(status.ReasonAuthRejected, err)
	}
	return gitConfig, nil
}

func (a *Automator) pushConflictRetries() int {
	if a.Config == nil {
		return a.PushConflictRetries
	}
	retry := a.Config.Load().Config.Retry
	return retry.GetPushConflictRetries()
}

func (a *Automator) lockFor(key types.NamespacedName) *sync.Mutex {
	lock, _ := a.locks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func commitMessageData(automation *config.ImageUpdateAutomation, changes []marker.Change) template.CommitMessageData {
	data := template.CommitMessageData{
		AutomationObject: automation.Key().String(),
		Files:            marker.Files(changes),
		Policies:         map[string]string{},
	}
	for _, c := range changes {
		policy := c.Marker.Policy.String()
		data.Changes = append(data.Changes, template.CommitChange{
			File:     c.Marker.File,
			Line:     c.Marker.Line,
			Policy:   policy,
			Kind:     string(c.Marker.Kind),
			OldValue: c.OldValue,
			NewValue: c.NewValue,
		})
		data.Policies[policy] = c.Image + ":" + c.Tag
	}
	return data
}

type resolution struct {
	image, tag string
	ok         bool
}

// snapshot pins the first answer of a resolver for each policy, so retries of a run apply the
// same resolutions.
type snapshot struct {
	resolver marker.Resolver
	values   map[types.NamespacedName]resolution
}

func newSnapshot(resolver marker.Resolver) *snapshot {
	return &snapshot{resolver: resolver, values: map[types.NamespacedName]resolution{}}
}

func (s *snapshot) Resolved(policy types.NamespacedName) (string, string, bool) {
	r, ok := s.values[policy]
	if !ok {
		r.image, r.tag, r.ok = s.resolver.Resolved(policy)
		s.values[policy] = r
	}
	return r.image, r.tag, r.ok
}
