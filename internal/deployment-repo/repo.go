package deploymentrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	gitconfig "github.com/openmcp-project/image-promoter/internal/git-config"
	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/status"
)

const remoteName = "origin"

// gitProgressWriter is a writer that logs Git progress messages.
type gitProgressWriter struct{}

func (w gitProgressWriter) Write(p []byte) (n int, err error) {
	logger := log.GetLogger()
	logger.Tracef("[Git] %s", string(p))
	return len(p), nil
}

// CloneRepo clones a Git repository from the specified URL to the given path and checks out branch.
// It uses the provided gitConfig to configure the clone options with authentication.
func CloneRepo(ctx context.Context, repoURL, path, branch string, gitConfig *gitconfig.Config) (*git.Repository, error) {
	logger := log.GetLogger()

	logger.Debugf("Cloning branch %s of repository %s to %s", branch, repoURL, path)

	cloneOptions := &git.CloneOptions{
		URL:           repoURL,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  false,
		Progress:      gitProgressWriter{},
	}

	if err := gitConfig.ConfigureCloneOptions(cloneOptions); err != nil {
		return nil, status.NewError(status.ReasonAuthRejected, err)
	}

	repo, err := git.PlainCloneContext(ctx, path, false, cloneOptions)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, status.Errorf(status.ReasonRepositoryNotFound, "branch %s not found in %s", branch, repoURL)
		}
		return nil, classifyGitError(fmt.Errorf("failed to clone repository: %w", err))
	}

	return repo, nil
}

// FetchRepo updates all remote tracking branches.
func FetchRepo(ctx context.Context, repo *git.Repository, gitConfig *gitconfig.Config) error {
	logger := log.GetLogger()

	logger.Debug("Fetching changes from remote repository")

	fetchOptions := &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs: []config.RefSpec{
			config.RefSpec("+refs/heads/*:refs/remotes/" + remoteName + "/*"),
		},
		Force:    true,
		Progress: gitProgressWriter{},
	}

	if err := gitConfig.ConfigureFetchOptions(fetchOptions); err != nil {
		return status.NewError(status.ReasonAuthRejected, err)
	}

	if err := repo.FetchContext(ctx, fetchOptions); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classifyGitError(fmt.Errorf("failed to fetch changes: %w", err))
	}
	return nil
}

// ResetToRemoteBranch hard resets the worktree to the remote tracking ref of branch.
// It returns false without changing anything if the remote branch does not exist.
func ResetToRemoteBranch(repo *git.Repository, branch string) (bool, error) {
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve remote branch %s: %w", branch, err)
	}

	workTree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	log.GetLogger().Debugf("Resetting worktree to %s/%s (%s)", remoteName, branch, ref.Hash())
	if err := workTree.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset}); err != nil {
		return false, fmt.Errorf("failed to reset worktree to %s/%s: %w", remoteName, branch, err)
	}
	return true, nil
}

// PushRepo pushes HEAD to branch on the remote.
// It uses the provided gitConfig to configure the push options with authentication.
func PushRepo(ctx context.Context, repo *git.Repository, branch string, gitConfig *gitconfig.Config) error {
	logger := log.GetLogger()

	logger.Debugf("Pushing changes to branch %s of remote repository", branch)

	pushOptions := &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs: []config.RefSpec{
			config.RefSpec(plumbing.HEAD + ":" + plumbing.NewBranchReferenceName(branch)),
		},
		Progress: gitProgressWriter{},
	}

	if err := gitConfig.ConfigurePushOptions(pushOptions); err != nil {
		return status.NewError(status.ReasonAuthRejected, fmt.Errorf("failed to configure push options: %w", err))
	}

	if err := repo.PushContext(ctx, pushOptions); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			logger.Info("No changes to push")
		} else {
			return classifyGitError(fmt.Errorf("failed to push changes: %w", err))
		}
	}

	return nil
}

// CommitChanges stages files and commits them with the specified message, author name, and email.
// It returns the zero hash if there was nothing to commit.
func CommitChanges(repo *git.Repository, files []string, message, name, email string, when time.Time) (plumbing.Hash, error) {
	logger := log.GetLogger()

	logger.Debugf("Committing changes with message: %s", message)

	workTree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get worktree: %w", err)
	}

	for _, file := range files {
		if _, err := workTree.Add(file); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to stage %s: %w", file, err)
		}
	}

	hash, err := workTree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  name,
			Email: email,
			When:  when,
		},
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			logger.Info("No changes to commit")
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("failed to commit changes: %w", err)
	}

	logger.Infof("Created commit: %s", hash.String())
	return hash, nil
}

// classifyGitError maps go-git transport errors to status reasons.
func classifyGitError(err error) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return status.NewError(status.ReasonAuthRejected, err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return status.NewError(status.ReasonRepositoryNotFound, err)
	case errors.Is(err, git.ErrForceNeeded),
		strings.Contains(err.Error(), "non-fast-forward"),
		strings.Contains(err.Error(), "fetch first"):
		return status.NewError(status.ReasonPushConflict, err)
	default:
		return status.NewError(status.ReasonNetworkTransient, err)
	}
}
