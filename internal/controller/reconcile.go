package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fluxcd/pkg/apis/meta"
	"github.com/sirupsen/logrus"

	"github.com/openmcp-project/image-promoter/internal/config"
	deploymentrepo "github.com/openmcp-project/image-promoter/internal/deployment-repo"
	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/policy"
	"github.com/openmcp-project/image-promoter/internal/state"
	"github.com/openmcp-project/image-promoter/internal/status"
)

// newBackOff creates the retry schedule of one loop. It never gives up and never waits
// longer than interval.
func (m *Manager) newBackOff(retry config.Retry, interval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retry.InitialInterval.Duration
	b.Multiplier = retry.Multiplier
	b.RandomizationFactor = retry.GetRandomizationFactor()
	b.MaxInterval = interval
	b.MaxElapsedTime = 0
	b.Clock = m.Clock
	b.Reset()
	return b
}

func nextRetry(b *backoff.ExponentialBackOff, interval time.Duration) time.Duration {
	delay := b.NextBackOff()
	if delay == backoff.Stop || delay > interval {
		return interval
	}
	return delay
}

func escalationThreshold(retry config.Retry) int {
	if retry.EscalationThreshold <= 0 {
		return config.DefaultEscalateThreshold
	}
	return retry.EscalationThreshold
}

// reconcileRepository performs one scan step and returns the delay until the next one.
func (m *Manager) reconcileRepository(ctx context.Context, snap *config.Snapshot, repo *config.ImageRepository, b *backoff.ExponentialBackOff) time.Duration {
	interval := repo.Interval.Duration

	if repo.Suspend {
		m.State.Repository(repo.Key()).Update(func(s state.RepositoryStatus) state.RepositoryStatus {
			s = s.DeepCopy()
			status.MarkSuspended(&s.Conditions, snap.Version, m.Clock.Now())
			return s
		})
		return interval
	}

	if err := m.scan(ctx, snap, repo); err != nil {
		if ctx.Err() != nil {
			return interval
		}
		return nextRetry(b, interval)
	}
	b.Reset()
	return interval
}

// scan lists the tags of repo, records the outcome and resolves the policies of the repository.
func (m *Manager) scan(ctx context.Context, snap *config.Snapshot, repo *config.ImageRepository) error {
	key := repo.Key()
	logger := log.GetLogger().WithFields(logrus.Fields{"repository": key.String()})
	cell := m.State.Repository(key)

	start := m.Clock.Now()
	tagSet, err := m.Scanner.Scan(ctx, *repo)
	now := m.Clock.Now()
	reason := status.ReasonOf(err)

	next := cell.Get().DeepCopy()
	next.LastScanTime = now
	if err != nil {
		next.ConsecutiveFailures++
		next.LastError = err.Error()
		if status.Escalates(reason) && next.ConsecutiveFailures >= escalationThreshold(snap.Config.Retry) {
			status.MarkStalled(&next.Conditions, reason, err.Error(), snap.Version, now)
			logger.Errorf("Scan failed %d times in a row: %v", next.ConsecutiveFailures, err)
		} else {
			status.MarkNotReady(&next.Conditions, reason, err.Error(), snap.Version, now)
			logger.Warnf("Scan failed: %v", err)
		}
		cell.Store(next)
		m.recordScan(key.String(), reason, now.Sub(start), 0, false)
		return err
	}

	next.TagSet = tagSet
	next.LastScanResult = tagSet.Len()
	next.LastError = ""
	next.ConsecutiveFailures = 0
	status.MarkReady(&next.Conditions, meta.SucceededReason,
		fmt.Sprintf("successful scan: found %d tags", tagSet.Len()), snap.Version, now)
	cell.Store(next)
	m.recordScan(key.String(), reason, now.Sub(start), tagSet.Len(), true)
	logger.Debugf("Scan found %d tags", tagSet.Len())

	m.resolvePolicies(snap, func(p *config.ImagePolicy) bool {
		return p.RepositoryKey() == key
	})
	return nil
}

// resolvePolicies reconciles every policy accepted by include against the last successful
// scan of its repository. Policy cells are written only while policyMu is held.
func (m *Manager) resolvePolicies(snap *config.Snapshot, include func(p *config.ImagePolicy) bool) {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	for i := range snap.Config.ImagePolicies {
		p := &snap.Config.ImagePolicies[i]
		if !include(p) {
			continue
		}

		tagSet := m.State.Repository(p.RepositoryKey()).Get().TagSet
		cell := m.State.Policy(p.Key())
		next, changed := policy.Reconcile(*p, tagSet, cell.Get(), snap.Version, m.Clock.Now())
		cell.Store(next)

		if changed {
			logger := log.GetLogger().WithFields(logrus.Fields{"policy": p.Key().String()})
			if next.PreviousTag != "" {
				logger.Infof("Latest image tag changed from %s to %s", next.PreviousTag, next.ResolvedTag)
			} else {
				logger.Infof("Latest image tag resolved to %s", next.ResolvedTag)
			}
		}
		if m.Metrics != nil {
			m.Metrics.SetResolved(p.Key().String(), next.Image, next.ResolvedTag)
		}
	}
}

// reconcileAutomation performs one update run and returns the delay until the next one.
func (m *Manager) reconcileAutomation(ctx context.Context, snap *config.Snapshot, automation *config.ImageUpdateAutomation, b *backoff.ExponentialBackOff) time.Duration {
	interval := automation.Interval.Duration

	if automation.Suspend {
		m.State.Automation(automation.Key()).Update(func(s state.AutomationStatus) state.AutomationStatus {
			s = s.DeepCopy()
			status.MarkSuspended(&s.Conditions, snap.Version, m.Clock.Now())
			return s
		})
		return interval
	}

	if _, err := m.update(ctx, snap, automation); err != nil {
		if ctx.Err() != nil || errors.Is(err, status.ErrRunInProgress) {
			return interval
		}
		return nextRetry(b, interval)
	}
	b.Reset()
	return interval
}

// update resolves all policies and runs the automation against the result.
func (m *Manager) update(ctx context.Context, snap *config.Snapshot, automation *config.ImageUpdateAutomation) (deploymentrepo.Result, error) {
	key := automation.Key()
	logger := log.GetLogger().WithFields(logrus.Fields{"automation": key.String()})

	m.resolvePolicies(snap, func(*config.ImagePolicy) bool { return true })

	result, err := m.Updater.Run(ctx, automation, m.State)
	if errors.Is(err, status.ErrRunInProgress) {
		logger.Debug("Skipping run, the previous one is still in progress")
		return result, err
	}

	now := m.Clock.Now()
	cell := m.State.Automation(key)
	next := cell.Get().DeepCopy()
	next.LastRunTime = now
	next.MalformedMarkers = nil
	for _, e := range result.Malformed {
		next.MalformedMarkers = append(next.MalformedMarkers, e.Error())
	}

	if err != nil {
		reason := status.ReasonOf(err)
		next.ConsecutiveFailures++
		if status.Escalates(reason) && next.ConsecutiveFailures >= escalationThreshold(snap.Config.Retry) {
			status.MarkStalled(&next.Conditions, reason, err.Error(), snap.Version, now)
			logger.Errorf("Update failed %d times in a row: %v", next.ConsecutiveFailures, err)
		} else {
			status.MarkNotReady(&next.Conditions, reason, err.Error(), snap.Version, now)
			logger.Warnf("Update failed: %v", err)
		}
		cell.Store(next)
		m.recordRun(key.String(), reason, false)
		return result, err
	}

	next.ConsecutiveFailures = 0
	next.LastChangeCount = len(result.Changes)
	switch result.Outcome {
	case deploymentrepo.OutcomeCommitted:
		next.LastPushTime = now
		next.LastPushCommit = result.Commit
		status.MarkReady(&next.Conditions, meta.SucceededReason,
			fmt.Sprintf("pushed commit %s to branch %s", shortHash(result.Commit), automation.PushBranch()), snap.Version, now)
	default:
		status.MarkReady(&next.Conditions, status.ReasonNoChange, "no updates made", snap.Version, now)
	}
	cell.Store(next)
	m.recordRun(key.String(), string(result.Outcome), result.Outcome == deploymentrepo.OutcomeCommitted)
	return result, nil
}

func (m *Manager) recordScan(repository, result string, duration time.Duration, tagCount int, success bool) {
	if m.Metrics != nil {
		m.Metrics.RecordScan(repository, result, duration, tagCount, success)
	}
}

func (m *Manager) recordRun(automation, outcome string, committed bool) {
	if m.Metrics != nil {
		m.Metrics.RecordRun(automation, outcome, committed)
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
