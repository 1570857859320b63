package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"

	"github.com/openmcp-project/image-promoter/internal/config"
	deploymentrepo "github.com/openmcp-project/image-promoter/internal/deployment-repo"
	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/marker"
	"github.com/openmcp-project/image-promoter/internal/metrics"
	"github.com/openmcp-project/image-promoter/internal/state"
)

// Scanner lists the tags of an image repository.
type Scanner interface {
	Scan(ctx context.Context, repo config.ImageRepository) (*state.TagSet, error)
}

// Updater runs an update automation against the given resolutions.
type Updater interface {
	Run(ctx context.Context, automation *config.ImageUpdateAutomation, resolver marker.Resolver) (deploymentrepo.Result, error)
}

// Manager runs one loop per image repository and one per update automation of the current
// configuration snapshot and restarts them whenever the snapshot changes.
type Manager struct {
	Config  *config.Store
	State   *state.Store
	Scanner Scanner
	Updater Updater
	Metrics *metrics.Recorder
	Clock   clock.Clock

	ready    atomic.Bool
	policyMu sync.Mutex
	previous *config.Snapshot
}

func NewManager(cfg *config.Store, store *state.Store, scanner Scanner, updater Updater, recorder *metrics.Recorder) *Manager {
	return &Manager{
		Config:  cfg,
		State:   store,
		Scanner: scanner,
		Updater: updater,
		Metrics: recorder,
		Clock:   clock.RealClock{},
	}
}

// Ready reports whether the loops of the current snapshot are running.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Start runs the loops until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	logger := log.GetLogger()

	for {
		snap := m.Config.Load()
		m.retain(snap)

		loopCtx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(loopCtx)
		for i := range snap.Config.ImageRepositories {
			repo := &snap.Config.ImageRepositories[i]
			b := m.newBackOff(snap.Config.Retry, repo.Interval.Duration)
			g.Go(func() error {
				return m.loop(gctx, func(ctx context.Context) time.Duration {
					return m.reconcileRepository(ctx, snap, repo, b)
				})
			})
		}
		for i := range snap.Config.ImageUpdateAutomations {
			automation := &snap.Config.ImageUpdateAutomations[i]
			b := m.newBackOff(snap.Config.Retry, automation.Interval.Duration)
			g.Go(func() error {
				return m.loop(gctx, func(ctx context.Context) time.Duration {
					return m.reconcileAutomation(ctx, snap, automation, b)
				})
			})
		}
		m.ready.Store(true)
		logger.Infof("Started %d repository and %d automation loop(s) for configuration version %d",
			len(snap.Config.ImageRepositories), len(snap.Config.ImageUpdateAutomations), snap.Version)

		select {
		case <-ctx.Done():
			cancel()
			err := g.Wait()
			m.ready.Store(false)
			logger.Info("All loops stopped")
			return err
		case <-m.Config.Changes():
			logger.Info("Configuration changed, restarting loops")
			m.ready.Store(false)
			cancel()
			if err := g.Wait(); err != nil {
				return err
			}
		}
	}
}

// ScanAll scans every repository once and resolves the policies of each successful scan.
// It returns the first scan error.
func (m *Manager) ScanAll(ctx context.Context) error {
	snap := m.Config.Load()
	var firstErr error
	for i := range snap.Config.ImageRepositories {
		repo := &snap.Config.ImageRepositories[i]
		if err := m.scan(ctx, snap, repo); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpdateAll runs every automation once.
func (m *Manager) UpdateAll(ctx context.Context) (map[types.NamespacedName]deploymentrepo.Result, error) {
	snap := m.Config.Load()
	results := map[types.NamespacedName]deploymentrepo.Result{}
	var firstErr error
	for i := range snap.Config.ImageUpdateAutomations {
		automation := &snap.Config.ImageUpdateAutomations[i]
		result, err := m.update(ctx, snap, automation)
		results[automation.Key()] = result
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

// loop calls step until ctx is done, waiting the returned delay in between.
func (m *Manager) loop(ctx context.Context, step func(ctx context.Context) time.Duration) error {
	for {
		delay := step(ctx)

		timer := m.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

// retain drops the state and metrics of objects that left the configuration.
func (m *Manager) retain(snap *config.Snapshot) {
	repositories := map[types.NamespacedName]bool{}
	for i := range snap.Config.ImageRepositories {
		repositories[snap.Config.ImageRepositories[i].Key()] = true
	}
	policies := map[types.NamespacedName]bool{}
	for i := range snap.Config.ImagePolicies {
		policies[snap.Config.ImagePolicies[i].Key()] = true
	}
	automations := map[types.NamespacedName]bool{}
	for i := range snap.Config.ImageUpdateAutomations {
		automations[snap.Config.ImageUpdateAutomations[i].Key()] = true
	}
	m.State.Retain(repositories, policies, automations)

	if m.previous != nil && m.Metrics != nil {
		for i := range m.previous.Config.ImageRepositories {
			if key := m.previous.Config.ImageRepositories[i].Key(); !repositories[key] {
				m.Metrics.ForgetRepository(key.String())
			}
		}
		for i := range m.previous.Config.ImagePolicies {
			if key := m.previous.Config.ImagePolicies[i].Key(); !policies[key] {
				m.Metrics.ForgetPolicy(key.String())
			}
		}
	}
	m.previous = snap
}
