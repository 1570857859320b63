package state

import (
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/types"

	"github.com/openmcp-project/image-promoter/internal/status"
)

// TagSet is the result of one successful scan. It is replaced as a whole, never merged.
type TagSet struct {
	Image     string    `json:"image"`
	Tags      []string  `json:"tags"`
	ScannedAt time.Time `json:"scannedAt"`
}

// Len returns the number of tags, zero for a nil TagSet.
func (t *TagSet) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Tags)
}

type RepositoryStatus struct {
	// TagSet is the result of the last successful scan. Failed scans leave it untouched.
	TagSet              *TagSet           `json:"-"`
	LastScanTime        time.Time         `json:"lastScanTime,omitempty"`
	LastScanResult      int               `json:"lastScanResult"`
	LastError           string            `json:"lastError,omitempty"`
	ConsecutiveFailures int               `json:"consecutiveFailures,omitempty"`
	Conditions          status.Conditions `json:"conditions,omitempty"`
}

func (s RepositoryStatus) DeepCopy() RepositoryStatus {
	s.Conditions = s.Conditions.DeepCopy()
	return s
}

type PolicyStatus struct {
	// Image is the repository the resolved tag belongs to.
	Image       string `json:"image,omitempty"`
	ResolvedTag string `json:"resolvedTag,omitempty"`
	PreviousTag string `json:"previousTag,omitempty"`
	// SpecHash identifies the policy definition the resolution was computed for.
	SpecHash   string            `json:"-"`
	ResolvedAt time.Time         `json:"resolvedAt,omitempty"`
	Conditions status.Conditions `json:"conditions,omitempty"`
}

func (s PolicyStatus) DeepCopy() PolicyStatus {
	s.Conditions = s.Conditions.DeepCopy()
	return s
}

// LatestRef returns image:tag, or "" if nothing has been resolved.
func (s PolicyStatus) LatestRef() string {
	if s.ResolvedTag == "" {
		return ""
	}
	return s.Image + ":" + s.ResolvedTag
}

type AutomationStatus struct {
	LastRunTime         time.Time         `json:"lastRunTime,omitempty"`
	LastPushTime        time.Time         `json:"lastPushTime,omitempty"`
	LastPushCommit      string            `json:"lastPushCommit,omitempty"`
	LastChangeCount     int               `json:"lastChangeCount"`
	MalformedMarkers    []string          `json:"malformedMarkers,omitempty"`
	ConsecutiveFailures int               `json:"consecutiveFailures,omitempty"`
	Conditions          status.Conditions `json:"conditions,omitempty"`
}

func (s AutomationStatus) DeepCopy() AutomationStatus {
	s.Conditions = s.Conditions.DeepCopy()
	s.MalformedMarkers = append([]string(nil), s.MalformedMarkers...)
	return s
}

// Store indexes the cells of all repositories, policies and automations.
type Store struct {
	mu           sync.RWMutex
	repositories map[types.NamespacedName]*Cell[RepositoryStatus]
	policies     map[types.NamespacedName]*Cell[PolicyStatus]
	automations  map[types.NamespacedName]*Cell[AutomationStatus]
}

func NewStore() *Store {
	return &Store{
		repositories: map[types.NamespacedName]*Cell[RepositoryStatus]{},
		policies:     map[types.NamespacedName]*Cell[PolicyStatus]{},
		automations:  map[types.NamespacedName]*Cell[AutomationStatus]{},
	}
}

func (s *Store) Repository(key types.NamespacedName) *Cell[RepositoryStatus] {
	return getOrCreate(&s.mu, s.repositories, key)
}

func (s *Store) Policy(key types.NamespacedName) *Cell[PolicyStatus] {
	return getOrCreate(&s.mu, s.policies, key)
}

func (s *Store) Automation(key types.NamespacedName) *Cell[AutomationStatus] {
	return getOrCreate(&s.mu, s.automations, key)
}

// Resolved returns the resolved image and tag of a policy.
func (s *Store) Resolved(key types.NamespacedName) (image, tag string, ok bool) {
	s.mu.RLock()
	cell, exists := s.policies[key]
	s.mu.RUnlock()
	if !exists {
		return "", "", false
	}
	st := cell.Get()
	if st.ResolvedTag == "" {
		return "", "", false
	}
	return st.Image, st.ResolvedTag, true
}

// Retain drops the state of every object not listed in the given sets.
func (s *Store) Retain(repositories, policies, automations map[types.NamespacedName]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.repositories {
		if !repositories[k] {
			delete(s.repositories, k)
		}
	}
	for k := range s.policies {
		if !policies[k] {
			delete(s.policies, k)
		}
	}
	for k := range s.automations {
		if !automations[k] {
			delete(s.automations, k)
		}
	}
}

type RepositoryOverview struct {
	Name string `json:"name"`
	RepositoryStatus
	Image    string `json:"image,omitempty"`
	TagCount int    `json:"tagCount"`
}

type PolicyOverview struct {
	Name string `json:"name"`
	PolicyStatus
	LatestRef string `json:"latestRef,omitempty"`
}

type AutomationOverview struct {
	Name string `json:"name"`
	AutomationStatus
}

// Overview is a point in time view of all cells.
type Overview struct {
	Repositories []RepositoryOverview `json:"imageRepositories"`
	Policies     []PolicyOverview     `json:"imagePolicies"`
	Automations  []AutomationOverview `json:"imageUpdateAutomations"`
}

func (s *Store) Overview() Overview {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := Overview{
		Repositories: []RepositoryOverview{},
		Policies:     []PolicyOverview{},
		Automations:  []AutomationOverview{},
	}
	for k, c := range s.repositories {
		st := c.Get()
		ro := RepositoryOverview{Name: k.String(), RepositoryStatus: st, TagCount: st.TagSet.Len()}
		if st.TagSet != nil {
			ro.Image = st.TagSet.Image
		}
		o.Repositories = append(o.Repositories, ro)
	}
	for k, c := range s.policies {
		st := c.Get()
		o.Policies = append(o.Policies, PolicyOverview{Name: k.String(), PolicyStatus: st, LatestRef: st.LatestRef()})
	}
	for k, c := range s.automations {
		o.Automations = append(o.Automations, AutomationOverview{Name: k.String(), AutomationStatus: c.Get()})
	}

	sort.Slice(o.Repositories, func(i, j int) bool { return o.Repositories[i].Name < o.Repositories[j].Name })
	sort.Slice(o.Policies, func(i, j int) bool { return o.Policies[i].Name < o.Policies[j].Name })
	sort.Slice(o.Automations, func(i, j int) bool { return o.Automations[i].Name < o.Automations[j].Name })
	return o
}

func getOrCreate[T any](mu *sync.RWMutex, m map[types.NamespacedName]*Cell[T], key types.NamespacedName) *Cell[T] {
	mu.RLock()
	c, ok := m[key]
	mu.RUnlock()
	if ok {
		return c
	}

	mu.Lock()
	defer mu.Unlock()
	if c, ok = m[key]; !ok {
		c = &Cell[T]{}
		m[key] = c
	}
	return c
}
