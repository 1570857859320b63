package policy_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fluxcd/pkg/apis/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmcp-project/image-promoter/internal/config"
	"github.com/openmcp-project/image-promoter/internal/policy"
	"github.com/openmcp-project/image-promoter/internal/state"
	"github.com/openmcp-project/image-promoter/internal/status"
)

func semverPolicy(r string) config.ImagePolicy {
	return config.ImagePolicy{
		Name:               "app",
		Namespace:          "apps",
		ImageRepositoryRef: meta.NamespacedObjectReference{Name: "app"},
		Policy:             config.PolicyChoice{SemVer: &config.SemVerPolicy{Range: r}},
	}
}

func TestResolveSemVer(t *testing.T) {
	tests := []struct {
		name    string
		rng     string
		tags    []string
		want    string
		noMatch bool
	}{
		{
			name: "highest in open range",
			rng:  ">=1.0.0",
			tags: []string{"v1.0.12", "v1.0.13", "v1.0.14", "v0.9.0"},
			want: "v1.0.14",
		},
		{
			name: "patch wildcard",
			rng:  "1.0.x",
			tags: []string{"v1.0.12", "v1.0.13"},
			want: "v1.0.13",
		},
		{
			name:    "nothing in range",
			rng:     ">=2.0.0",
			tags:    []string{"v1.0.12", "v1.0.13"},
			noMatch: true,
		},
		{
			name: "unparseable tags are ignored",
			rng:  ">=1.0.0",
			tags: []string{"latest", "main-abc123", "1.2.0", "sha256-deadbeef.sig"},
			want: "1.2.0",
		},
		{
			name: "numeric precedence, not lexicographic",
			rng:  "^1.0.0",
			tags: []string{"1.9.0", "1.10.0", "1.2.0"},
			want: "1.10.0",
		},
		{
			name: "pre-release ranks below release",
			rng:  ">=1.0.0-0",
			tags: []string{"1.1.0-rc.1", "1.1.0", "1.0.0"},
			want: "1.1.0",
		},
		{
			name: "equal versions break ties by tag string",
			rng:  ">=1.0.0",
			tags: []string{"v1.2.0", "1.2.0"},
			want: "v1.2.0",
		},
		{
			name:    "empty tag set",
			rng:     ">=1.0.0",
			tags:    nil,
			noMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Resolve(semverPolicy(tt.rng), tt.tags)
			if tt.noMatch {
				assert.True(t, errors.Is(err, policy.ErrNoMatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The selected tag is the maximum satisfying version regardless of listing order and unparseable noise.
func TestResolveSemVerProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	constraint, err := semver.NewConstraint(">=1.0.0 <3.0.0")
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		var tags []string
		var best *semver.Version
		n := rnd.Intn(20)
		for j := 0; j < n; j++ {
			v := semver.New(uint64(rnd.Intn(4)), uint64(rnd.Intn(5)), uint64(rnd.Intn(5)), "", "")
			tags = append(tags, v.String())
			if constraint.Check(v) && (best == nil || v.GreaterThan(best)) {
				best = v
			}
			if rnd.Intn(3) == 0 {
				tags = append(tags, "noise-"+v.String())
			}
		}
		rnd.Shuffle(len(tags), func(a, b int) { tags[a], tags[b] = tags[b], tags[a] })

		got, err := policy.Resolve(semverPolicy(">=1.0.0 <3.0.0"), tags)
		if best == nil {
			assert.True(t, errors.Is(err, policy.ErrNoMatch), "tags %v", tags)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, best.String(), got, "tags %v", tags)
	}
}

func TestResolveNumerical(t *testing.T) {
	p := config.ImagePolicy{
		FilterTags: &config.TagFilter{Pattern: `^main-[a-f0-9]+-(?P<ts>[0-9]+)$`},
		Policy:     config.PolicyChoice{Numerical: &config.NumericalPolicy{Order: config.OrderAsc}},
	}
	tags := []string{"main-abc123-100", "main-def456-99", "main-0a1b2c-1000", "release-1", "latest"}

	got, err := policy.Resolve(p, tags)
	require.NoError(t, err)
	assert.Equal(t, "main-0a1b2c-1000", got)

	p.Policy.Numerical.Order = config.OrderDesc
	got, err = policy.Resolve(p, tags)
	require.NoError(t, err)
	assert.Equal(t, "main-def456-99", got)

	// explicit extraction template
	p.FilterTags = &config.TagFilter{Pattern: `^build-(?P<major>\d+)\.(?P<minor>\d+)$`, Extract: "$major$minor"}
	p.Policy.Numerical.Order = config.OrderAsc
	got, err = policy.Resolve(p, []string{"build-1.9", "build-1.10", "build-2.0"})
	require.NoError(t, err)
	assert.Equal(t, "build-1.10", got, "110 > 20 > 19")
}

func TestResolveNumericalMixedValues(t *testing.T) {
	p := config.ImagePolicy{Policy: config.PolicyChoice{Numerical: &config.NumericalPolicy{Order: config.OrderAsc}}}

	got, err := policy.Resolve(p, []string{"latest", "12", "7", "stable"})
	require.NoError(t, err)
	assert.Equal(t, "12", got)

	p.Policy.Numerical.Order = config.OrderDesc
	got, err = policy.Resolve(p, []string{"latest", "12", "7", "stable"})
	require.NoError(t, err)
	assert.Equal(t, "7", got, "numeric values win over non-numeric ones in both directions")

	got, err = policy.Resolve(p, []string{"latest", "stable"})
	require.NoError(t, err)
	assert.Equal(t, "latest", got)
}

func TestResolveNumericalOnlyIntegersAreNumbers(t *testing.T) {
	tests := []struct {
		name  string
		order string
		tags  []string
		want  string
	}{
		{name: "inf", order: config.OrderAsc, tags: []string{"10", "20", "inf"}, want: "20"},
		{name: "Infinity", order: config.OrderAsc, tags: []string{"Infinity", "10", "20"}, want: "20"},
		{name: "NaN last", order: config.OrderAsc, tags: []string{"10", "20", "NaN"}, want: "20"},
		{name: "NaN first", order: config.OrderAsc, tags: []string{"NaN", "20", "10"}, want: "20"},
		{name: "exponent", order: config.OrderAsc, tags: []string{"10", "20", "1e9"}, want: "20"},
		{name: "fraction", order: config.OrderAsc, tags: []string{"10", "20", "1.5"}, want: "20"},
		{name: "fraction desc", order: config.OrderDesc, tags: []string{"10", "20", "1.5"}, want: "10"},
		{name: "long digit strings", order: config.OrderAsc, tags: []string{"99999999999999999999", "100000000000000000000"}, want: "100000000000000000000"},
		{name: "negative", order: config.OrderDesc, tags: []string{"-3", "2", "0"}, want: "-3"},
		{name: "only non-integers", order: config.OrderAsc, tags: []string{"1.5", "NaN", "inf"}, want: "inf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := config.ImagePolicy{Policy: config.PolicyChoice{Numerical: &config.NumericalPolicy{Order: tt.order}}}
			got, err := policy.Resolve(p, tt.tags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAlphabetical(t *testing.T) {
	p := config.ImagePolicy{
		FilterTags: &config.TagFilter{Pattern: `^RELEASE\.(?P<ts>.*)Z$`},
		Policy:     config.PolicyChoice{Alphabetical: &config.AlphabeticalPolicy{Order: config.OrderAsc}},
	}
	tags := []string{"RELEASE.2024-01-02T10-00-00Z", "RELEASE.2024-03-01T00-00-00Z", "RELEASE.2023-12-31T23-59-59Z", "latest"}

	got, err := policy.Resolve(p, tags)
	require.NoError(t, err)
	assert.Equal(t, "RELEASE.2024-03-01T00-00-00Z", got)

	p.Policy.Alphabetical.Order = config.OrderDesc
	got, err = policy.Resolve(p, tags)
	require.NoError(t, err)
	assert.Equal(t, "RELEASE.2023-12-31T23-59-59Z", got)

	_, err = policy.Resolve(p, []string{"latest"})
	assert.True(t, errors.Is(err, policy.ErrNoMatch))
}

func TestReconcileIsSticky(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := semverPolicy(">=1.0.0")

	next, changed := policy.Reconcile(p, nil, state.PolicyStatus{}, 1, now)
	assert.False(t, changed)
	assert.Equal(t, meta.DependencyNotReadyReason, next.Conditions.Get(meta.ReadyCondition).Reason)

	tagSet := &state.TagSet{Image: "registry/app", Tags: []string{"v1.0.13", "v1.0.14"}}
	next, changed = policy.Reconcile(p, tagSet, next, 1, now)
	assert.True(t, changed)
	assert.Equal(t, "v1.0.14", next.ResolvedTag)
	assert.Equal(t, "registry/app:v1.0.14", next.LatestRef())
	assert.True(t, next.Conditions.IsReady())

	// the repository lost every matching tag: keep the previous resolution
	emptied := &state.TagSet{Image: "registry/app", Tags: []string{"latest"}}
	next, changed = policy.Reconcile(p, emptied, next, 1, now)
	assert.False(t, changed)
	assert.Equal(t, "v1.0.14", next.ResolvedTag)
	assert.Equal(t, status.ReasonNoMatchingTag, next.Conditions.Get(meta.ReadyCondition).Reason)

	newer := &state.TagSet{Image: "registry/app", Tags: []string{"v1.0.14", "v1.1.0"}}
	next, changed = policy.Reconcile(p, newer, next, 1, now)
	assert.True(t, changed)
	assert.Equal(t, "v1.1.0", next.ResolvedTag)
	assert.Equal(t, "v1.0.14", next.PreviousTag)

	// a changed policy definition drops the previous resolution
	narrowed := semverPolicy(">=2.0.0")
	next, changed = policy.Reconcile(narrowed, newer, next, 2, now)
	assert.False(t, changed)
	assert.Empty(t, next.ResolvedTag)
	assert.False(t, next.Conditions.IsReady())
}

func TestSpecHash(t *testing.T) {
	a := semverPolicy(">=1.0.0")
	b := semverPolicy(">=1.0.0")
	assert.Equal(t, policy.SpecHash(a), policy.SpecHash(b))

	b.Policy.SemVer.Range = ">=1.1.0"
	assert.NotEqual(t, policy.SpecHash(a), policy.SpecHash(b))
}
