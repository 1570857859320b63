package policy

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/openmcp-project/image-promoter/internal/config"
)

// ErrNoMatch means no tag qualifies. It is an expected outcome, not a failure.
var ErrNoMatch = errors.New("no tag matches the policy")

type candidate struct {
	tag   string
	value string
}

// selector ranks candidates. The highest ranked accepted candidate is selected.
type selector interface {
	// accept reports whether the candidate takes part in the selection.
	accept(c candidate) bool
	// compare returns a negative number if a ranks below b, zero if equal and a positive number otherwise.
	compare(a, b candidate) int
}

// Resolve selects one tag from tags according to the policy.
func Resolve(p config.ImagePolicy, tags []string) (string, error) {
	candidates, err := filter(p.FilterTags, tags)
	if err != nil {
		return "", err
	}

	sel, err := newSelector(p.Policy)
	if err != nil {
		return "", err
	}

	var best *candidate
	for i := range candidates {
		c := candidates[i]
		if !sel.accept(c) {
			continue
		}
		if best == nil {
			best = &c
			continue
		}
		cmp := sel.compare(c, *best)
		// equal rank: the greater tag string wins, so the result does not depend on listing order
		if cmp > 0 || (cmp == 0 && c.tag > best.tag) {
			best = &c
		}
	}

	if best == nil {
		return "", ErrNoMatch
	}
	return best.tag, nil
}

func filter(f *config.TagFilter, tags []string) ([]candidate, error) {
	if f == nil || f.Pattern == "" {
		candidates := make([]candidate, 0, len(tags))
		for _, tag := range tags {
			candidates = append(candidates, candidate{tag: tag, value: tag})
		}
		return candidates, nil
	}

	re, err := regexp.Compile(f.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tag filter pattern %q: %w", f.Pattern, err)
	}

	extract := f.Extract
	if extract == "" {
		if group, ok := singleNamedGroup(re); ok {
			extract = "$" + group
		}
	}

	candidates := make([]candidate, 0, len(tags))
	for _, tag := range tags {
		match := re.FindStringSubmatchIndex(tag)
		if match == nil {
			continue
		}
		value := tag
		if extract != "" {
			value = string(re.ExpandString(nil, extract, tag, match))
		}
		candidates = append(candidates, candidate{tag: tag, value: value})
	}
	return candidates, nil
}

func singleNamedGroup(re *regexp.Regexp) (string, bool) {
	group := ""
	for _, n := range re.SubexpNames() {
		if n == "" {
			continue
		}
		if group != "" {
			return "", false
		}
		group = n
	}
	return group, group != ""
}

func newSelector(choice config.PolicyChoice) (selector, error) {
	switch {
	case choice.SemVer != nil:
		constraint, err := semver.NewConstraint(choice.SemVer.Range)
		if err != nil {
			return nil, fmt.Errorf("invalid semver range %q: %w", choice.SemVer.Range, err)
		}
		return &semverSelector{constraint: constraint}, nil
	case choice.Numerical != nil:
		return &numericalSelector{desc: choice.Numerical.Order == config.OrderDesc}, nil
	case choice.Alphabetical != nil:
		return &alphabeticalSelector{desc: choice.Alphabetical.Order == config.OrderDesc}, nil
	default:
		return nil, fmt.Errorf("no policy rule configured")
	}
}

// semverSelector selects the highest version within a range. Values that do not parse as
// semantic versions are ignored.
type semverSelector struct {
	constraint *semver.Constraints
}

func (s *semverSelector) accept(c candidate) bool {
	v, err := semver.NewVersion(c.value)
	if err != nil {
		return false
	}
	return s.constraint.Check(v)
}

func (s *semverSelector) compare(a, b candidate) int {
	va, _ := semver.NewVersion(a.value)
	vb, _ := semver.NewVersion(b.value)
	return va.Compare(vb)
}

// numericalSelector orders integer values by value. asc selects the highest value, desc the lowest.
// Non-integer values always rank below integers and are ordered lexicographically among themselves.
type numericalSelector struct {
	desc bool
}

func (s *numericalSelector) accept(c candidate) bool {
	return c.value != ""
}

func (s *numericalSelector) compare(a, b candidate) int {
	ia, okA := parseInteger(a.value)
	ib, okB := parseInteger(b.value)

	var cmp int
	switch {
	case okA && okB:
		cmp = ia.Cmp(ib)
	case okA:
		return 1
	case okB:
		return -1
	default:
		cmp = strings.Compare(a.value, b.value)
	}

	if s.desc {
		return -cmp
	}
	return cmp
}

// parseInteger accepts base 10 integers of any length with an optional sign.
func parseInteger(v string) (*big.Int, bool) {
	digits := strings.TrimPrefix(strings.TrimPrefix(v, "-"), "+")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return nil, false
	}
	return new(big.Int).SetString(v, 10)
}

// alphabeticalSelector orders values lexicographically. asc selects the last value, desc the first.
type alphabeticalSelector struct {
	desc bool
}

func (s *alphabeticalSelector) accept(c candidate) bool {
	return true
}

func (s *alphabeticalSelector) compare(a, b candidate) int {
	cmp := strings.Compare(a.value, b.value)
	if s.desc {
		return -cmp
	}
	return cmp
}
