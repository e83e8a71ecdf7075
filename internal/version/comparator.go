package version

import (
	"cmp"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

var ErrInvalidPattern = fmt.Errorf("%w: invalid tag pattern", model.ErrConfiguration)

var zeroVersion = semver.New(0, 0, 0, "", "")

// Evaluate filters tags by the workload's include or exclude patterns and
// reports the newest tag above the workload's current version. The input
// workload is not modified.
func Evaluate(w model.Workload, tags []string) (model.Workload, error) {
	log := logging.ForWorkload(w.Name, w.Namespace)

	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)

	filtered, err := Filter(sorted, w.IncludePattern, w.ExcludePattern)
	if err != nil {
		return w, err
	}

	current := Parse(w.CurrentVersion)
	if current == nil {
		current = zeroVersion
	}

	w.LatestVersion = ""
	w.UpdateAvailable = model.NotAvailable
	for _, tag := range filtered {
		candidate := Parse(tag)
		if candidate == nil {
			log.Debugf("tag %s is not a valid semantic version", tag)
			continue
		}
		if Newer(candidate, current) {
			w.LatestVersion = tag
		}
	}
	if w.LatestVersion != "" {
		w.UpdateAvailable = model.Available
		log.Infof("latest version for %s: %s", w.Image, w.LatestVersion)
	}
	return w, nil
}

// Filter keeps tags matching any include pattern. Exclude patterns are only
// consulted when include is nil, and drop tags matching any of them.
func Filter(tags []string, include, exclude *string) ([]string, error) {
	switch {
	case include != nil:
		patterns, err := compile(*include)
		if err != nil {
			return nil, err
		}
		return keep(tags, func(tag string) bool { return matchesAny(patterns, tag) }), nil
	case exclude != nil:
		patterns, err := compile(*exclude)
		if err != nil {
			return nil, err
		}
		return keep(tags, func(tag string) bool { return !matchesAny(patterns, tag) }), nil
	}
	return tags, nil
}

// Parse strips everything before the first digit and parses the remainder as
// a strict semantic version. It returns nil when the tag does not parse.
func Parse(tag string) *semver.Version {
	stripped := strings.TrimLeftFunc(tag, func(r rune) bool { return !unicode.IsDigit(r) })
	v, err := semver.StrictNewVersion(stripped)
	if err != nil {
		return nil
	}
	return v
}

// Newer reports whether a ranks above b. Versions equal in precedence are
// ordered by build metadata: none ranks lowest, then identifiers compare
// left to right, numerically when both are numeric.
func Newer(a, b *semver.Version) bool {
	if c := a.Compare(b); c != 0 {
		return c > 0
	}
	return compareMetadata(a.Metadata(), b.Metadata()) > 0
}

func compareMetadata(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	left, right := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(left) && i < len(right); i++ {
		if c := compareIdentifier(left[i], right[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(left), len(right))
}

func compareIdentifier(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(an, bn)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

func compile(list string) ([]*regexp.Regexp, error) {
	parts := strings.Split(list, ",")
	patterns := make([]*regexp.Regexp, 0, len(parts))
	for _, p := range parts {
		re, err := regexp.Compile(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

func matchesAny(patterns []*regexp.Regexp, tag string) bool {
	for _, re := range patterns {
		if re.MatchString(tag) {
			return true
		}
	}
	return false
}

func keep(tags []string, pred func(string) bool) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}
