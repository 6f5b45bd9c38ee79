package certd

import (
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// NormalizeDomains trims, lower-cases, drops empty entries, deduplicates and sorts.
// Two domain sets are equal iff their normalized forms are equal.
func NormalizeDomains(domains []string) []string {
	out := lo.Uniq(lo.Compact(lo.Map(domains, func(d string, _ int) string {
		return strings.ToLower(strings.TrimSpace(d))
	})))
	sort.Strings(out)
	return out
}

// SplitList splits a comma separated configuration value.
func SplitList(value string) []string {
	return strings.Split(value, ",")
}

func sameDomains(a, b []string) bool {
	return slices.Equal(NormalizeDomains(a), NormalizeDomains(b))
}

// normalizeTargets keeps the configured order and drops blanks and repeats.
func normalizeTargets(targets []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(targets, func(t string, _ int) string {
		return strings.TrimSpace(t)
	})))
}
