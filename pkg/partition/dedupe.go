package partition

import "github.com/cloudposture/checks-export/pkg/posture"

// Dedupe merges overlapping partition results into a unique set, stable
// by first-seen order. Identity is the (account, check) composite key;
// records without an ID pass through unfiltered since they cannot be
// deduplicated safely. Pure function, no I/O.
func Dedupe(checks []posture.Check) []posture.Check {
	if len(checks) == 0 {
		return checks
	}

	seen := make(map[string]struct{}, len(checks))
	out := make([]posture.Check, 0, len(checks))
	for _, c := range checks {
		key := c.DedupKey()
		if key == "" {
			out = append(out, c)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
