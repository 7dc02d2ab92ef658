// Package guardrail decides whether an extracted record may enter task results.
package guardrail

import (
	"strings"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Check applies the required-field rules. It returns RejectNone for a
// complete record.
func Check(p discovery.CandidateProfile) discovery.RejectReason {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return discovery.RejectMissingName
	case strings.TrimSpace(p.Title) == "":
		return discovery.RejectMissingTitle
	case strings.TrimSpace(p.Location) == "":
		return discovery.RejectMissingLocation
	case strings.TrimSpace(p.SourceURL) == "":
		return discovery.RejectMissingSourceURL
	default:
		return discovery.RejectNone
	}
}

// MatchesSkills reports whether p lists at least one of the requested
// skills, compared case-insensitively. An empty request matches everything.
func MatchesSkills(p discovery.CandidateProfile, requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	for _, want := range requested {
		for _, have := range p.Skills {
			if strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

// Validator adds the skill filter and in-task deduplication on top of Check.
// One Validator belongs to one task and is discarded with it; it is not safe
// for concurrent use.
type Validator struct {
	skills []string
	seen   map[string]struct{}
}

// NewValidator returns an empty task-scoped validator. Records must match at
// least one of skills when any are given.
func NewValidator(skills ...string) *Validator {
	return &Validator{skills: skills, seen: make(map[string]struct{})}
}

// Validate returns RejectNone and remembers the record's source URL when the
// record is accepted. Rejected records leave the dedup set untouched.
func (v *Validator) Validate(p discovery.CandidateProfile) discovery.RejectReason {
	if reason := Check(p); reason != discovery.RejectNone {
		return reason
	}
	if !MatchesSkills(p, v.skills) {
		return discovery.RejectNoMatchingSkills
	}
	key := NormalizeSourceURL(p.SourceURL)
	if _, dup := v.seen[key]; dup {
		return discovery.RejectDuplicateSourceURL
	}
	v.seen[key] = struct{}{}
	return discovery.RejectNone
}

// Accepted reports how many distinct records the validator has admitted.
func (v *Validator) Accepted() int {
	return len(v.seen)
}

// NormalizeSourceURL produces the dedup key for a profile URL.
func NormalizeSourceURL(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimRight(key, "/")
}
