package discovery

import (
	"fmt"
	"strings"
)

// CriteriaLimits controls defaulting and capping of MaxResults.
type CriteriaLimits struct {
	DefaultMaxResults int
	Ceiling           int
}

// DefaultCriteriaLimits mirrors the service defaults.
var DefaultCriteriaLimits = CriteriaLimits{DefaultMaxResults: 20, Ceiling: 100}

// NewSearchCriteria trims and validates the request fields. Skills are
// deduplicated case-insensitively in the order given. A nil maxResults takes
// the default, an explicit value must be positive, and anything above the
// ceiling is capped.
func NewSearchCriteria(title, location, company string, skills []string, maxResults *int, limits CriteriaLimits) (SearchCriteria, error) {
	title = strings.TrimSpace(title)
	location = strings.TrimSpace(location)
	if title == "" {
		return SearchCriteria{}, fmt.Errorf("%w: title is required", ErrInvalidCriteria)
	}
	if location == "" {
		return SearchCriteria{}, fmt.Errorf("%w: location is required", ErrInvalidCriteria)
	}
	if maxResults != nil && *maxResults <= 0 {
		return SearchCriteria{}, fmt.Errorf("%w: max_results must be positive", ErrInvalidCriteria)
	}
	if limits.DefaultMaxResults <= 0 {
		limits.DefaultMaxResults = DefaultCriteriaLimits.DefaultMaxResults
	}
	if limits.Ceiling <= 0 {
		limits.Ceiling = DefaultCriteriaLimits.Ceiling
	}
	limit := limits.DefaultMaxResults
	if maxResults != nil {
		limit = *maxResults
	}
	limit = min(limit, limits.Ceiling)

	var cleaned []string
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, s)
	}

	return SearchCriteria{
		Title:      title,
		Location:   location,
		Company:    strings.TrimSpace(company),
		Skills:     cleaned,
		MaxResults: limit,
	}, nil
}
