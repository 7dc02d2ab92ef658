package navigator

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// DefaultBaseURL is the people-search endpoint.
const DefaultBaseURL = "https://www.linkedin.com/search/results/people/"

// SearchURL composes the results URL for page (1-based). Skills extend the
// keyword query.
func SearchURL(base string, c discovery.SearchCriteria, page int) (string, error) {
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	keywords := append([]string{c.Title}, c.Skills...)
	q := u.Query()
	q.Set("keywords", strings.Join(keywords, " "))
	q.Set("location", c.Location)
	if c.Company != "" {
		q.Set("currentCompany", c.Company)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
