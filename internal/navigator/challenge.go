package navigator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	defaultChallengeURLMarkers = []string{"/checkpoint/", "/authwall", "/login", "/uas/login", "captcha"}
	defaultChallengeSelectors  = []string{
		"form#login-form",
		"form.login__form",
		"iframe[src*='captcha']",
		"#captcha-internal",
		"[data-test-id='challenge']",
	}
	defaultChallengeKeywords = []string{
		"security verification",
		"quick security check",
		"unusual activity",
		"let's do a quick security check",
		"sign in to view more",
	}
)

// ChallengeDetector recognises interstitials, captchas and login walls.
type ChallengeDetector struct {
	urlMarkers []string
	selectors  []string
	keywords   []string
}

// NewChallengeDetector builds a detector. Nil slices take the defaults; an
// empty non-nil slice disables that signal.
func NewChallengeDetector(urlMarkers, selectors, keywords []string) *ChallengeDetector {
	if urlMarkers == nil {
		urlMarkers = defaultChallengeURLMarkers
	}
	if selectors == nil {
		selectors = defaultChallengeSelectors
	}
	if keywords == nil {
		keywords = defaultChallengeKeywords
	}
	return &ChallengeDetector{
		urlMarkers: lowerAll(urlMarkers),
		selectors:  selectors,
		keywords:   lowerAll(keywords),
	}
}

// Detect reports whether the tab at location shows a challenge page.
func (d *ChallengeDetector) Detect(location string, doc *goquery.Document) bool {
	loc := strings.ToLower(location)
	for _, m := range d.urlMarkers {
		if strings.Contains(loc, m) {
			return true
		}
	}
	if doc == nil {
		return false
	}
	for _, sel := range d.selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	text := strings.ToLower(doc.Text())
	for _, kw := range d.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
