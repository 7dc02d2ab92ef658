// Package extractor turns rendered search result pages into candidate records.
package extractor

import (
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Selectors locate the parts of a result card.
type Selectors struct {
	Card       string `mapstructure:"card"`
	Name       string `mapstructure:"name"`
	Subtitle   string `mapstructure:"subtitle"`
	Location   string `mapstructure:"location"`
	OpenToWork string `mapstructure:"open_to_work"`
}

// DefaultSelectors match the people-search result layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:       ".reusable-search__result-container",
		Name:       ".entity-result__title-text a",
		Subtitle:   ".entity-result__primary-subtitle",
		Location:   ".entity-result__secondary-subtitle",
		OpenToWork: ".image-badge-recruiter-entity-lockup__badge",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Card == "" {
		s.Card = d.Card
	}
	if s.Name == "" {
		s.Name = d.Name
	}
	if s.Subtitle == "" {
		s.Subtitle = d.Subtitle
	}
	if s.Location == "" {
		s.Location = d.Location
	}
	if s.OpenToWork == "" {
		s.OpenToWork = d.OpenToWork
	}
	return s
}

// Extractor parses result cards. It holds no per-page state.
type Extractor struct {
	sel Selectors
}

// New creates an Extractor; empty selectors fall back to the defaults.
func New(sel Selectors) *Extractor {
	return &Extractor{sel: sel.withDefaults()}
}

// Extraction is the parsed form of one page. Profiles may be ranged over any
// number of times and always yields the same records in document order.
type Extraction struct {
	sel    Selectors
	base   *url.URL
	skills []string
	cards  *goquery.Selection
}

// Extract parses page and locates its result cards. Card fields are only
// read when the sequence is consumed.
func (e *Extractor) Extract(page discovery.RawPage, skills []string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse page %d: %w", page.Number, err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		base = nil
	}
	return &Extraction{
		sel:    e.sel,
		base:   base,
		skills: append([]string(nil), skills...),
		cards:  doc.Find(e.sel.Card),
	}, nil
}

// Len returns the number of cards found on the page.
func (x *Extraction) Len() int {
	return x.cards.Length()
}

// Profiles yields one record per card. Cards missing fields produce partial
// records; validation happens downstream.
func (x *Extraction) Profiles() iter.Seq[discovery.CandidateProfile] {
	return func(yield func(discovery.CandidateProfile) bool) {
		for i := range x.cards.Nodes {
			if !yield(x.parseCard(x.cards.Eq(i))) {
				return
			}
		}
	}
}

func (x *Extraction) parseCard(card *goquery.Selection) discovery.CandidateProfile {
	var p discovery.CandidateProfile

	link := card.Find(x.sel.Name).First()
	p.Name = firstLine(link.Text())
	if href, ok := link.Attr("href"); ok {
		p.SourceURL = x.canonicalURL(href)
	}

	subtitle := collapse(card.Find(x.sel.Subtitle).First().Text())
	if title, company, found := strings.Cut(subtitle, " at "); found {
		p.Title = strings.TrimSpace(title)
		p.CurrentCompany = strings.TrimSpace(company)
	} else {
		p.Title = subtitle
	}

	p.Location = collapse(card.Find(x.sel.Location).First().Text())
	p.OpenToWork = card.Find(x.sel.OpenToWork).Length() > 0
	p.Skills = matchSkills(strings.ToLower(card.Text()), x.skills)
	return p
}

// canonicalURL resolves href against the page and drops query and fragment.
func (x *Extraction) canonicalURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		before, _, _ := strings.Cut(href, "?")
		return before
	}
	if x.base != nil {
		u = x.base.ResolveReference(u)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func matchSkills(text string, skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if strings.Contains(text, strings.ToLower(s)) {
			out = append(out, s)
		}
	}
	return out
}

func firstLine(s string) string {
	for line := range strings.SplitSeq(s, "\n") {
		if line = collapse(line); line != "" {
			return line
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
