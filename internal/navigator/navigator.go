// Package navigator drives one browser session per task through search
// result pages.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/metrics"
)

const (
	defaultDelay     = 2500 * time.Millisecond
	defaultMaxPages  = 10
	defaultNext      = "button.artdeco-pagination__button--next"
	defaultCard      = ".reusable-search__result-container"
	defaultNoResults = ".search-reusables__no-results-message, .artdeco-empty-state"
)

// Config tunes navigation.
type Config struct {
	BaseURL           string
	Delay             time.Duration
	MaxPages          int
	NextSelector      string
	NoResultsSelector string
	// CardSelector tells a recognised results page from a drifted layout.
	CardSelector string
}

// Throttle bounds navigation rate across sessions.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Navigator opens task-scoped sessions.
type Navigator struct {
	browsers discovery.BrowserFactory
	clock    discovery.Clock
	throttle Throttle
	detector *ChallengeDetector
	cfg      Config
	logger   *zap.Logger
}

// New wires a Navigator. throttle and detector may be nil.
func New(browsers discovery.BrowserFactory, clock discovery.Clock, throttle Throttle, detector *ChallengeDetector, cfg Config, logger *zap.Logger) *Navigator {
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.NextSelector == "" {
		cfg.NextSelector = defaultNext
	}
	if cfg.CardSelector == "" {
		cfg.CardSelector = defaultCard
	}
	if cfg.NoResultsSelector == "" {
		cfg.NoResultsSelector = defaultNoResults
	}
	if detector == nil {
		detector = NewChallengeDetector(nil, nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		browsers: browsers,
		clock:    clock,
		throttle: throttle,
		detector: detector,
		cfg:      cfg,
		logger:   logger.Named("navigator"),
	}
}

// OpenSearch starts a fresh browser session for criteria. No navigation
// happens until the first CollectPage.
func (n *Navigator) OpenSearch(ctx context.Context, criteria discovery.SearchCriteria) (discovery.Session, error) {
	if _, err := SearchURL(n.cfg.BaseURL, criteria, 1); err != nil {
		return nil, err
	}
	browser, err := n.browsers.NewBrowser(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	return &Session{nav: n, browser: browser, criteria: criteria, page: 1}, nil
}

// Session walks result pages strictly in order. It is owned by one task and
// is not safe for concurrent use.
type Session struct {
	nav      *Navigator
	browser  discovery.Browser
	criteria discovery.SearchCriteria
	page     int
	// positioned is true while the tab is known to show the current page.
	positioned bool
	last       *goquery.Document
	// drifted is true when the last page had no cards and no empty-state marker.
	drifted bool
}

// Page returns the current 1-based page number.
func (s *Session) Page() int {
	return s.page
}

// CollectPage renders and returns the current page, navigating to it first
// unless the tab is already there.
func (s *Session) CollectPage(ctx context.Context) (discovery.RawPage, error) {
	if !s.positioned {
		target, err := SearchURL(s.nav.cfg.BaseURL, s.criteria, s.page)
		if err != nil {
			return discovery.RawPage{}, err
		}
		if err := s.beforeNavigation(ctx, target); err != nil {
			return discovery.RawPage{}, err
		}
		if err := s.browser.Navigate(ctx, target); err != nil {
			return discovery.RawPage{}, fmt.Errorf("navigate page %d: %w", s.page, err)
		}
		s.positioned = true
	}

	page, err := s.read(ctx)
	if err != nil {
		s.positioned = false
		s.last = nil
		s.drifted = false
		return discovery.RawPage{}, err
	}
	return page, nil
}

func (s *Session) read(ctx context.Context) (discovery.RawPage, error) {
	if err := s.browser.Scroll(ctx); err != nil {
		if isTerminal(err) {
			return discovery.RawPage{}, fmt.Errorf("scroll page %d: %w", s.page, err)
		}
		s.nav.logger.Debug("scroll failed", zap.Int("page", s.page), zap.Error(err))
	}
	html, location, err := s.browser.ReadDOM(ctx)
	if err != nil {
		return discovery.RawPage{}, fmt.Errorf("read page %d: %w", s.page, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return discovery.RawPage{}, fmt.Errorf("parse page %d: %w", s.page, err)
	}
	if s.nav.detector.Detect(location, doc) {
		s.nav.logger.Warn("challenge page detected", zap.Int("page", s.page), zap.String("url", location))
		return discovery.RawPage{}, fmt.Errorf("page %d: %w", s.page, discovery.ErrBotDetected)
	}
	s.last = doc
	noResults := doc.Find(s.nav.cfg.NoResultsSelector).Length() > 0
	s.drifted = !noResults && doc.Find(s.nav.cfg.CardSelector).Length() == 0
	return discovery.RawPage{
		Number:    s.page,
		URL:       location,
		HTML:      html,
		NoResults: noResults,
		FetchedAt: s.nav.clock.Now(),
	}, nil
}

// AdvancePage moves to the next page by clicking the pagination control,
// falling back to URL navigation on the next CollectPage if the click fails.
// A page with an unrecognised layout cannot vouch for its own pagination, so
// the session moves on by URL until the page limit.
func (s *Session) AdvancePage(ctx context.Context) (bool, error) {
	if s.page >= s.nav.cfg.MaxPages {
		s.nav.logger.Info("page limit reached", zap.Int("page", s.page), zap.Int("max_pages", s.nav.cfg.MaxPages))
		return false, nil
	}
	if s.last != nil && !s.hasNext() {
		if !s.drifted {
			return false, nil
		}
		s.nav.logger.Warn("no pagination on unrecognised page, navigating by url", zap.Int("page", s.page+1))
		s.page++
		s.last = nil
		s.drifted = false
		s.positioned = false
		return true, nil
	}
	canClick := s.positioned && s.last != nil
	s.page++
	s.last = nil
	s.drifted = false
	if !canClick {
		s.positioned = false
		return true, nil
	}

	current, err := SearchURL(s.nav.cfg.BaseURL, s.criteria, s.page)
	if err != nil {
		s.positioned = false
		return false, err
	}
	if err := s.beforeNavigation(ctx, current); err != nil {
		s.positioned = false
		return false, err
	}
	if err := s.browser.Click(ctx, s.nav.cfg.NextSelector); err != nil {
		if isTerminal(err) {
			s.positioned = false
			return false, fmt.Errorf("advance to page %d: %w", s.page, err)
		}
		s.nav.logger.Warn("next click failed, navigating by url", zap.Int("page", s.page), zap.Error(err))
		s.positioned = false
	}
	return true, nil
}

func (s *Session) hasNext() bool {
	next := s.last.Find(s.nav.cfg.NextSelector).First()
	if next.Length() == 0 {
		return false
	}
	if _, disabled := next.Attr("disabled"); disabled {
		return false
	}
	if v, ok := next.Attr("aria-disabled"); ok && v == "true" {
		return false
	}
	return !next.HasClass("artdeco-button--disabled")
}

// Close releases the browser session.
func (s *Session) Close() error {
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// beforeNavigation applies the mandatory human-like delay and the shared
// throttle. It runs before every navigation, retries included.
func (s *Session) beforeNavigation(ctx context.Context, target string) error {
	delay := s.nav.cfg.Delay
	if err := s.nav.clock.Sleep(ctx, delay); err != nil {
		return fmt.Errorf("navigation delay: %w", err)
	}
	metrics.ObserveNavigationDelay("politeness", delay)
	if s.nav.throttle != nil {
		if err := s.nav.throttle.Wait(ctx, target); err != nil {
			return fmt.Errorf("navigation throttle: %w", err)
		}
	}
	return nil
}

func isTerminal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, discovery.ErrBotDetected)
}
