package discovery

import "errors"

var (
	// ErrBotDetected marks a navigation that landed on a challenge or login wall.
	ErrBotDetected = errors.New("bot detection challenge encountered")
	// ErrNavigatorTimeout marks a page that did not load within the navigation bound.
	ErrNavigatorTimeout = errors.New("page load timed out")
	// ErrNoMorePages is returned when pagination is requested past the last page.
	ErrNoMorePages = errors.New("no more result pages")
	// ErrTaskNotFound is returned by the registry for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQuotaExhausted is matched by quota denials.
	ErrQuotaExhausted = errors.New("daily quota exhausted")
	// ErrUnknownPageStructure marks a results page with no recognisable cards.
	ErrUnknownPageStructure = errors.New("unknown page structure")
	// ErrInvalidCriteria wraps search criteria validation failures.
	ErrInvalidCriteria = errors.New("invalid search criteria")
	// ErrTaskTerminal is returned when a terminal task would be mutated.
	ErrTaskTerminal = errors.New("task already terminal")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)
