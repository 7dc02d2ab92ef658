package discovery

import (
	"context"
	"time"
)

// Clock supplies the current time and a cancellable sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces task IDs and recognises ids it could have produced.
type IDGenerator interface {
	NewID() (string, error)
	Valid(id string) bool
}

// Browser is the browser-automation collaborator driven by the navigator.
// Implementations return ErrBotDetected when the site answers with a
// blocking status and ErrNavigatorTimeout when a load exceeds its bound.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	// ReadDOM returns the rendered document and the URL the tab ended up on.
	ReadDOM(ctx context.Context) (html string, location string, err error)
	Scroll(ctx context.Context) error
	Click(ctx context.Context, selector string) error
	Close() error
}

// BrowserFactory opens one isolated browser session per task.
type BrowserFactory interface {
	NewBrowser(ctx context.Context) (Browser, error)
}

// Session is a navigator bound to one task's search.
type Session interface {
	CollectPage(ctx context.Context) (RawPage, error)
	// AdvancePage moves to the next results page. It returns false when the
	// last page was reached or the page-depth limit applies.
	AdvancePage(ctx context.Context) (bool, error)
	Close() error
}

// Navigator opens search sessions.
type Navigator interface {
	OpenSearch(ctx context.Context, criteria SearchCriteria) (Session, error)
}

// CandidateStore durably stores accepted candidates keyed by source URL.
// SaveCandidates returns how many records were new to the store.
type CandidateStore interface {
	SaveCandidates(ctx context.Context, taskID string, profiles []CandidateProfile) (int, error)
}

// TaskSink mirrors task snapshots to an external store.
type TaskSink interface {
	SaveTask(ctx context.Context, task Task) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes task completion events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for background tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID    string
	Submitted int64
}
