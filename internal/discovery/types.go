// Package discovery defines core types shared across subsystems.
package discovery

import (
	"slices"
	"time"
)

// TaskStatus represents the lifecycle state of a discovery task.
type TaskStatus string

// Task status values exposed to polling clients.
const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// FailureReason classifies why a task failed or stopped early.
type FailureReason string

// Failure reasons recorded on TaskError.
const (
	ReasonQuotaExhausted         FailureReason = "QuotaExhausted"
	ReasonAutomationBlocked      FailureReason = "AutomationBlocked"
	ReasonNavigatorTimeout       FailureReason = "NavigatorTimeout"
	ReasonNavigationError        FailureReason = "NavigationError"
	ReasonPersistenceUnavailable FailureReason = "PersistenceUnavailable"
)

// RejectReason enumerates why the guardrail refused a candidate record.
type RejectReason string

// Guardrail rejection reasons.
const (
	RejectNone               RejectReason = ""
	RejectMissingName        RejectReason = "MissingName"
	RejectMissingTitle       RejectReason = "MissingTitle"
	RejectMissingLocation    RejectReason = "MissingLocation"
	RejectMissingSourceURL   RejectReason = "MissingSourceUrl"
	RejectNoMatchingSkills   RejectReason = "NoMatchingSkills"
	RejectDuplicateSourceURL RejectReason = "DuplicateSourceUrl"
)

// SearchCriteria is the immutable request for one discovery run. Build it
// with NewSearchCriteria so defaults and the ceiling are applied.
type SearchCriteria struct {
	Title      string   `json:"title"`
	Location   string   `json:"location"`
	Company    string   `json:"company,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	MaxResults int      `json:"max_results"`
}

// CandidateProfile is one extracted record.
type CandidateProfile struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Location       string   `json:"location"`
	CurrentCompany string   `json:"current_company,omitempty"`
	Skills         []string `json:"skills"`
	OpenToWork     bool     `json:"open_to_work"`
	SourceURL      string   `json:"source_url"`
}

// RawPage is the rendered content of one search results page.
type RawPage struct {
	Number    int       `json:"number"`
	URL       string    `json:"url"`
	HTML      string    `json:"-"`
	NoResults bool      `json:"no_results"`
	FetchedAt time.Time `json:"fetched_at"`
}

// TaskProgress tracks counters polled by clients.
type TaskProgress struct {
	ProfilesFound int                  `json:"profiles_found"`
	PagesVisited  int                  `json:"pages_visited"`
	PagesSkipped  int                  `json:"pages_skipped"`
	Retries       int                  `json:"retries"`
	ProfilesSaved int                  `json:"profiles_saved"`
	Rejected      map[RejectReason]int `json:"rejected,omitempty"`
}

// TaskError is the structured failure description attached to a task.
type TaskError struct {
	Reason    FailureReason `json:"reason"`
	Message   string        `json:"message"`
	Hint      string        `json:"hint,omitempty"`
	Remaining *int          `json:"remaining,omitempty"`
}

// Task is the full state of one discovery run.
type Task struct {
	ID        string             `json:"task_id"`
	Criteria  SearchCriteria     `json:"criteria"`
	Status    TaskStatus         `json:"status"`
	Progress  TaskProgress       `json:"progress"`
	Results   []CandidateProfile `json:"results"`
	Error     *TaskError         `json:"error,omitempty"`
	Note      *TaskError         `json:"note,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy that shares no mutable state with t.
func (t Task) Clone() Task {
	cp := t
	cp.Criteria = t.Criteria.clone()
	if t.Results != nil {
		cp.Results = make([]CandidateProfile, len(t.Results))
		for i, p := range t.Results {
			cp.Results[i] = p.Clone()
		}
	}
	if t.Progress.Rejected != nil {
		cp.Progress.Rejected = make(map[RejectReason]int, len(t.Progress.Rejected))
		for k, v := range t.Progress.Rejected {
			cp.Progress.Rejected[k] = v
		}
	}
	cp.Error = t.Error.clone()
	cp.Note = t.Note.clone()
	return cp
}

// Clone returns a copy of p with its own skills slice.
func (p CandidateProfile) Clone() CandidateProfile {
	cp := p
	cp.Skills = slices.Clone(p.Skills)
	return cp
}

func (c SearchCriteria) clone() SearchCriteria {
	cp := c
	cp.Skills = slices.Clone(c.Skills)
	return cp
}

func (e *TaskError) clone() *TaskError {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Remaining != nil {
		r := *e.Remaining
		cp.Remaining = &r
	}
	return &cp
}

// TaskEvent is published when a task reaches a terminal status.
type TaskEvent struct {
	TaskID        string        `json:"task_id"`
	Status        TaskStatus    `json:"status"`
	Reason        FailureReason `json:"reason,omitempty"`
	ResultCount   int           `json:"result_count"`
	PagesVisited  int           `json:"pages_visited"`
	ProfilesSaved int           `json:"profiles_saved"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Attributes returns routing attributes for message brokers.
func (e TaskEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"task_id": e.TaskID,
		"status":  string(e.Status),
	}
	if e.Reason != "" {
		attrs["reason"] = string(e.Reason)
	}
	return attrs
}

// NewTaskEvent summarises a terminal task.
func NewTaskEvent(t Task) TaskEvent {
	ev := TaskEvent{
		TaskID:        t.ID,
		Status:        t.Status,
		ResultCount:   len(t.Results),
		PagesVisited:  t.Progress.PagesVisited,
		ProfilesSaved: t.Progress.ProfilesSaved,
		FinishedAt:    t.UpdatedAt,
	}
	switch {
	case t.Error != nil:
		ev.Reason = t.Error.Reason
	case t.Note != nil:
		ev.Reason = t.Note.Reason
	}
	return ev
}
