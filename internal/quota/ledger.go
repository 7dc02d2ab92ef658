// Package quota implements the daily processing ledger shared by all tasks.
//
// Callers reserve headroom before doing expensive work and commit what they
// actually used afterwards. Unused headroom returns to the pool on commit.
// Every mutation runs under one mutex so concurrent tasks can never push the
// committed total for a day past its ceiling.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Kind names a counter tracked by the ledger.
type Kind string

// Ledger counters.
const (
	KindProfiles Kind = "profiles"
	KindMessages Kind = "messages"
)

const (
	dayLayout      = "2006-01-02"
	retentionDays  = 7
	persistTimeout = 5 * time.Second
)

// ErrUnknownGrant is returned when a grant is committed twice or was never issued.
var ErrUnknownGrant = errors.New("unknown or already committed grant")

// Clock is the subset of discovery.Clock the ledger needs.
type Clock interface {
	Now() time.Time
}

// DeniedError reports that no headroom is left for the current day.
// Remaining counts uncommitted units, which may still be held by in-flight
// reservations and return to the pool when those commit.
type DeniedError struct {
	Kind      Kind
	Remaining int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s quota exhausted (remaining %d)", e.Kind, e.Remaining)
}

// Is makes DeniedError match discovery.ErrQuotaExhausted.
func (e *DeniedError) Is(target error) bool {
	return target == discovery.ErrQuotaExhausted
}

// Grant is reserved headroom that must be committed exactly once.
type Grant struct {
	id     uint64
	Kind   Kind
	Day    string
	Amount int
}

// Usage is a point-in-time view of one counter.
type Usage struct {
	Kind     Kind   `json:"kind"`
	Day      string `json:"day"`
	Used     int    `json:"used"`
	Reserved int    `json:"reserved"`
	Limit    int    `json:"limit"`
}

type bucket struct {
	committed map[Kind]int
	reserved  map[Kind]int
}

// Store persists committed totals so a restart does not reset the day.
// Save receives the running total for the day, never a delta.
type Store interface {
	LoadQuota(ctx context.Context, day string) (map[Kind]int, error)
	SaveQuota(ctx context.Context, day string, kind Kind, committed int) error
}

// Ledger tracks per-day counters against fixed ceilings.
type Ledger struct {
	mu          sync.Mutex
	clock       Clock
	loc         *time.Location
	limits      map[Kind]int
	days        map[string]*bucket
	outstanding map[uint64]Grant
	nextID      uint64
	store       Store
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithLocation sets the time zone that defines day boundaries. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithStore persists every commit to store. Use OpenLedger to also seed
// today's totals from it.
func WithStore(store Store) Option {
	return func(l *Ledger) {
		l.store = store
	}
}

// NewLedger builds a ledger with the given daily ceilings.
func NewLedger(clock Clock, limits map[Kind]int, opts ...Option) *Ledger {
	l := &Ledger{
		clock:       clock,
		loc:         time.UTC,
		limits:      make(map[Kind]int, len(limits)),
		days:        make(map[string]*bucket),
		outstanding: make(map[uint64]Grant),
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenLedger builds a ledger backed by store and seeds today's committed
// totals from it.
func OpenLedger(ctx context.Context, clock Clock, limits map[Kind]int, store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("quota store is required")
	}
	l := NewLedger(clock, limits, append(opts, WithStore(store))...)
	day := l.dayKey(clock.Now())
	counts, err := store.LoadQuota(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load quota for %s: %w", day, err)
	}
	b := l.bucketFor(day)
	for kind, n := range counts {
		b.committed[kind] = max(0, n)
	}
	return l, nil
}

// Reserve grants up to n units of kind for today. A grant smaller than n is
// returned when less headroom remains; a DeniedError is returned only when
// nothing remains.
func (l *Ledger) Reserve(kind Kind, n int) (Grant, error) {
	if n <= 0 {
		return Grant{}, fmt.Errorf("reserve %s: amount must be positive, got %d", kind, n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.dayKey(l.clock.Now())
	b := l.bucketFor(day)
	limit := l.limits[kind]
	available := limit - b.committed[kind] - b.reserved[kind]
	if available <= 0 {
		return Grant{}, &DeniedError{Kind: kind, Remaining: max(0, limit-b.committed[kind])}
	}
	amount := min(n, available)
	b.reserved[kind] += amount
	l.nextID++
	g := Grant{id: l.nextID, Kind: kind, Day: day, Amount: amount}
	l.outstanding[g.id] = g
	l.prune(day)
	return g, nil
}

// Commit charges actual units against the grant's day and releases the rest.
// actual is clamped to the granted amount. With a store configured the new
// total is persisted after the in-memory commit; a persistence error is
// returned but the commit itself stands.
func (l *Ledger) Commit(g Grant, actual int) error {
	l.mu.Lock()
	stored, ok := l.outstanding[g.id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownGrant
	}
	delete(l.outstanding, g.id)
	actual = max(0, min(actual, stored.Amount))
	b := l.bucketFor(stored.Day)
	b.reserved[stored.Kind] -= stored.Amount
	b.committed[stored.Kind] += actual
	total := b.committed[stored.Kind]
	l.mu.Unlock()

	if l.store == nil || actual == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := l.store.SaveQuota(ctx, stored.Day, stored.Kind, total); err != nil {
		return fmt.Errorf("persist %s quota for %s: %w", stored.Kind, stored.Day, err)
	}
	return nil
}

// CurrentCount returns committed units of kind for the day containing t.
func (l *Ledger) CurrentCount(kind Kind, t time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.days[l.dayKey(t)]
	if !ok {
		return 0
	}
	return b.committed[kind]
}

// Remaining reports unreserved headroom for kind today.
func (l *Ledger) Remaining(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.days[l.dayKey(l.clock.Now())]
	if !ok {
		return l.limits[kind]
	}
	return max(0, l.limits[kind]-b.committed[kind]-b.reserved[kind])
}

// Snapshot returns today's usage for every configured kind.
func (l *Ledger) Snapshot() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.dayKey(l.clock.Now())
	b := l.days[day]
	out := make([]Usage, 0, len(l.limits))
	for _, kind := range []Kind{KindProfiles, KindMessages} {
		limit, ok := l.limits[kind]
		if !ok {
			continue
		}
		u := Usage{Kind: kind, Day: day, Limit: limit}
		if b != nil {
			u.Used = b.committed[kind]
			u.Reserved = b.reserved[kind]
		}
		out = append(out, u)
	}
	return out
}

func (l *Ledger) dayKey(t time.Time) string {
	return t.In(l.loc).Format(dayLayout)
}

func (l *Ledger) bucketFor(day string) *bucket {
	b, ok := l.days[day]
	if !ok {
		b = &bucket{committed: make(map[Kind]int), reserved: make(map[Kind]int)}
		l.days[day] = b
	}
	return b
}

// prune drops buckets older than the retention window with nothing reserved.
func (l *Ledger) prune(today string) {
	ref, err := time.ParseInLocation(dayLayout, today, l.loc)
	if err != nil {
		return
	}
	cutoff := ref.AddDate(0, 0, -retentionDays).Format(dayLayout)
	for day, b := range l.days {
		if day >= cutoff {
			continue
		}
		held := false
		for _, r := range b.reserved {
			if r > 0 {
				held = true
				break
			}
		}
		if !held {
			delete(l.days, day)
		}
	}
}
