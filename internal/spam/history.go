package spam

import "time"

type dupEntry struct {
	at   time.Time
	text string
}

type urlEntry struct {
	at   time.Time
	host string // canonical host+path, spec.md §3
}

type joinEntry struct {
	at     time.Time
	userID string
}

// perUserHistory holds the three sliding windows of spec.md §3
// (messageTimestamps, duplicateEntries, urlPosts) plus the offense
// ledger's own window, for a single (tenant, user) pair.
type perUserHistory struct {
	messageTimestamps *deque[time.Time]
	duplicateEntries  *deque[dupEntry]
	urlPosts          *deque[urlEntry]
	offenseTimestamps *deque[time.Time]
}

func newPerUserHistory() *perUserHistory {
	return &perUserHistory{
		messageTimestamps: newDeque[time.Time](),
		duplicateEntries:  newDeque[dupEntry](),
		urlPosts:          newDeque[urlEntry](),
		offenseTimestamps: newDeque[time.Time](),
	}
}

// pruneMessages prunes the scoring-relevant histories against now, using
// the tenant's configured window widths. Called before every read, per
// spec.md §3's invariant.
func (h *perUserHistory) pruneMessages(now time.Time, windowSec, dupWindowSec, urlRepeatWindowSec int) {
	msgCutoff := now.Add(-time.Duration(windowSec) * time.Second)
	PruneFront(h.messageTimestamps, func(t time.Time) bool { return !t.Before(msgCutoff) })

	dupCutoff := now.Add(-time.Duration(dupWindowSec) * time.Second)
	PruneFront(h.duplicateEntries, func(e dupEntry) bool { return !e.at.Before(dupCutoff) })

	urlCutoff := now.Add(-time.Duration(urlRepeatWindowSec) * time.Second)
	PruneFront(h.urlPosts, func(e urlEntry) bool { return !e.at.Before(urlCutoff) })
}

func (h *perUserHistory) pruneOffenses(now time.Time, offenseWindowSec int) {
	cutoff := now.Add(-time.Duration(offenseWindowSec) * time.Second)
	PruneFront(h.offenseTimestamps, func(t time.Time) bool { return !t.Before(cutoff) })
}

// tenantRaidState holds the cross-user raid signals of spec.md §3 for one
// tenant.
type tenantRaidState struct {
	recentJoins           *deque[joinEntry]
	recentNewUserMessages *deque[time.Time]
}

func newTenantRaidState() *tenantRaidState {
	return &tenantRaidState{
		recentJoins:           newDeque[joinEntry](),
		recentNewUserMessages: newDeque[time.Time](),
	}
}

func (r *tenantRaidState) pruneJoins(now time.Time, windowSec int) {
	cutoff := now.Add(-time.Duration(windowSec) * time.Second)
	PruneFront(r.recentJoins, func(e joinEntry) bool { return !e.at.Before(cutoff) })
}

func (r *tenantRaidState) pruneMessages(now time.Time, windowSec int) {
	cutoff := now.Add(-time.Duration(windowSec) * time.Second)
	PruneFront(r.recentNewUserMessages, func(t time.Time) bool { return !t.Before(cutoff) })
}
