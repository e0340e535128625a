// Package spam implements the per-tenant sliding-window spam scoring
// engine, raid detector, and offense ledger of spec.md §4.3/§4.4 (C3/C4).
// Grounded on the ring-buffer-style pruning of the teacher's
// internal/channels/ratelimit.go (WebhookRateLimiter), generalized from a
// single counter to the several independent per-user windows this domain
// needs.
package spam

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spamguard/core/internal/config"
)

// Detector holds all per-user and cross-user state for a single tenant
// and scores messages against one GuildConfig (spec.md §4.3). It is
// owned exclusively by the event path for that tenant — spec.md §5
// guarantees serialized access within a tenant, so Detector itself does
// not lock; callers serialize per tenant (Engine, below, only guards its
// tenant->Detector map).
type Detector struct {
	cfg   config.GuildConfig
	users map[string]*perUserHistory
	raid  *tenantRaidState
}

// NewDetector creates a Detector bound to cfg. A fresh Detector is
// created whenever the bound GuildConfig changes (spec.md §5).
func NewDetector(cfg config.GuildConfig) *Detector {
	return &Detector{
		cfg:   cfg,
		users: make(map[string]*perUserHistory),
		raid:  newTenantRaidState(),
	}
}

func (d *Detector) historyFor(userID string) *perUserHistory {
	h, ok := d.users[userID]
	if !ok {
		h = newPerUserHistory()
		d.users[userID] = h
	}
	return h
}

// RegisterJoin records a member join for raid-surge detection
// (spec.md §4.3's registerJoin).
func (d *Detector) RegisterJoin(userID string, joinedAt time.Time) {
	d.raid.recentJoins.PushBack(joinEntry{at: joinedAt, userID: userID})
	d.raid.pruneJoins(joinedAt, d.cfg.RaidJoinWindowSec)
}

// Score scores one message snapshot, mutating the user's sliding windows
// and the tenant's raid state in place, per the 11-step algorithm of
// spec.md §4.3.
func (d *Detector) Score(snap MessageSnapshot) ScoringResult {
	now := snap.CreatedAt
	score := 0
	var reasons []Reason

	h := d.historyFor(snap.UserID)

	// Step 1: prune before read.
	h.pruneMessages(now, d.cfg.WindowSec, d.cfg.DuplicateWindowSec, d.cfg.URLRepeatWindowSec)

	// Step 2: append this message.
	h.messageTimestamps.PushBack(now)
	normalized := normalizeContent(snap.Content)
	h.duplicateEntries.PushBack(dupEntry{at: now, text: normalized})

	// Step 3: rapid posting.
	if h.messageTimestamps.Len() >= d.cfg.MaxMsgInWindow {
		score += 2
		reasons = append(reasons, ReasonRapidPosting)
	}

	// Step 4: duplicates.
	if normalized != "" {
		dupCount := 0
		h.duplicateEntries.Each(func(e dupEntry) {
			if e.text == normalized {
				dupCount++
			}
		})
		if dupCount >= d.cfg.DupThreshold {
			score += 3
			reasons = append(reasons, ReasonDuplicateMsgs)
		}
	}

	// Step 5: URL count.
	urls := ExtractURLs(snap.Content)
	if len(urls) >= d.cfg.URLThreshold {
		score += 3
		reasons = append(reasons, ReasonURLSpam)
	}
	for _, u := range urls {
		h.urlPosts.PushBack(urlEntry{at: now, host: canonicalURLKey(u)})
	}

	// Step 6: URL repeat (once, regardless of how many distinct URLs qualify).
	if len(urls) > 0 {
		distinct := make(map[string]bool)
		for _, u := range urls {
			distinct[canonicalURLKey(u)] = true
		}
		repeated := false
		for key := range distinct {
			count := 0
			h.urlPosts.Each(func(e urlEntry) {
				if e.host == key {
					count++
				}
			})
			if count >= d.cfg.URLRepeatThreshold {
				repeated = true
				break
			}
		}
		if repeated {
			score += 3
			reasons = append(reasons, ReasonRepeatedURLs)
		}

		// Step 7: URL reputation.
		riskScore, riskReasons := classifyURLRisk(urls, d.cfg.AllowDomains, d.cfg.PhishingDomains, d.cfg.SuspiciousTlds)
		score += riskScore
		reasons = append(reasons, riskReasons...)
	}

	// Step 8: mention spam.
	if snap.MentionCount >= d.cfg.MentionThreshold {
		score += 3
		reasons = append(reasons, ReasonMentionSpam)
	}

	// Step 9: new account.
	if now.Sub(snap.AccountCreatedAt) < 24*time.Hour {
		score += 1
		reasons = append(reasons, ReasonNewAccount)
	}

	// Step 10: raid overlay.
	if snap.JoinedAt != nil && now.Sub(*snap.JoinedAt) <= time.Duration(d.cfg.NewMemberWindowSec)*time.Second {
		d.raid.recentNewUserMessages.PushBack(now)
	}
	d.raid.pruneJoins(now, d.cfg.RaidJoinWindowSec)
	d.raid.pruneMessages(now, d.cfg.RaidMessageWindowSec)
	if d.raid.recentJoins.Len() >= d.cfg.RaidJoinThreshold {
		score += 2
		reasons = append(reasons, ReasonRaidJoinSurge)
		if d.raid.recentNewUserMessages.Len() >= d.cfg.RaidNewUserMessageThreshold {
			score += 5
			reasons = append(reasons, ReasonRaidActivity)
		}
	}

	// Step 11: dedupe preserving first occurrence.
	return ScoringResult{Score: score, Reasons: dedupeReasons(reasons)}
}

// Decide implements the OffenseLedger of spec.md §4.4: appends now to the
// user's offense window, then applies the strict ban > timeout > warn >
// none priority.
func (d *Detector) Decide(userID string, now time.Time) EnforcementDecision {
	h := d.historyFor(userID)
	h.pruneOffenses(now, d.cfg.OffenseWindowSec)
	h.offenseTimestamps.PushBack(now)
	count := h.offenseTimestamps.Len()

	action := ActionNone
	switch {
	case d.cfg.BanEnabled && count >= d.cfg.BanThreshold:
		action = ActionBan
	case count >= d.cfg.TimeoutThreshold:
		action = ActionTimeout
	case count >= d.cfg.WarningThreshold:
		action = ActionWarn
	}

	return EnforcementDecision{OffenseCount: count, Action: action}
}

// EvictIdle drops per-user history for any user whose sliding windows
// (offense window included) are all empty once pruned against now, reclaiming
// memory for users who stopped posting (spec.md §5's orphaned-state
// backstop; pruning on read alone never shrinks the `users` map itself).
func (d *Detector) EvictIdle(now time.Time) int {
	evicted := 0
	for userID, h := range d.users {
		h.pruneMessages(now, d.cfg.WindowSec, d.cfg.DuplicateWindowSec, d.cfg.URLRepeatWindowSec)
		h.pruneOffenses(now, d.cfg.OffenseWindowSec)
		if h.messageTimestamps.Len() > 0 || h.duplicateEntries.Len() > 0 ||
			h.urlPosts.Len() > 0 || h.offenseTimestamps.Len() > 0 {
			continue
		}
		delete(d.users, userID)
		evicted++
	}
	return evicted
}

// canonicalURLKey combines the canonical host and path so that two URLs
// differing only by query string or fragment on the same host+path are
// treated as the same "repeated URL" (spec.md §3: urlPosts entries are
// "canonicalHost+path").
func canonicalURLKey(raw string) string {
	host := CanonicalHost(raw)
	path := pathOf(raw)
	return host + path
}

func pathOf(raw string) string {
	// Strip scheme and host, keep everything from the first '/' after the
	// authority, up to (not including) '?' or '#'.
	rest := raw
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return ""
	}
	rest = rest[slash:]
	if q := strings.IndexAny(rest, "?#"); q >= 0 {
		rest = rest[:q]
	}
	return rest
}

// Engine fans Detector/tenant raid state out across many concurrent
// tenants (spec.md §3 TenantRaidState, §5 "each tenant owns its own
// detector instance"). Safe for concurrent use across tenants; within a
// tenant, callers are expected to already serialize access per spec.md §5
// ("message handling is serialized") — Engine only guards its own
// tenant->Detector map.
type Engine struct {
	mu        sync.Mutex
	detectors map[string]*Detector
	configs   map[string]config.GuildConfig
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		detectors: make(map[string]*Detector),
		configs:   make(map[string]config.GuildConfig),
	}
}

// Resolve returns the Detector for tenantID, rebuilding it if cfg differs
// from the config the cached Detector was built with (spec.md §5: "The
// detector instance is rebuilt if its GuildConfig identity changes").
func (e *Engine) Resolve(tenantID string, cfg config.GuildConfig) *Detector {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.configs[tenantID]; ok && reflect.DeepEqual(cached, cfg) {
		return e.detectors[tenantID]
	}

	d := NewDetector(cfg)
	e.detectors[tenantID] = d
	e.configs[tenantID] = cfg
	return d
}

// Sweep evicts idle per-user history across every tenant's detector,
// returning the total number of users evicted. Intended as a periodic
// janitor backstop, not a substitute for Score's own prune-before-read.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, d := range e.detectors {
		total += d.EvictIdle(now)
	}
	return total
}

// Invalidate drops tenantID's cached detector (or every tenant's, if
// tenantID is empty) so the next Resolve rebuilds from fresh config —
// used by the config-file watcher's reload hook.
func (e *Engine) Invalidate(tenantID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tenantID == "" {
		e.detectors = make(map[string]*Detector)
		e.configs = make(map[string]config.GuildConfig)
		return
	}
	delete(e.detectors, tenantID)
	delete(e.configs, tenantID)
}
