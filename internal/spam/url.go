package spam

import (
	"net/url"
	"regexp"
	"strings"
)

// urlPattern extracts a maximal run of non-whitespace after a
// case-insensitive http(s):// scheme (spec.md §3 normalization rules).
var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// ExtractURLs returns every URL substring in content, lower-cased.
func ExtractURLs(content string) []string {
	matches := urlPattern.FindAllString(content, -1)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = strings.ToLower(m)
	}
	return out
}

// CanonicalHost parses raw and returns its lower-cased hostname with any
// trailing dot and leading "www." stripped (spec.md §3).
func CanonicalHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimRight(host, ".")
	host = strings.TrimPrefix(host, "www.")
	return host
}

// classifyURLRisk scores canonicalized hosts against the tenant's allow,
// block, and suspicious-TLD sets (spec.md §4.2). Block takes priority
// over the TLD check; allow always wins.
func classifyURLRisk(urls []string, allow, block, suspiciousTlds []string) (int, []Reason) {
	allowSet := toSet(allow)
	blockSet := toSet(block)
	tldSet := toSet(suspiciousTlds)

	score := 0
	var reasons []Reason
	for _, raw := range urls {
		host := CanonicalHost(raw)
		if host == "" {
			continue
		}
		if allowSet[host] {
			continue
		}
		if blockSet[host] {
			score += 8
			reasons = append(reasons, ReasonPhishingDomain)
			continue
		}
		tld := ""
		if idx := strings.LastIndexByte(host, '.'); idx >= 0 {
			tld = host[idx+1:]
		}
		if tld != "" && tldSet[tld] {
			score += 4
			reasons = append(reasons, ReasonSuspiciousTLD)
		}
	}
	return score, dedupeReasons(reasons)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return set
}

func dedupeReasons(reasons []Reason) []Reason {
	if len(reasons) == 0 {
		return nil
	}
	seen := make(map[Reason]bool, len(reasons))
	out := make([]Reason, 0, len(reasons))
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
