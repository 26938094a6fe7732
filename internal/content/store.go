// Package content implements the quarantine store for externally-fetched
// text: content is held here and handed out only as an opaque id, never
// embedded directly in the message channel, so the language model must
// explicitly request it via a separate read.
package content

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botmesh/internal/security"
)

// Entry is a stored piece of externally-fetched content.
type Entry struct {
	ID         string
	URL        string
	Title      string
	Content    string
	ScannedAt  time.Time
	ScanResult security.DetectionResult
	Accessed   bool
	AccessedAt time.Time
}

// IsSafe reports whether the entry's scan verdict did not block it.
func (e Entry) IsSafe() bool { return !e.ScanResult.IsBlocked() }

// NeedsWarning reports whether the entry's scan verdict carries a warning.
func (e Entry) NeedsWarning() bool { return e.ScanResult.IsWarn() }

var actionEmoji = map[security.Action]string{
	security.ActionBlock: "⛔",
	security.ActionWarn:  "⚠️",
	security.ActionAllow: "✅",
}

// Store holds fetched web content separately from the message channel,
// handing out opaque ids in place of raw content. TTL-bounded; a sweep
// runs on every mutation.
type Store struct {
	scanner        *security.Scanner
	maxContentSize int
	ttl            time.Duration

	mu      sync.Mutex
	byID    map[string]*Entry
	byURL   map[string][]string
}

// NewStore builds a content store. maxContentSize bounds stored content
// length in bytes; ttl is the lifetime of an entry before eviction.
func NewStore(scanner *security.Scanner, maxContentSize int, ttl time.Duration) *Store {
	if maxContentSize <= 0 {
		maxContentSize = 500_000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		scanner:        scanner,
		maxContentSize: maxContentSize,
		ttl:            ttl,
		byID:           make(map[string]*Entry),
		byURL:          make(map[string][]string),
	}
}

// Store truncates content to maxContentSize, scans it (unless scan is
// false), assigns a fetch_<hex12> id, and records the entry. Returns the
// id and the scan verdict so the caller can decide what to surface to the
// model.
func (s *Store) Store(url, content, title string, scan bool) (string, security.DetectionResult) {
	if len(content) > s.maxContentSize {
		slog.Warn("content truncated", "url", url, "original_len", len(content), "max", s.maxContentSize)
		content = content[:s.maxContentSize] + "\n[content truncated...]"
	}

	var result security.DetectionResult
	if scan && s.scanner != nil {
		result = s.scanner.Scan(content, url)
	} else {
		result = security.DetectionResult{URL: url, Timestamp: time.Now(), Confidence: security.ConfidenceLow, Action: security.ActionAllow}
	}

	id := fmt.Sprintf("fetch_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	entry := &Entry{
		ID: id, URL: url, Title: title, Content: content,
		ScannedAt: result.Timestamp, ScanResult: result,
	}

	s.mu.Lock()
	s.byID[id] = entry
	s.byURL[url] = append(s.byURL[url], id)
	s.cleanupLocked()
	s.mu.Unlock()

	slog.Debug("content stored", "id", id, "url", url, "action", result.Action)
	return id, result
}

// Get retrieves content by id, marking it accessed. Returns nil if the id
// is unknown or was evicted (revoked ids must return "not found" per
// spec.md §3). A blocked entry's Content is replaced with the standardised
// BlockedMessage: the raw text of a blocked fetch must never be handed
// back through this path (spec.md §4.9, §8 scenario 5).
func (s *Store) Get(id string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return nil
	}
	entry.Accessed = true
	entry.AccessedAt = time.Now()
	cp := *entry
	if !cp.IsSafe() {
		cp.Content = s.BlockedMessage(cp.URL, cp.ScanResult)
	}
	return &cp
}

// GetByURL returns every stored entry originating from url.
func (s *Store) GetByURL(url string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byURL[url]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.byID[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Reference renders the short reference string returned to the language
// model in place of raw content: an id, the source url, and a scan-verdict
// emoji. A tool later fetches the actual content by id.
func (s *Store) Reference(id, url string, result security.DetectionResult) string {
	emoji := actionEmoji[result.Action]
	if emoji == "" {
		emoji = "✅"
	}
	return fmt.Sprintf(
		"[Content from %s | ID: %s | Scan: %s %s]\n\nTo read this content, use the read_fetched_content tool with ID: %s",
		url, id, result.Action, emoji, id,
	)
}

// BlockedMessage renders the standardised message surfaced in place of
// blocked content (spec.md §7: "a blocked fetched URL surfaces as a
// synthetic result explaining the block").
func (s *Store) BlockedMessage(url string, result security.DetectionResult) string {
	return fmt.Sprintf(
		"[Content from %s | Scan: BLOCKED ⛔]\n\nThis content was blocked due to potential security concerns (confidence: %s).\n\nIf you need this information, please try a different source or let the user know.",
		url, result.Confidence,
	)
}

// cleanupLocked drops entries older than ttl. Caller must hold s.mu.
func (s *Store) cleanupLocked() {
	now := time.Now()
	var expired []string
	for id, e := range s.byID {
		if now.Sub(e.ScannedAt) > s.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		e := s.byID[id]
		delete(s.byID, id)
		ids := s.byURL[e.URL]
		for i, existing := range ids {
			if existing == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(s.byURL, e.URL)
		} else {
			s.byURL[e.URL] = ids
		}
	}
	if len(expired) > 0 {
		slog.Debug("content store swept expired entries", "count", len(expired))
	}
}

// Stats reports aggregate counters for observability.
type Stats struct {
	TotalContents int
	TotalURLs     int
	Accessed      int
	Blocked       int
	Warned        int
}

// Stats returns the current store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats Stats
	stats.TotalContents = len(s.byID)
	stats.TotalURLs = len(s.byURL)
	for _, e := range s.byID {
		if e.Accessed {
			stats.Accessed++
		}
		if e.ScanResult.IsBlocked() {
			stats.Blocked++
		}
		if e.ScanResult.IsWarn() {
			stats.Warned++
		}
	}
	return stats
}
