// Package transcript persists conversation turns for audit and debugging.
// Secrets are redacted before anything is written.
package transcript

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one stored conversation line.
type Entry struct {
	ID        string
	SessionID string
	Route     string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// Store persists transcript entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close()
}

var (
	hexKeyPattern    = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)
	base58KeyPattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{80,90}\b`)
	seedPhrasePrefix = regexp.MustCompile(`(?i)\b(seed phrase|mnemonic|private key)\b\s*[:\-]?\s*`)
)

const redactedMarker = "[redacted]"

// Redact strips key material from a line before storage. Anything after a
// seed-phrase or private-key label is dropped wholesale.
func Redact(content string) string {
	if loc := seedPhrasePrefix.FindStringIndex(content); loc != nil {
		content = content[:loc[1]] + redactedMarker
	}
	content = hexKeyPattern.ReplaceAllString(content, redactedMarker)
	content = base58KeyPattern.ReplaceAllString(content, redactedMarker)
	return content
}

// MemoryStore keeps entries in process memory. It backs development and
// tests when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Content = Redact(entry.Content)
	entry.Sender = normalizeSender(entry.Sender)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.SessionID] = append(s.entries[entry.SessionID], entry)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[sessionID]
	out := make([]Entry, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() {}

func normalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}
