// Package session implements the in-process conversational memory engine:
// a registry of per-session message logs and fact stores, the fact
// reconciliation engine, the prompt context builder and the idle-session
// lifecycle manager.
//
// One coarse mutex guards the whole registry. Session counts are modest
// and every critical section is a bounded copy, so the simplicity beats
// per-session locking; see DESIGN.md for the tradeoff discussion.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned when an operation references a
	// session absent from the registry. Expected steady-state after
	// eviction, never fatal.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFactNotFound is returned when a fact lookup misses.
	ErrFactNotFound = errors.New("fact not found")
)

const (
	// maxSearchResults caps fact search output.
	maxSearchResults = 10
)

// Config holds the registry's tunables.
type Config struct {
	// MaxContextMessages caps context reads (default 15).
	MaxContextMessages int
	// SlidingWindow bounds how old a message may be and still appear
	// in context (default 30 minutes).
	SlidingWindow time.Duration
	// IdleThreshold is the inactivity span after which the lifecycle
	// manager exports and evicts a session (default 4 hours).
	IdleThreshold time.Duration
	// SweepInterval is the lifecycle manager's cycle period (default
	// 30 minutes).
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = 15
	}
	if c.SlidingWindow <= 0 {
		c.SlidingWindow = 30 * time.Minute
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 4 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Minute
	}
	return c
}

// Registry owns all live session state. All access, read or write,
// serializes on one mutex; no I/O happens while it is held.
type Registry struct {
	cfg      Config
	exporter *Exporter
	logger   *zap.Logger

	// now is swappable for tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. The exporter may not be nil;
// sessions are never dropped without a successful export.
func NewRegistry(cfg Config, exporter *Exporter, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		exporter: exporter,
		logger:   logger.Named("session"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session and returns its identifier.
func (r *Registry) Create(mainLang, otherLang string, premium bool) string {
	id := uuid.NewString()
	now := r.now()

	r.mu.Lock()
	r.sessions[id] = newSession(id, mainLang, otherLang, premium, now)
	r.mu.Unlock()

	r.logger.Info("created session",
		zap.String("session_id", id),
		zap.String("main_language", mainLang),
		zap.String("other_language", otherLang),
		zap.Bool("premium", premium))
	return id
}

// AddMessage appends a conversational turn to the session's log.
func (r *Registry) AddMessage(id, speaker, text, language string, typ MessageType) (Message, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		r.logger.Warn("add message: session not found", zap.String("session_id", id))
		return Message{}, ErrSessionNotFound
	}

	msg := Message{
		Index:     len(s.messages),
		Speaker:   speaker,
		Text:      text,
		Language:  language,
		Type:      typ,
		Timestamp: now,
	}
	s.messages = append(s.messages, msg)
	s.touch(now)

	r.logger.Debug("added message",
		zap.String("session_id", id),
		zap.Int("index", msg.Index),
		zap.String("type", string(typ)),
		zap.Int("chars", len(text)))
	return msg, nil
}

// GetContext returns a sliding-window snapshot of the session. Zero
// maxMessages or window fall back to the configured defaults. A missing
// session yields an empty snapshot with Exists=false rather than an error:
// callers embed the result in prompts either way.
func (r *Registry) GetContext(id string, maxMessages int, window time.Duration) Context {
	if maxMessages <= 0 {
		maxMessages = r.cfg.MaxContextMessages
	}
	if window <= 0 {
		window = r.cfg.SlidingWindow
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Context{Facts: map[string]*Fact{}}
	}

	facts := make(map[string]*Fact, len(s.facts))
	for fid, f := range s.facts {
		facts[fid] = f.clone()
	}

	return Context{
		Exists:   true,
		Messages: s.recentMessages(now.Add(-window), maxMessages),
		Facts:    facts,
		Info:     s.info(now),
	}
}

// Facts returns copies of all facts in the session, unordered.
func (r *Registry) Facts(id string) []*Fact {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return s.factsLocked()
}

func (s *Session) factsLocked() []*Fact {
	out := make([]*Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f.clone())
	}
	return out
}

// SearchFacts matches query terms case-insensitively against each
// fact's statement, attribution and category text. Results come back
// most-recently-updated first, capped at 10.
func (r *Registry) SearchFacts(id string, terms []string) []*Fact {
	if len(terms) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}

	var matches []*Fact
	for _, f := range s.facts {
		hay := f.searchText()
		for _, term := range terms {
			if term == "" {
				continue
			}
			if strings.Contains(hay, strings.ToLower(term)) {
				matches = append(matches, f.clone())
				break
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastUpdated.After(matches[j].LastUpdated)
	})
	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}
	return matches
}

// End exports the session and removes it from the registry, returning
// the export file path. A second call for the same id returns
// ErrSessionNotFound. The file write happens with the lock released;
// the session is only deleted once the export succeeded.
func (r *Registry) End(id string) (string, error) {
	now := r.now()

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.ending {
		r.mu.Unlock()
		return "", ErrSessionNotFound
	}
	s.ending = true
	export := s.snapshotExport(now)
	r.mu.Unlock()

	path, err := r.exporter.Write(export)
	if err != nil {
		r.mu.Lock()
		s.ending = false
		r.mu.Unlock()
		r.logger.Error("session export failed, retaining session",
			zap.String("session_id", id), zap.Error(err))
		return "", err
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.logger.Info("exported and removed session",
		zap.String("session_id", id),
		zap.String("path", path),
		zap.Int("messages", export.Metadata.TotalMessages),
		zap.Int("facts", export.Metadata.TotalFacts))
	return path, nil
}

// expired returns the ids of sessions idle past the threshold.
func (r *Registry) expired() []string {
	cutoff := r.now().Add(-r.cfg.IdleThreshold)

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, s := range r.sessions {
		if !s.ending && s.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveSessionCount reports how many sessions are live.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveSessionIDs returns the ids of all live sessions. Used by the
// shutdown flush.
func (r *Registry) ActiveSessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns registry-level counters for the stats endpoint.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	totalMessages := 0
	totalFacts := 0
	for _, s := range r.sessions {
		totalMessages += len(s.messages)
		totalFacts += len(s.facts)
	}
	return map[string]interface{}{
		"active_sessions": len(r.sessions),
		"total_messages":  totalMessages,
		"total_facts":     totalFacts,
	}
}
