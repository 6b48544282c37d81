package session

import "time"

// Session aggregates one conversation's message log, fact store and
// language configuration. Sessions are owned exclusively by the
// Registry; nothing outside this package holds a live reference.
type Session struct {
	ID            string
	MainLanguage  string
	OtherLanguage string
	IsPremium     bool
	CreatedAt     time.Time
	LastActivity  time.Time

	messages []Message
	facts    map[string]*Fact
	factSeq  int

	// ending guards against a concurrent end/evict exporting the same
	// session twice while the lock is released for file I/O.
	ending bool
}

func newSession(id, mainLang, otherLang string, premium bool, now time.Time) *Session {
	return &Session{
		ID:            id,
		MainLanguage:  mainLang,
		OtherLanguage: otherLang,
		IsPremium:     premium,
		CreatedAt:     now,
		LastActivity:  now,
		facts:         make(map[string]*Fact),
	}
}

// touch records activity. Callers hold the registry lock.
func (s *Session) touch(now time.Time) {
	s.LastActivity = now
}

// Info is the session-level summary embedded in context snapshots.
type Info struct {
	SessionID       string    `json:"session_id"`
	DurationMinutes float64   `json:"duration_minutes"`
	MessageCount    int       `json:"message_count"`
	FactsCount      int       `json:"facts_count"`
	Languages       []string  `json:"languages"`
	LastActivity    time.Time `json:"last_activity"`
	IsPremium       bool      `json:"is_premium"`
}

func (s *Session) info(now time.Time) Info {
	return Info{
		SessionID:       s.ID,
		DurationMinutes: now.Sub(s.CreatedAt).Minutes(),
		MessageCount:    len(s.messages),
		FactsCount:      len(s.facts),
		Languages:       []string{s.MainLanguage, s.OtherLanguage},
		LastActivity:    s.LastActivity,
		IsPremium:       s.IsPremium,
	}
}

// Context is a read-only snapshot of a session's recent state, copied
// out under the registry lock.
type Context struct {
	Exists   bool             `json:"exists"`
	Messages []Message        `json:"messages"`
	Facts    map[string]*Fact `json:"memory_facts"`
	Info     Info             `json:"session_info"`
}

// Export is the JSON document written when a session ends or expires.
type Export struct {
	Metadata        ExportMetadata   `json:"session_metadata"`
	Conversation    []Message        `json:"conversation"`
	MemoryFacts     map[string]*Fact `json:"memory_facts"`
	ExportTimestamp time.Time        `json:"export_timestamp"`
	FormatVersion   string           `json:"format_version"`
}

// ExportMetadata summarizes the exported session.
type ExportMetadata struct {
	SessionID       string    `json:"session_id"`
	MainLanguage    string    `json:"main_language"`
	OtherLanguage   string    `json:"other_language"`
	IsPremium       bool      `json:"is_premium"`
	CreatedAt       time.Time `json:"created_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationMinutes float64   `json:"duration_minutes"`
	TotalMessages   int       `json:"total_messages"`
	TotalFacts      int       `json:"total_facts"`
}

// snapshotExport deep-copies everything the exporter needs so the file
// write can happen with the registry lock released.
func (s *Session) snapshotExport(now time.Time) *Export {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)

	facts := make(map[string]*Fact, len(s.facts))
	for id, f := range s.facts {
		facts[id] = f.clone()
	}

	return &Export{
		Metadata: ExportMetadata{
			SessionID:       s.ID,
			MainLanguage:    s.MainLanguage,
			OtherLanguage:   s.OtherLanguage,
			IsPremium:       s.IsPremium,
			CreatedAt:       s.CreatedAt,
			EndedAt:         now,
			DurationMinutes: now.Sub(s.CreatedAt).Minutes(),
			TotalMessages:   len(s.messages),
			TotalFacts:      len(s.facts),
		},
		Conversation:    msgs,
		MemoryFacts:     facts,
		ExportTimestamp: now,
		FormatVersion:   "2.0",
	}
}

// recentMessages returns messages newer than the cutoff, capped to the
// max most recent. Order is preserved. Callers hold the registry lock.
func (s *Session) recentMessages(cutoff time.Time, max int) []Message {
	var recent []Message
	for _, m := range s.messages {
		if m.Timestamp.After(cutoff) {
			recent = append(recent, m)
		}
	}
	if len(recent) > max {
		recent = recent[len(recent)-max:]
	}
	out := make([]Message, len(recent))
	copy(out, recent)
	return out
}
