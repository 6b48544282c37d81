// Package latency records per-interaction phase timings for the
// translation pipeline: the model call, response parsing and speech
// synthesis. Rows append to a daily CSV under the logs directory and a
// small LRU keeps recent interactions available for the status endpoint.
package latency

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// recentInteractions bounds the in-memory record of recent timings.
const recentInteractions = 256

var csvHeader = []string{
	"timestamp",
	"session_id",
	"total_latency_ms",
	"model_processing_ms",
	"parsing_ms",
	"synthesis_ms",
	"audio_language",
	"translation_language",
	"is_direct_query",
	"error_occurred",
}

// Timing accumulates phase marks for one interaction.
type Timing struct {
	start          time.Time
	modelStart     time.Time
	modelEnd       time.Time
	parsingStart   time.Time
	parsingEnd     time.Time
	synthesisStart time.Time
	synthesisEnd   time.Time
}

// Record is one finished interaction's timing breakdown.
type Record struct {
	Timestamp           time.Time `json:"timestamp"`
	SessionID           string    `json:"session_id"`
	TotalMs             int64     `json:"total_latency_ms"`
	ModelMs             int64     `json:"model_processing_ms"`
	ParsingMs           int64     `json:"parsing_ms"`
	SynthesisMs         int64     `json:"synthesis_ms"`
	AudioLanguage       string    `json:"audio_language"`
	TranslationLanguage string    `json:"translation_language"`
	IsDirectQuery       bool      `json:"is_direct_query"`
	ErrorOccurred       bool      `json:"error_occurred"`
}

// Tracker appends timing rows to CSV and retains recent records.
type Tracker struct {
	dir    string
	logger *zap.Logger
	recent *lru.Cache[string, Record]

	mu sync.Mutex
}

// NewTracker creates the logs directory if needed.
func NewTracker(dir string, logger *zap.Logger) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory %s: %w", dir, err)
	}
	recent, err := lru.New[string, Record](recentInteractions)
	if err != nil {
		return nil, err
	}
	return &Tracker{dir: dir, logger: logger.Named("latency"), recent: recent}, nil
}

// Start begins timing one interaction.
func (t *Tracker) Start() *Timing {
	return &Timing{start: time.Now()}
}

func (tm *Timing) MarkModelStart()     { tm.modelStart = time.Now() }
func (tm *Timing) MarkModelEnd()       { tm.modelEnd = time.Now() }
func (tm *Timing) MarkParsingStart()   { tm.parsingStart = time.Now() }
func (tm *Timing) MarkParsingEnd()     { tm.parsingEnd = time.Now() }
func (tm *Timing) MarkSynthesisStart() { tm.synthesisStart = time.Now() }
func (tm *Timing) MarkSynthesisEnd()   { tm.synthesisEnd = time.Now() }

func phaseMs(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}

// Log finalizes the timing, appends a CSV row and records it in the
// recent set. Logging failures are reported but never propagate; the
// tracker must not take the request path down with it.
func (t *Tracker) Log(tm *Timing, sessionID, audioLang, translationLang string, directQuery, errorOccurred bool) Record {
	now := time.Now()
	rec := Record{
		Timestamp:           now,
		SessionID:           sessionID,
		TotalMs:             now.Sub(tm.start).Milliseconds(),
		ModelMs:             phaseMs(tm.modelStart, tm.modelEnd),
		ParsingMs:           phaseMs(tm.parsingStart, tm.parsingEnd),
		SynthesisMs:         phaseMs(tm.synthesisStart, tm.synthesisEnd),
		AudioLanguage:       audioLang,
		TranslationLanguage: translationLang,
		IsDirectQuery:       directQuery,
		ErrorOccurred:       errorOccurred,
	}

	t.recent.Add(fmt.Sprintf("%s_%d", sessionID, now.UnixNano()), rec)

	if err := t.appendRow(rec); err != nil {
		t.logger.Warn("failed to append latency row", zap.Error(err))
	}
	return rec
}

func (t *Tracker) appendRow(rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := filepath.Join(t.dir, "latency_"+rec.Timestamp.Format("20060102")+".csv")

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	row := []string{
		rec.Timestamp.Format(time.RFC3339),
		rec.SessionID,
		strconv.FormatInt(rec.TotalMs, 10),
		strconv.FormatInt(rec.ModelMs, 10),
		strconv.FormatInt(rec.ParsingMs, 10),
		strconv.FormatInt(rec.SynthesisMs, 10),
		rec.AudioLanguage,
		rec.TranslationLanguage,
		strconv.FormatBool(rec.IsDirectQuery),
		strconv.FormatBool(rec.ErrorOccurred),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Recent returns up to n of the most recently logged records.
func (t *Tracker) Recent(n int) []Record {
	keys := t.recent.Keys()
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := t.recent.Peek(k); ok {
			out = append(out, rec)
		}
	}
	return out
}
