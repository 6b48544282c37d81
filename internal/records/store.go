// Package records persists client-synced conversation snapshots in
// Redis, keyed by session id. This is durable storage the frontend
// reads back across reconnects; it is separate from the in-memory
// session engine, which owns the live conversational state.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conversational-translator/internal/jsonx"
)

// ErrNotFound is returned when no record exists for a session.
var ErrNotFound = errors.New("conversation record not found")

// defaultTTL keeps synced records for a week; clients re-sync on use.
const defaultTTL = 7 * 24 * time.Hour

// Item is one turn in a client-synced conversation.
type Item struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Summary is the client-computed conversation digest stored alongside
// the transcript.
type Summary struct {
	Topics        []string          `json:"topics"`
	KeyDecisions  []string          `json:"keyDecisions"`
	DomainTerms   []string          `json:"domainTerms"`
	TimeRange     map[string]string `json:"timeRange"`
	MessageCount  int               `json:"messageCount"`
	TokenEstimate int               `json:"tokenEstimate"`
}

// Record is the stored document.
type Record struct {
	SessionID    string    `json:"session_id"`
	Conversation []Item    `json:"conversation"`
	Summary      *Summary  `json:"summary,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the Redis-backed record store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore wraps an existing Redis client.
func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{client: client, ttl: defaultTTL, logger: logger.Named("records")}
}

func key(sessionID string) string {
	return "conversation:" + sessionID
}

// Save upserts the conversation record for a session.
func (s *Store) Save(ctx context.Context, sessionID string, conversation []Item, summary *Summary) error {
	rec := Record{
		SessionID:    sessionID,
		Conversation: conversation,
		Summary:      summary,
		UpdatedAt:    time.Now().UTC(),
	}
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal conversation record: %w", err)
	}
	if err := s.client.Set(ctx, key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation record: %w", err)
	}
	s.logger.Debug("saved conversation record",
		zap.String("session_id", sessionID),
		zap.Int("items", len(conversation)))
	return nil
}

// Load fetches the record for a session.
func (s *Store) Load(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation record: %w", err)
	}
	var rec Record
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode conversation record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record for a session. Deleting a missing record
// returns ErrNotFound so clients can tell the difference.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete conversation record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted conversation record", zap.String("session_id", sessionID))
	return nil
}
