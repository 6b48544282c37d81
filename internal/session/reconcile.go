package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// OpKind identifies a fact operation variant.
type OpKind string

const (
	OpNew         OpKind = "NEW"
	OpEndorse     OpKind = "ENDORSE"
	OpCorrect     OpKind = "CORRECT"
	OpDeduplicate OpKind = "DEDUPLICATE"
	OpDelete      OpKind = "DELETE"
)

// defaultEndorseBoost is applied when an ENDORSE or DEDUPLICATE
// operation carries no explicit boost.
const defaultEndorseBoost = 0.1

// FactPayload carries the fact fields an operation supplies: the new
// fact for NEW, the replacement for CORRECT, the candidate duplicate
// for DEDUPLICATE.
type FactPayload struct {
	Category   FactCategory
	Person     string
	FactText   string
	Confidence float64
}

// FactOp is one reconciliation operation. Which fields are meaningful
// depends on Kind; Validate enforces that at the decode boundary so the
// engine never sees a half-formed variant.
type FactOp struct {
	Kind     OpKind
	TargetID string
	Fact     *FactPayload
	Boost    float64
	Reason   string
}

// Validate reports whether the operation carries the fields its kind
// requires.
func (op FactOp) Validate() error {
	switch op.Kind {
	case OpNew:
		if op.Fact == nil || op.Fact.FactText == "" {
			return fmt.Errorf("NEW operation requires fact text")
		}
	case OpEndorse:
		if op.TargetID == "" {
			return fmt.Errorf("ENDORSE operation requires a target fact id")
		}
	case OpCorrect:
		if op.TargetID == "" || op.Fact == nil || op.Fact.FactText == "" {
			return fmt.Errorf("CORRECT operation requires a target fact id and a replacement")
		}
	case OpDeduplicate:
		if op.TargetID == "" || op.Fact == nil || op.Fact.FactText == "" {
			return fmt.Errorf("DEDUPLICATE operation requires a target fact id and a candidate")
		}
	case OpDelete:
		if op.TargetID == "" {
			return fmt.Errorf("DELETE operation requires a target fact id")
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// Insights summarizes one reconciliation batch for observability.
type Insights struct {
	TotalFacts     int    `json:"total_facts"`
	NewFactsAdded  int    `json:"new_facts_added"`
	FactsEndorsed  int    `json:"facts_endorsed"`
	FactsCorrected int    `json:"facts_corrected"`
	FactsDeleted   int    `json:"facts_deleted"`
	PrimaryFocus   string `json:"primary_focus"`
}

// ApplyFactOps reconciles a batch of fact operations against the
// session's fact store, in the order given. Malformed entries and
// unknown targets are logged and skipped: the batch comes from an
// unreliable upstream classifier and one bad entry must not poison the
// rest. Only a missing session is an error.
func (r *Registry) ApplyFactOps(id string, ops []FactOp) (Insights, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Insights{}, ErrSessionNotFound
	}

	var ins Insights
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			r.logger.Warn("skipping malformed fact operation",
				zap.String("session_id", id),
				zap.String("kind", string(op.Kind)),
				zap.Error(err))
			continue
		}

		switch op.Kind {
		case OpNew:
			f := s.insertFact(op.Fact, now)
			ins.NewFactsAdded++
			r.logger.Debug("added fact",
				zap.String("session_id", id),
				zap.String("fact_id", f.FactID),
				zap.String("category", string(f.Category)))

		case OpEndorse:
			if s.endorseFact(op.TargetID, op.Boost, now) {
				ins.FactsEndorsed++
			} else {
				r.logUnknownTarget(id, op)
			}

		case OpCorrect:
			if s.correctFact(op.TargetID, op.Fact, op.Reason, now) {
				ins.FactsCorrected++
			} else {
				r.logUnknownTarget(id, op)
			}

		case OpDeduplicate:
			if s.deduplicateFact(op.TargetID, op.Fact, now) {
				ins.FactsEndorsed++
			} else {
				r.logUnknownTarget(id, op)
			}

		case OpDelete:
			if s.deleteFact(op.TargetID) {
				ins.FactsDeleted++
			} else {
				r.logUnknownTarget(id, op)
			}
		}
	}

	s.touch(now)
	ins.TotalFacts = len(s.facts)
	ins.PrimaryFocus = primaryFocus(s.facts)

	r.logger.Info("reconciled fact batch",
		zap.String("session_id", id),
		zap.Int("operations", len(ops)),
		zap.Int("new", ins.NewFactsAdded),
		zap.Int("endorsed", ins.FactsEndorsed),
		zap.Int("corrected", ins.FactsCorrected),
		zap.Int("deleted", ins.FactsDeleted),
		zap.String("primary_focus", ins.PrimaryFocus))
	return ins, nil
}

func (r *Registry) logUnknownTarget(sessionID string, op FactOp) {
	r.logger.Warn("fact operation target not found, skipping",
		zap.String("session_id", sessionID),
		zap.String("kind", string(op.Kind)),
		zap.String("target", op.TargetID))
}

// insertFact materializes a NEW payload. Callers hold the registry lock.
func (s *Session) insertFact(p *FactPayload, now time.Time) *Fact {
	id := fmt.Sprintf("fact_%s_%d", now.UTC().Format("20060102_150405"), s.factSeq)
	s.factSeq++

	f := &Fact{
		FactID:           id,
		Category:         p.Category,
		Person:           p.Person,
		FactText:         p.FactText,
		Confidence:       clampConfidence(p.Confidence),
		EndorsementCount: 1,
		CreatedAt:        now,
		LastUpdated:      now,
	}
	if f.Category == "" {
		f.Category = CategoryOther
	}
	if f.Person == "" {
		f.Person = "unknown"
	}
	s.facts[id] = f
	return f
}

// endorseFact boosts confidence and bumps the endorsement count.
func (s *Session) endorseFact(factID string, boost float64, now time.Time) bool {
	f, ok := s.facts[factID]
	if !ok {
		return false
	}
	if boost <= 0 {
		boost = defaultEndorseBoost
	}
	f.Confidence = clampConfidence(f.Confidence + boost)
	f.EndorsementCount++
	f.LastUpdated = now
	return true
}

// correctFact replaces the fact's content while preserving its identity,
// creation time, endorsement count and revision history.
func (s *Session) correctFact(factID string, p *FactPayload, reason string, now time.Time) bool {
	f, ok := s.facts[factID]
	if !ok {
		return false
	}
	f.CorrectionHistory = append(f.CorrectionHistory, Correction{
		OldText:   f.FactText,
		NewText:   p.FactText,
		Reason:    reason,
		Timestamp: now,
	})
	f.FactText = p.FactText
	if p.Category != "" {
		f.Category = p.Category
	}
	if p.Person != "" {
		f.Person = p.Person
	}
	f.Confidence = clampConfidence(p.Confidence)
	f.LastUpdated = now
	return true
}

// deduplicateFact merges a candidate duplicate into the target. The
// higher-confidence version wins; endorsement evidence is combined
// either way and the losing text is discarded.
func (s *Session) deduplicateFact(factID string, candidate *FactPayload, now time.Time) bool {
	f, ok := s.facts[factID]
	if !ok {
		return false
	}
	if candidate.Confidence > f.Confidence {
		f.FactText = candidate.FactText
		if candidate.Category != "" {
			f.Category = candidate.Category
		}
		if candidate.Person != "" {
			f.Person = candidate.Person
		}
		f.Confidence = clampConfidence(candidate.Confidence)
		f.EndorsementCount++
	} else {
		f.Confidence = clampConfidence(f.Confidence + defaultEndorseBoost)
		f.EndorsementCount++
	}
	f.LastUpdated = now
	return true
}

// deleteFact removes the fact outright; no tombstone is kept.
func (s *Session) deleteFact(factID string) bool {
	if _, ok := s.facts[factID]; !ok {
		return false
	}
	delete(s.facts, factID)
	return true
}

// primaryFocus labels the conversation by majority vote over fact
// categories. Ties break on the fixed category order.
func primaryFocus(facts map[string]*Fact) string {
	if len(facts) == 0 {
		return "general"
	}

	counts := make(map[FactCategory]int)
	for _, f := range facts {
		counts[f.Category]++
	}

	best := CategoryOther
	bestCount := -1
	for _, c := range categoryOrder {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return focusLabels[best]
}
