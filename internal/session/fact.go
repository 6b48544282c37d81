package session

import (
	"fmt"
	"strings"
	"time"
)

// FactCategory classifies an extracted fact.
type FactCategory string

const (
	CategoryPersonal     FactCategory = "personal"
	CategoryRelationship FactCategory = "relationship"
	CategoryPreference   FactCategory = "preference"
	CategoryEvent        FactCategory = "event"
	CategoryLocation     FactCategory = "location"
	CategoryOther        FactCategory = "other"
)

// categoryOrder is the fixed iteration order used for focus tie-breaking
// and for grouped context rendering.
var categoryOrder = []FactCategory{
	CategoryPersonal,
	CategoryRelationship,
	CategoryPreference,
	CategoryEvent,
	CategoryLocation,
	CategoryOther,
}

// focusLabels maps fact categories to the conversation focus labels
// reported in reconciliation insights.
var focusLabels = map[FactCategory]string{
	CategoryPersonal:     "personal_development",
	CategoryRelationship: "family_relationships",
	CategoryPreference:   "personal_preferences",
	CategoryEvent:        "life_events",
	CategoryLocation:     "places_and_travel",
	CategoryOther:        "general_conversation",
}

// NormalizeCategory maps free-form category text from the upstream
// classifier onto the known enum, defaulting to CategoryOther.
func NormalizeCategory(s string) FactCategory {
	c := FactCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range categoryOrder {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

// Correction records one revision of a fact's text.
type Correction struct {
	OldText   string    `json:"old_text"`
	NewText   string    `json:"new_text"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Fact is an atomic, confidence-scored statement extracted from the
// conversation, attributed to a person when the classifier could tell.
type Fact struct {
	FactID            string       `json:"fact_id"`
	Category          FactCategory `json:"category"`
	Person            string       `json:"person"`
	FactText          string       `json:"fact_text"`
	Confidence        float64      `json:"confidence"`
	EndorsementCount  int          `json:"endorsement_count"`
	CreatedAt         time.Time    `json:"created_at"`
	LastUpdated       time.Time    `json:"last_updated"`
	CorrectionHistory []Correction `json:"correction_history,omitempty"`
}

// clampConfidence keeps confidence inside [0, 1]. Every write path to
// Fact.Confidence goes through this.
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// searchText is the haystack for substring fact search: statement,
// attribution and category, lowercased.
func (f *Fact) searchText() string {
	return strings.ToLower(fmt.Sprintf("%s %s %s", f.FactText, f.Person, f.Category))
}

// render formats a fact as a "key: value" context fragment. Attributed
// facts lead with the person's name so pronouns can be resolved.
func (f *Fact) render() string {
	if f.Person != "" && f.Person != "unknown" {
		return fmt.Sprintf("%s: %s", f.Person, f.FactText)
	}
	return f.FactText
}

// clone returns a deep copy safe to hand out after the registry lock
// is released.
func (f *Fact) clone() *Fact {
	cp := *f
	if len(f.CorrectionHistory) > 0 {
		cp.CorrectionHistory = make([]Correction, len(f.CorrectionHistory))
		copy(cp.CorrectionHistory, f.CorrectionHistory)
	}
	return &cp
}
