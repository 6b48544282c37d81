package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := zaptest.NewLogger(t)
	exporter, err := NewExporter(t.TempDir(), logger)
	require.NoError(t, err)
	return NewRegistry(Config{}, exporter, logger)
}

func newFact(category FactCategory, person, text string, confidence float64) FactOp {
	return FactOp{
		Kind: OpNew,
		Fact: &FactPayload{
			Category:   category,
			Person:     person,
			FactText:   text,
			Confidence: confidence,
		},
	}
}

func onlyFact(t *testing.T, r *Registry, id string) *Fact {
	t.Helper()
	facts := r.Facts(id)
	require.Len(t, facts, 1)
	return facts[0]
}

func TestApplyFactOpsNewDefaults(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	ins, err := r.ApplyFactOps(id, []FactOp{
		{Kind: OpNew, Fact: &FactPayload{FactText: "works as a nurse", Confidence: 0.7}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ins.NewFactsAdded)
	assert.Equal(t, 1, ins.TotalFacts)

	f := onlyFact(t, r, id)
	assert.True(t, strings.HasPrefix(f.FactID, "fact_"), "got id %q", f.FactID)
	assert.Equal(t, CategoryOther, f.Category)
	assert.Equal(t, "unknown", f.Person)
	assert.Equal(t, 0.7, f.Confidence)
	assert.Equal(t, 1, f.EndorsementCount)
	assert.Equal(t, f.CreatedAt, f.LastUpdated)
}

func TestConfidenceStaysClamped(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		newFact(CategoryPersonal, "Anna", "lives in Berlin", -0.5),
	})
	require.NoError(t, err)
	f := onlyFact(t, r, id)
	assert.Equal(t, 0.0, f.Confidence)

	// Endorsing past 1.0 saturates instead of overflowing.
	for i := 0; i < 15; i++ {
		_, err = r.ApplyFactOps(id, []FactOp{{Kind: OpEndorse, TargetID: f.FactID}})
		require.NoError(t, err)
	}
	f = onlyFact(t, r, id)
	assert.Equal(t, 1.0, f.Confidence)
	assert.Equal(t, 16, f.EndorsementCount)
}

func TestEndorseDefaultBoost(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		newFact(CategoryPersonal, "Anna", "has two kids", 0.7),
	})
	require.NoError(t, err)
	factID := onlyFact(t, r, id).FactID

	ins, err := r.ApplyFactOps(id, []FactOp{
		{Kind: OpEndorse, TargetID: factID},
		{Kind: OpEndorse, TargetID: factID},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ins.FactsEndorsed)

	f := onlyFact(t, r, id)
	assert.InDelta(t, 0.9, f.Confidence, 1e-9)
	assert.Equal(t, 3, f.EndorsementCount)
}

func TestEndorseExplicitBoost(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{newFact(CategoryEvent, "", "moving next month", 0.5)})
	require.NoError(t, err)
	factID := onlyFact(t, r, id).FactID

	_, err = r.ApplyFactOps(id, []FactOp{{Kind: OpEndorse, TargetID: factID, Boost: 0.25}})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, onlyFact(t, r, id).Confidence, 1e-9)
}

func TestCorrectPreservesIdentity(t *testing.T) {
	r := newTestRegistry(t)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		newFact(CategoryPersonal, "Anna", "lives in Hamburg", 0.7),
	})
	require.NoError(t, err)
	before := onlyFact(t, r, id)

	r.now = func() time.Time { return time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC) }
	ins, err := r.ApplyFactOps(id, []FactOp{{
		Kind:     OpCorrect,
		TargetID: before.FactID,
		Fact:     &FactPayload{FactText: "lives in Berlin", Confidence: 0.9},
		Reason:   "speaker corrected the city",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, ins.FactsCorrected)

	after := onlyFact(t, r, id)
	assert.Equal(t, before.FactID, after.FactID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, before.EndorsementCount, after.EndorsementCount)
	assert.Equal(t, "lives in Berlin", after.FactText)
	assert.Equal(t, 0.9, after.Confidence)
	assert.True(t, after.LastUpdated.After(before.LastUpdated))

	require.Len(t, after.CorrectionHistory, 1)
	c := after.CorrectionHistory[0]
	assert.Equal(t, "lives in Hamburg", c.OldText)
	assert.Equal(t, "lives in Berlin", c.NewText)
	assert.Equal(t, "speaker corrected the city", c.Reason)
}

func TestDeduplicateHigherConfidenceWins(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		newFact(CategoryPreference, "Anna", "likes coffee", 0.6),
	})
	require.NoError(t, err)
	factID := onlyFact(t, r, id).FactID

	// Candidate stronger: its text replaces the stored one.
	_, err = r.ApplyFactOps(id, []FactOp{{
		Kind:     OpDeduplicate,
		TargetID: factID,
		Fact:     &FactPayload{Category: CategoryPreference, Person: "Anna", FactText: "drinks coffee every morning", Confidence: 0.8},
	}})
	require.NoError(t, err)

	f := onlyFact(t, r, id)
	assert.Equal(t, "drinks coffee every morning", f.FactText)
	assert.Equal(t, 0.8, f.Confidence)
	assert.Equal(t, 2, f.EndorsementCount)

	// Candidate weaker: stored text stays, confidence gets the boost.
	_, err = r.ApplyFactOps(id, []FactOp{{
		Kind:     OpDeduplicate,
		TargetID: factID,
		Fact:     &FactPayload{FactText: "likes coffee", Confidence: 0.3},
	}})
	require.NoError(t, err)

	f = onlyFact(t, r, id)
	assert.Equal(t, "drinks coffee every morning", f.FactText)
	assert.InDelta(t, 0.9, f.Confidence, 1e-9)
	assert.Equal(t, 3, f.EndorsementCount)
}

func TestDeleteRemovesFact(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{newFact(CategoryOther, "", "temporary detail", 0.4)})
	require.NoError(t, err)
	factID := onlyFact(t, r, id).FactID

	ins, err := r.ApplyFactOps(id, []FactOp{{Kind: OpDelete, TargetID: factID}})
	require.NoError(t, err)
	assert.Equal(t, 1, ins.FactsDeleted)
	assert.Empty(t, r.Facts(id))
}

func TestUnknownTargetsAreSkipped(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	ins, err := r.ApplyFactOps(id, []FactOp{
		{Kind: OpEndorse, TargetID: "fact_missing"},
		{Kind: OpDelete, TargetID: "fact_missing"},
		{Kind: OpCorrect, TargetID: "fact_missing", Fact: &FactPayload{FactText: "x"}},
		newFact(CategoryPersonal, "Anna", "still lands", 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ins.FactsEndorsed)
	assert.Equal(t, 0, ins.FactsDeleted)
	assert.Equal(t, 0, ins.FactsCorrected)
	assert.Equal(t, 1, ins.NewFactsAdded)
	assert.Equal(t, 1, ins.TotalFacts)
}

func TestMalformedOpsAreSkipped(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	ins, err := r.ApplyFactOps(id, []FactOp{
		{Kind: OpNew},                            // no payload
		{Kind: OpEndorse},                        // no target
		{Kind: OpKind("MERGE"), TargetID: "abc"}, // unknown kind
		newFact(CategoryPersonal, "", "valid one", 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ins.NewFactsAdded)
	assert.Equal(t, 1, ins.TotalFacts)
}

func TestApplyFactOpsMissingSession(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.ApplyFactOps("nope", []FactOp{newFact(CategoryOther, "", "x", 0.5)})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPrimaryFocus(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	ins, err := r.ApplyFactOps(id, nil)
	require.NoError(t, err)
	assert.Equal(t, "general", ins.PrimaryFocus)

	ins, err = r.ApplyFactOps(id, []FactOp{
		newFact(CategoryLocation, "", "lives in Berlin", 0.7),
		newFact(CategoryLocation, "", "works in Potsdam", 0.7),
		newFact(CategoryPreference, "", "likes tea", 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "places_and_travel", ins.PrimaryFocus)

	// Tie between preference and location breaks on category order:
	// preference comes first.
	ins, err = r.ApplyFactOps(id, []FactOp{
		newFact(CategoryPreference, "", "prefers the window seat", 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "personal_preferences", ins.PrimaryFocus)
}

func TestRepeatedMentionScenario(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		newFact(CategoryRelationship, "Anna", "has a sister named Marie", 0.7),
	})
	require.NoError(t, err)
	factID := onlyFact(t, r, id).FactID

	// Two later turns mention the sister again.
	for i := 0; i < 2; i++ {
		_, err = r.ApplyFactOps(id, []FactOp{{Kind: OpEndorse, TargetID: factID}})
		require.NoError(t, err)
	}

	f := onlyFact(t, r, id)
	assert.InDelta(t, 0.9, f.Confidence, 1e-9)
	assert.Equal(t, 3, f.EndorsementCount)
	assert.Empty(t, f.CorrectionHistory)
}

func TestNameEndorsementScenario(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en-US", "da-DK", false)

	ins, err := r.ApplyFactOps(id, []FactOp{
		{Kind: OpNew, Fact: &FactPayload{Category: CategoryPersonal, Person: "Anna", FactText: "User's name is Anna", Confidence: 0.7}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, ins.TotalFacts)
	f := onlyFact(t, r, id)
	assert.Equal(t, 0.7, f.Confidence)

	_, err = r.ApplyFactOps(id, []FactOp{{Kind: OpEndorse, TargetID: f.FactID, Boost: 0.2}})
	require.NoError(t, err)

	f = onlyFact(t, r, id)
	assert.InDelta(t, 0.9, f.Confidence, 1e-9)
	assert.Equal(t, 2, f.EndorsementCount)
}

func TestCityDeduplicationScenario(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en-US", "da-DK", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		{Kind: OpNew, Fact: &FactPayload{Category: CategoryLocation, Person: "Anna", FactText: "Anna lives in Copenhagen", Confidence: 0.6}},
	})
	require.NoError(t, err)
	target := onlyFact(t, r, id)

	_, err = r.ApplyFactOps(id, []FactOp{{
		Kind:     OpDeduplicate,
		TargetID: target.FactID,
		Fact:     &FactPayload{Category: CategoryLocation, Person: "Anna", FactText: "Anna lives in Aarhus", Confidence: 0.9},
	}})
	require.NoError(t, err)

	f := onlyFact(t, r, id)
	assert.Equal(t, "Anna lives in Aarhus", f.FactText)
	assert.Equal(t, 0.9, f.Confidence)
	assert.Equal(t, 2, f.EndorsementCount)
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, CategoryPersonal, NormalizeCategory("Personal"))
	assert.Equal(t, CategoryLocation, NormalizeCategory(" location "))
	assert.Equal(t, CategoryOther, NormalizeCategory("biography"))
	assert.Equal(t, CategoryOther, NormalizeCategory(""))
}
