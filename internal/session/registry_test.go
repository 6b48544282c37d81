package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conversational-translator/internal/jsonx"
)

func TestCreateAndAddMessages(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", true)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.ActiveSessionCount())

	m1, err := r.AddMessage(id, "user", "hello", "en", MessageTranscription)
	require.NoError(t, err)
	m2, err := r.AddMessage(id, "user", "hallo", "de", MessageTranslation)
	require.NoError(t, err)

	assert.Equal(t, 0, m1.Index)
	assert.Equal(t, 1, m2.Index)

	ctx := r.GetContext(id, 0, 0)
	require.True(t, ctx.Exists)
	require.Len(t, ctx.Messages, 2)
	assert.Equal(t, "hello", ctx.Messages[0].Text)
	assert.Equal(t, "hallo", ctx.Messages[1].Text)
	assert.True(t, ctx.Info.IsPremium)
	assert.Equal(t, []string{"en", "de"}, ctx.Info.Languages)
}

func TestAddMessageMissingSession(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AddMessage("nope", "user", "hi", "en", MessageTranscription)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetContextMissingSession(t *testing.T) {
	r := newTestRegistry(t)
	ctx := r.GetContext("nope", 0, 0)
	assert.False(t, ctx.Exists)
	assert.Empty(t, ctx.Messages)
	assert.Empty(t, ctx.Facts)
}

func TestSearchFacts(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	_, err := r.ApplyFactOps(id, []FactOp{
		newFact(CategoryPersonal, "Anna", "works as a nurse in Berlin", 0.7),
		newFact(CategoryRelationship, "Tom", "is Anna's brother", 0.6),
		newFact(CategoryPreference, "Anna", "prefers tea over coffee", 0.8),
	})
	require.NoError(t, err)

	matches := r.SearchFacts(id, []string{"berlin"})
	require.Len(t, matches, 1)
	assert.Equal(t, "works as a nurse in Berlin", matches[0].FactText)

	// Attribution and category text are part of the haystack.
	assert.Len(t, r.SearchFacts(id, []string{"anna"}), 3)
	assert.Len(t, r.SearchFacts(id, []string{"preference"}), 1)

	assert.Empty(t, r.SearchFacts(id, []string{"zurich"}))
	assert.Empty(t, r.SearchFacts(id, nil))
	assert.Empty(t, r.SearchFacts("nope", []string{"anna"}))
}

func TestSearchFactsCapAndOrder(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		r.now = func() time.Time { return tick }
		_, err := r.ApplyFactOps(id, []FactOp{
			newFact(CategoryOther, "", "shared detail", 0.5),
		})
		require.NoError(t, err)
	}

	matches := r.SearchFacts(id, []string{"shared"})
	require.Len(t, matches, maxSearchResults)
	for i := 1; i < len(matches); i++ {
		assert.False(t, matches[i].LastUpdated.After(matches[i-1].LastUpdated),
			"results must be most recent first")
	}
}

func TestEndExportsAndRemoves(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	exporter, err := NewExporter(dir, logger)
	require.NoError(t, err)
	r := NewRegistry(Config{}, exporter, logger)

	id := r.Create("en", "de", false)
	_, err = r.AddMessage(id, "user", "hello", "en", MessageTranscription)
	require.NoError(t, err)
	_, err = r.ApplyFactOps(id, []FactOp{newFact(CategoryPersonal, "Anna", "lives in Berlin", 0.7)})
	require.NoError(t, err)

	path, err := r.End(id)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ActiveSessionCount())
	assert.Equal(t, dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var export Export
	require.NoError(t, jsonx.Unmarshal(data, &export))
	assert.Equal(t, "2.0", export.FormatVersion)
	assert.Equal(t, id, export.Metadata.SessionID)
	assert.Equal(t, 1, export.Metadata.TotalMessages)
	assert.Equal(t, 1, export.Metadata.TotalFacts)
	assert.Len(t, export.Conversation, 1)

	// Second End for the same id is a miss, not a second export.
	_, err = r.End(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndExportFailureRetainsSession(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := filepath.Join(t.TempDir(), "exports")
	exporter, err := NewExporter(dir, logger)
	require.NoError(t, err)
	r := NewRegistry(Config{}, exporter, logger)

	id := r.Create("en", "de", false)

	// Replace the export directory with a plain file so the write fails.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("blocker"), 0o644))

	_, err = r.End(id)
	require.Error(t, err)
	assert.Equal(t, 1, r.ActiveSessionCount(), "failed export must not drop the session")

	// Once the directory is back, ending succeeds.
	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	_, err = r.End(id)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ActiveSessionCount())
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t)
	id := r.Create("en", "de", false)
	_, err := r.AddMessage(id, "user", "hello", "en", MessageTranscription)
	require.NoError(t, err)
	_, err = r.ApplyFactOps(id, []FactOp{newFact(CategoryOther, "", "detail", 0.5)})
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 1, stats["active_sessions"])
	assert.Equal(t, 1, stats["total_messages"])
	assert.Equal(t, 1, stats["total_facts"])
}
