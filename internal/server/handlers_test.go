package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conversational-translator/internal/ai"
	"github.com/conversational-translator/internal/config"
	"github.com/conversational-translator/internal/jsonx"
	"github.com/conversational-translator/internal/latency"
	"github.com/conversational-translator/internal/parser"
	"github.com/conversational-translator/internal/session"
)

// fakeProvider returns canned model output and records the context it
// was handed.
type fakeProvider struct {
	translateOut string
	expertOut    string
	lastContext  string
}

func (f *fakeProvider) TranslateText(_ context.Context, req ai.TranslateRequest) (string, error) {
	f.lastContext = req.SessionContext
	return f.translateOut, nil
}

func (f *fakeProvider) ExpertResponse(_ context.Context, req ai.ExpertRequest) (string, error) {
	f.lastContext = req.SessionContext
	return f.expertOut, nil
}

const translateEnvelope = `{
	"audio_language": "en",
	"transcription": "my sister lives in Berlin",
	"translation_language": "de",
	"translation": "meine Schwester wohnt in Berlin",
	"tone": "neutral",
	"fact_management": {"fact_operations": [
		{"operation": "NEW", "new_fact": {
			"category": "relationship", "person": "user",
			"fact_text": "has a sister in Berlin", "confidence": 0.8}}
	]}
}`

func newTestServer(t *testing.T, provider ai.Provider) (*httptest.Server, *session.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	exporter, err := session.NewExporter(t.TempDir(), logger)
	require.NoError(t, err)
	registry := session.NewRegistry(session.Config{}, exporter, logger)

	tracker, err := latency.NewTracker(t.TempDir(), logger)
	require.NoError(t, err)

	cfg := config.Default()
	srv := New(&cfg, Deps{
		Registry: registry,
		Provider: provider,
		Parser:   parser.New(logger),
		Tracker:  tracker,
	}, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, registry
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		data, err := jsonx.Marshal(body)
		require.NoError(t, err)
		buf.Write(data)
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResp(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, jsonx.Unmarshal(body, v))
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/session", map[string]interface{}{
		"main_language":  "en",
		"other_language": "de",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		SessionID string `json:"session_id"`
	}
	decodeResp(t, resp, &out)
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func TestCreateSessionValidation(t *testing.T) {
	ts, _ := newTestServer(t, &fakeProvider{})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/session", map[string]interface{}{
		"main_language": "en",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddMessageAndGetContext(t *testing.T) {
	ts, _ := newTestServer(t, &fakeProvider{})
	id := createSession(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/session/"+id+"/message", map[string]interface{}{
		"speaker": "user", "text": "hello", "language": "en",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/session/"+id+"/context", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ctx session.Context
	decodeResp(t, resp, &ctx)
	assert.True(t, ctx.Exists)
	require.Len(t, ctx.Messages, 1)
	assert.Equal(t, "hello", ctx.Messages[0].Text)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/session/unknown/context", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTranslateTextPipeline(t *testing.T) {
	provider := &fakeProvider{translateOut: translateEnvelope}
	ts, registry := newTestServer(t, provider)
	id := createSession(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/translate-text/", map[string]interface{}{
		"session_id": id,
		"text":       "my sister lives in Berlin",
		"speaker":    "user",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		SessionID string           `json:"session_id"`
		Response  *parser.Response `json:"response"`
		FactOps   int              `json:"fact_operations"`
	}
	decodeResp(t, resp, &out)
	assert.Equal(t, id, out.SessionID)
	assert.Equal(t, "meine Schwester wohnt in Berlin", out.Response.Translation)
	assert.Equal(t, 1, out.FactOps)

	// Both sides of the turn were appended to the session log.
	ctx := registry.GetContext(id, 0, 0)
	require.Len(t, ctx.Messages, 2)
	assert.Equal(t, session.MessageTranscription, ctx.Messages[0].Type)
	assert.Equal(t, session.MessageTranslation, ctx.Messages[1].Type)

	// Fact reconciliation runs in the background.
	assert.Eventually(t, func() bool {
		return len(registry.Facts(id)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTranslateFeedsContextToProvider(t *testing.T) {
	provider := &fakeProvider{translateOut: translateEnvelope}
	ts, registry := newTestServer(t, provider)
	id := createSession(t, ts)

	_, err := registry.ApplyFactOps(id, []session.FactOp{{
		Kind: session.OpNew,
		Fact: &session.FactPayload{
			Category: session.CategoryPersonal, Person: "Anna",
			FactText: "works as a nurse", Confidence: 0.8,
		},
	}})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, ts.URL+"/translate-text/", map[string]interface{}{
		"session_id": id,
		"text":       "she is at work today",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, provider.lastContext, "works as a nurse")
}

func TestTranslateUnknownSessionStillAnswers(t *testing.T) {
	provider := &fakeProvider{translateOut: translateEnvelope}
	ts, _ := newTestServer(t, provider)

	resp := doJSON(t, http.MethodPost, ts.URL+"/translate-text/", map[string]interface{}{
		"session_id":      "unknown",
		"text":            "hello",
		"source_language": "en",
		"target_language": "de",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, provider.lastContext)
}

func TestTranslateRequiresText(t *testing.T) {
	ts, _ := newTestServer(t, &fakeProvider{})
	resp := doJSON(t, http.MethodPost, ts.URL+"/translate-text/", map[string]interface{}{
		"session_id": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEndSession(t *testing.T) {
	ts, registry := newTestServer(t, &fakeProvider{})
	id := createSession(t, ts)

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/session/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		ExportPath string `json:"export_path"`
	}
	decodeResp(t, resp, &out)
	assert.NotEmpty(t, out.ExportPath)
	assert.Equal(t, 0, registry.ActiveSessionCount())

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/session/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOptimizedContext(t *testing.T) {
	ts, registry := newTestServer(t, &fakeProvider{})
	id := createSession(t, ts)
	_, err := registry.AddMessage(id, "user", "hello", "en", session.MessageTranscription)
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/context/optimize/"+id+"?query=hi", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Context  string `json:"context"`
		Messages int    `json:"messages"`
	}
	decodeResp(t, resp, &out)
	assert.Contains(t, out.Context, "SESSION OVERVIEW:")
	assert.Equal(t, 1, out.Messages)
}

func TestConversationRoutesWithoutRedis(t *testing.T) {
	ts, _ := newTestServer(t, &fakeProvider{})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/conversation/abc/sync", map[string]interface{}{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/conversation/abc", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	ts, _ := newTestServer(t, &fakeProvider{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}
	decodeResp(t, resp, &health)
	assert.Equal(t, "ok", health.Status)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
