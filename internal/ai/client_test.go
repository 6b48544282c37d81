package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTranslateTextPostsPrompt(t *testing.T) {
	var gotPath, gotPrompt string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotPrompt = string(body)
		w.Write([]byte(`{"text": "{\"translation\": \"hallo\"}"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, zaptest.NewLogger(t))
	out, err := c.TranslateText(context.Background(), TranslateRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "de",
		SessionContext: "CONTEXT: Personal: Anna: lives in Berlin",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"translation": "hallo"}`, out)

	assert.Equal(t, "/generate", gotPath)
	assert.Contains(t, gotPrompt, "hello")
	assert.Contains(t, gotPrompt, "lives in Berlin")
	assert.Contains(t, gotPrompt, "en")
}

func TestExpertResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "expert answer"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, zaptest.NewLogger(t))
	out, err := c.ExpertResponse(context.Background(), ExpertRequest{
		Query:         "what time is it",
		AudioLanguage: "en",
		OtherLanguage: "de",
	})
	require.NoError(t, err)
	assert.Equal(t, "expert answer", out)
}

func TestGenerateErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, zaptest.NewLogger(t))
	_, err := c.TranslateText(context.Background(), TranslateRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestGenerateReportedError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "", "error": "model crashed"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, zaptest.NewLogger(t))
	_, err := c.TranslateText(context.Background(), TranslateRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestGenerateRawBodyPassthrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain model text, not an envelope"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, zaptest.NewLogger(t))
	out, err := c.TranslateText(context.Background(), TranslateRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "plain model text, not an envelope", out)
}
