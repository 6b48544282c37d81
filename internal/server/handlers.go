package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/conversational-translator/internal/ai"
	"github.com/conversational-translator/internal/cache"
	"github.com/conversational-translator/internal/jsonx"
	"github.com/conversational-translator/internal/records"
	"github.com/conversational-translator/internal/session"
	"github.com/conversational-translator/internal/ssml"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := jsonx.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// --- session lifecycle ---

type createSessionRequest struct {
	MainLanguage  string `json:"main_language"`
	OtherLanguage string `json:"other_language"`
	IsPremium     bool   `json:"is_premium"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MainLanguage == "" || req.OtherLanguage == "" {
		writeError(w, http.StatusBadRequest, "main_language and other_language are required")
		return
	}

	id := s.registry.Create(req.MainLanguage, req.OtherLanguage, req.IsPremium)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":     id,
		"main_language":  req.MainLanguage,
		"other_language": req.OtherLanguage,
		"is_premium":     req.IsPremium,
	})
}

type addMessageRequest struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Type     string `json:"type"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req addMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	typ := session.MessageType(req.Type)
	if typ == "" {
		typ = session.MessageTranscription
	}

	msg, err := s.registry.AddMessage(id, req.Speaker, req.Text, req.Language, typ)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := s.registry.GetContext(id, 0, 0)
	if !ctx.Exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	path, err := s.registry.End(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session export failed, session retained")
		return
	}
	if s.ctxCache != nil {
		s.ctxCache.Invalidate(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":  id,
		"export_path": path,
	})
}

// --- translate pipeline ---

type translateRequest struct {
	SessionID      string `json:"session_id"`
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Speaker        string `json:"speaker"`
}

func (s *Server) handleTranslateText(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	tm := s.tracker.Start()

	snapshot := s.registry.GetContext(req.SessionID, 0, 0)
	source, target := req.SourceLanguage, req.TargetLanguage
	if snapshot.Exists && len(snapshot.Info.Languages) == 2 {
		if source == "" {
			source = snapshot.Info.Languages[0]
		}
		if target == "" {
			target = snapshot.Info.Languages[1]
		}
	}

	direct := ai.IsDirectQuery(req.Text)
	sessionContext := s.buildContext(r, req.SessionID, req.Text, snapshot, direct)

	tm.MarkModelStart()
	var raw string
	var err error
	if direct {
		raw, err = s.provider.ExpertResponse(r.Context(), ai.ExpertRequest{
			Query:          req.Text,
			AudioLanguage:  source,
			OtherLanguage:  target,
			SessionContext: sessionContext,
		})
	} else {
		raw, err = s.provider.TranslateText(r.Context(), ai.TranslateRequest{
			Text:           req.Text,
			SourceLanguage: source,
			TargetLanguage: target,
			SessionContext: sessionContext,
			IsPremium:      snapshot.Info.IsPremium,
		})
	}
	tm.MarkModelEnd()

	if err != nil {
		s.tracker.Log(tm, req.SessionID, source, target, direct, true)
		s.logger.Error("model call failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "model service unavailable")
		return
	}

	tm.MarkParsingStart()
	resp := s.parser.Parse(raw, source, target)
	tm.MarkParsingEnd()

	resp.TranslationWithGestures = ssml.Fix(resp.TranslationWithGestures)
	resp.AIResponse.AnswerWithGestures = ssml.Fix(resp.AIResponse.AnswerWithGestures)
	if resp.TranslationWithGestures == "" && resp.Translation != "" {
		resp.TranslationWithGestures = ssml.Wrap(resp.Translation, resp.Tone, target)
	}

	if snapshot.Exists && !resp.ParseFailed {
		speaker := req.Speaker
		if speaker == "" {
			speaker = "user"
		}
		if resp.Transcription != "" {
			s.registry.AddMessage(req.SessionID, speaker, resp.Transcription, source, session.MessageTranscription)
		}
		if resp.Translation != "" {
			s.registry.AddMessage(req.SessionID, speaker, resp.Translation, target, session.MessageTranslation)
		}
		if resp.AIResponse.AnswerInAudioLanguage != "" {
			s.registry.AddMessage(req.SessionID, "assistant", resp.AIResponse.AnswerInAudioLanguage, source, session.MessageAIResponse)
		}

		// Fact reconciliation runs off the request path; insights from a
		// synchronous apply would only delay the reply.
		if len(resp.FactOps) > 0 {
			ops := resp.FactOps
			go func() {
				if _, err := s.registry.ApplyFactOps(req.SessionID, ops); err != nil &&
					!errors.Is(err, session.ErrSessionNotFound) {
					s.logger.Warn("fact reconciliation failed",
						zap.String("session_id", req.SessionID), zap.Error(err))
				}
			}()
		}
	}

	rec := s.tracker.Log(tm, req.SessionID, source, target, direct || resp.IsDirectQuery, resp.ParseFailed)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":      req.SessionID,
		"response":        resp,
		"fact_operations": len(resp.FactOps),
		"latency_ms":      rec.TotalMs,
	})
}

// buildContext assembles the prompt context block, caching the
// non-query-dependent variants by session id and message count.
func (s *Server) buildContext(r *http.Request, sessionID, text string, snapshot session.Context, direct bool) string {
	if !snapshot.Exists {
		return ""
	}
	if direct {
		// Assistant context depends on the query text; not cacheable.
		return s.registry.AssistantContext(sessionID, text)
	}

	key := cache.Key(sessionID, snapshot.Info.MessageCount)
	if s.ctxCache != nil {
		if cached, ok := s.ctxCache.Get(r.Context(), key); ok {
			return cached
		}
	}

	var out string
	if snapshot.Info.IsPremium {
		out = s.registry.FormatForLLM(sessionID, "")
	} else {
		out = s.registry.TranslationContext(sessionID, text)
	}
	if s.ctxCache != nil && out != "" {
		s.ctxCache.Set(r.Context(), key, out)
	}
	return out
}

func (s *Server) handleOptimizedContext(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	query := r.URL.Query().Get("query")

	ctx := s.registry.GetContext(id, 0, 0)
	if !ctx.Exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"context":    s.registry.FormatForLLM(id, query),
		"facts":      ctx.Info.FactsCount,
		"messages":   ctx.Info.MessageCount,
	})
}

// --- conversation records ---

type syncConversationRequest struct {
	Conversation []records.Item   `json:"conversation"`
	Summary      *records.Summary `json:"summary"`
}

func (s *Server) handleSyncConversation(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation storage not configured")
		return
	}
	id := mux.Vars(r)["id"]
	var req syncConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.records.Save(r.Context(), id, req.Conversation, req.Summary); err != nil {
		s.logger.Error("conversation sync failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"synced":     len(req.Conversation),
	})
}

func (s *Server) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation storage not configured")
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := s.records.Load(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation storage not configured")
		return
	}
	id := mux.Vars(r)["id"]
	err := s.records.Delete(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

// --- ops ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"active_sessions": s.registry.ActiveSessionCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"sessions": s.registry.Stats(),
		"uptime":   strings.TrimSpace(time.Since(s.startedAt).Round(time.Second).String()),
	}
	if s.ctxCache != nil {
		stats["context_cache"] = s.ctxCache.Stats()
	}
	if s.tracker != nil {
		stats["recent_latency"] = s.tracker.Recent(20)
	}
	writeJSON(w, http.StatusOK, stats)
}
