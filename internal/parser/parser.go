// Package parser repairs and validates the JSON envelope returned by
// the model service before anything downstream touches it. Model output
// is untrustworthy: keys go missing, booleans arrive as strings, JSON
// arrives truncated or fenced in markdown. Everything is coerced into a
// typed Response here so the session engine never sees a loose map.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conversational-translator/internal/jsonx"
	"github.com/conversational-translator/internal/session"
)

// defaultNewFactConfidence is assigned to NEW operations whose payload
// omits a confidence value.
const defaultNewFactConfidence = 0.7

// SpeakerAnalysis is the model's guess at who is talking.
type SpeakerAnalysis struct {
	Gender          string  `json:"gender"`
	Language        string  `json:"language"`
	AgeRange        string  `json:"estimated_age_range"`
	IsKnownSpeaker  bool    `json:"is_known_speaker"`
	SpeakerIdentity string  `json:"speaker_identity,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// AIAnswer is the expert-assistant portion of the envelope.
type AIAnswer struct {
	AnswerInAudioLanguage string  `json:"answer_in_audio_language"`
	AnswerTranslated      string  `json:"answer_translated"`
	AnswerWithGestures    string  `json:"answer_with_gestures"`
	Confidence            float64 `json:"confidence"`
	ExpertiseArea         string  `json:"expertise_area"`
}

// Response is the validated, typed model envelope.
type Response struct {
	Timestamp               time.Time        `json:"timestamp"`
	AudioLanguage           string           `json:"audio_language"`
	Transcription           string           `json:"transcription"`
	TranslationLanguage     string           `json:"translation_language"`
	Translation             string           `json:"translation"`
	Tone                    string           `json:"tone"`
	TranslationWithGestures string           `json:"translation_with_gestures"`
	IsDirectQuery           bool             `json:"is_direct_query"`
	Speaker                 SpeakerAnalysis  `json:"speaker_analysis"`
	AIResponse              AIAnswer         `json:"ai_response"`
	FactOps                 []session.FactOp `json:"-"`
	ScriptVerification      string           `json:"script_verification"`

	// ParseFailed marks a fallback envelope built from unparseable
	// output; the raw text is preserved in Transcription.
	ParseFailed bool   `json:"parse_failed,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Parser validates model envelopes.
type Parser struct {
	logger *zap.Logger
}

// New creates a Parser.
func New(logger *zap.Logger) *Parser {
	return &Parser{logger: logger.Named("parser")}
}

var (
	fenceRe       = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	bareKeyRe     = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Parse turns raw model output into a validated Response. It never
// fails: unparseable output yields a fallback envelope with
// ParseFailed set, so the caller can still answer the client.
func (p *Parser) Parse(raw, mainLanguage, otherLanguage string) *Response {
	obj, err := p.repair(raw)
	if err != nil {
		p.logger.Error("unparseable model response, using fallback",
			zap.Int("raw_len", len(raw)), zap.Error(err))
		return fallback(raw, mainLanguage, otherLanguage)
	}
	return p.validate(obj, mainLanguage, otherLanguage)
}

// repair parses raw JSON, applying heuristic fixes when the first
// attempt fails: markdown fences, unquoted keys, trailing commas and
// unbalanced braces are the classic failure modes.
func (p *Parser) repair(raw string) (map[string]interface{}, error) {
	if obj, err := decodeObject(raw); err == nil {
		return obj, nil
	}

	fixed := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(fixed); m != nil {
		fixed = m[1]
	}
	fixed = bareKeyRe.ReplaceAllString(fixed, `$1"$2":`)
	fixed = trailingComma.ReplaceAllString(fixed, `$1`)

	// Close whatever the model left open.
	if n := strings.Count(fixed, "[") - strings.Count(fixed, "]"); n > 0 {
		fixed += strings.Repeat("]", n)
	}
	if n := strings.Count(fixed, "{") - strings.Count(fixed, "}"); n > 0 {
		fixed += strings.Repeat("}", n)
	}

	obj, err := decodeObject(fixed)
	if err != nil {
		return nil, err
	}
	p.logger.Warn("repaired malformed model response")
	return obj, nil
}

// decodeObject unmarshals a JSON object, unwrapping a single-element
// top-level array if that is what the model produced.
func decodeObject(raw string) (map[string]interface{}, error) {
	var v interface{}
	if err := jsonx.UnmarshalFromString(raw, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	case []interface{}:
		if len(t) > 0 {
			if obj, ok := t[0].(map[string]interface{}); ok {
				return obj, nil
			}
		}
		return nil, fmt.Errorf("top-level array holds no object")
	default:
		return nil, fmt.Errorf("unexpected top-level JSON type %T", v)
	}
}

// validate coerces the loose envelope into a typed Response, filling
// defaults for missing fields and clamping out-of-range values.
func (p *Parser) validate(obj map[string]interface{}, mainLanguage, otherLanguage string) *Response {
	resp := &Response{
		// The local clock is more reliable than whatever the model put
		// in its timestamp field.
		Timestamp:               time.Now().UTC(),
		AudioLanguage:           str(obj, "audio_language", mainLanguage),
		Transcription:           strings.TrimSpace(str(obj, "transcription", "")),
		TranslationLanguage:     str(obj, "translation_language", otherLanguage),
		Translation:             strings.TrimSpace(str(obj, "translation", "")),
		Tone:                    strings.TrimSpace(str(obj, "tone", "neutral")),
		TranslationWithGestures: str(obj, "Translation_with_gestures", ""),
		IsDirectQuery:           boolean(obj["is_direct_query"]),
		ScriptVerification:      str(obj, "script_verification", "PENDING"),
	}

	if sa, ok := obj["speaker_analysis"].(map[string]interface{}); ok {
		resp.Speaker = SpeakerAnalysis{
			Gender:          normalizeGender(str(sa, "gender", "NEUTRAL")),
			Language:        str(sa, "language", resp.AudioLanguage),
			AgeRange:        str(sa, "estimated_age_range", "adult"),
			IsKnownSpeaker:  boolean(sa["is_known_speaker"]),
			SpeakerIdentity: str(sa, "speaker_identity", ""),
			Confidence:      confidence(sa["confidence"], 0),
		}
	} else {
		resp.Speaker = SpeakerAnalysis{Gender: "NEUTRAL", Language: resp.AudioLanguage, AgeRange: "adult"}
	}

	if ar, ok := obj["ai_response"].(map[string]interface{}); ok {
		resp.AIResponse = AIAnswer{
			AnswerInAudioLanguage: str(ar, "answer_in_audio_language", ""),
			AnswerTranslated:      str(ar, "answer_translated", ""),
			AnswerWithGestures:    str(ar, "answer_with_gestures", ""),
			Confidence:            confidence(ar["confidence"], 0),
			ExpertiseArea:         str(ar, "expertise_area", "general"),
		}
	} else {
		resp.AIResponse = AIAnswer{ExpertiseArea: "general"}
	}

	if fm, ok := obj["fact_management"].(map[string]interface{}); ok {
		resp.FactOps = p.decodeFactOps(fm["fact_operations"])
	}

	return resp
}

// decodeFactOps turns the loose fact_operations array into the typed
// operation union, dropping variants that fail validation. Rejection
// happens here, at the boundary, not inside the reconciliation engine.
func (p *Parser) decodeFactOps(v interface{}) []session.FactOp {
	raw, ok := v.([]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}

	ops := make([]session.FactOp, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			p.logger.Warn("dropping non-object fact operation", zap.Int("index", i))
			continue
		}

		op := session.FactOp{
			Kind:     session.OpKind(strings.ToUpper(str(m, "operation", "NEW"))),
			TargetID: str(m, "target_fact_id", ""),
			Boost:    confidence(m["endorsement_boost"], 0),
			Reason:   firstNonEmpty(str(m, "correction_details", ""), str(m, "reason", "")),
		}
		if nf, ok := m["new_fact"].(map[string]interface{}); ok {
			op.Fact = &session.FactPayload{
				Category:   session.NormalizeCategory(str(nf, "category", "")),
				Person:     str(nf, "person", ""),
				FactText:   strings.TrimSpace(str(nf, "fact_text", "")),
				Confidence: confidence(nf["confidence"], defaultNewFactConfidence),
			}
		}

		if err := op.Validate(); err != nil {
			p.logger.Warn("dropping malformed fact operation",
				zap.Int("index", i),
				zap.String("kind", string(op.Kind)),
				zap.Error(err))
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

// fallback builds the envelope used when nothing could be parsed.
func fallback(raw, mainLanguage, otherLanguage string) *Response {
	return &Response{
		Timestamp:           time.Now().UTC(),
		AudioLanguage:       mainLanguage,
		Transcription:       truncateRaw(raw, 200),
		TranslationLanguage: otherLanguage,
		Translation:         "Error: Could not parse model response",
		Tone:                "neutral",
		Speaker:             SpeakerAnalysis{Gender: "NEUTRAL", Language: mainLanguage, AgeRange: "adult"},
		AIResponse:          AIAnswer{ExpertiseArea: "general"},
		ScriptVerification:  "ERROR - JSON parsing failed",
		ParseFailed:         true,
		ErrorDetail:         "JSON parsing failed completely. Raw response included in transcription.",
	}
}

// Coercion helpers. The model emits strings where numbers and booleans
// belong often enough that every scalar read goes through these.

func str(m map[string]interface{}, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func boolean(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

func confidence(v interface{}, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return clamp01(t)
	case int64:
		return clamp01(float64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return def
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return clamp01(f)
		}
	case nil:
		return def
	}
	return def
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func normalizeGender(g string) string {
	switch strings.ToUpper(strings.TrimSpace(g)) {
	case "MALE":
		return "MALE"
	case "FEMALE":
		return "FEMALE"
	default:
		return "NEUTRAL"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRaw(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
