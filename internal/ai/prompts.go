package ai

import "strings"

// The model is instructed to answer with a single JSON object matching
// the envelope the parser validates. Keeping the schema in the prompt
// and the parser in lockstep is what makes the pipeline hold together.
const translationPromptTemplate = `You are a real-time conversation translator and memory assistant.

{session_context}

TASK: Translate the input below from {source_language} to {target_language}.
Preserve tone, register and intent. Use the session context to resolve
pronouns, names and running topics.

Also maintain the session's memory: review the KNOWN FACTS against the
input and emit fact operations (NEW, ENDORSE, CORRECT, DEDUPLICATE,
DELETE) under fact_management.fact_operations. Only state facts the
speaker actually expressed.

Respond with ONLY a single JSON object, no markdown fences:
{
  "audio_language": "{source_language}",
  "transcription": "<the input text>",
  "translation_language": "{target_language}",
  "translation": "<translated text>",
  "tone": "<neutral|excited|sad|calm|angry>",
  "Translation_with_gestures": "<translation with SSML expression tags>",
  "is_direct_query": <true if the speaker is addressing the assistant>,
  "speaker_analysis": {
    "gender": "<MALE|FEMALE|NEUTRAL>",
    "language": "{source_language}",
    "estimated_age_range": "<child|teen|adult|senior>",
    "is_known_speaker": <bool>,
    "speaker_identity": "<name if known>",
    "confidence": <0.0-1.0>
  },
  "ai_response": {
    "answer_in_audio_language": "",
    "answer_translated": "",
    "answer_with_gestures": "",
    "confidence": 0,
    "expertise_area": "general"
  },
  "fact_management": {
    "fact_operations": [
      {
        "operation": "<NEW|ENDORSE|CORRECT|DEDUPLICATE|DELETE>",
        "target_fact_id": "<existing fact id, if any>",
        "new_fact": {
          "category": "<personal|relationship|preference|event|location|other>",
          "person": "<who the fact is about>",
          "fact_text": "<the fact>",
          "confidence": <0.0-1.0>
        },
        "endorsement_boost": <0.0-1.0>,
        "correction_details": "<why, for CORRECT>"
      }
    ]
  },
  "script_verification": "VERIFIED"
}

INPUT ({source_language}): {input_text}`

const expertPromptTemplate = `You are a knowledgeable assistant embedded in a live translated conversation.

{session_context}

The user has asked you a direct question. Answer it helpfully and
concisely, grounded in the session context where relevant.

Respond with ONLY a single JSON object, no markdown fences:
{
  "audio_language": "{audio_language}",
  "transcription": "{input_text}",
  "translation_language": "{other_language}",
  "translation": "",
  "tone": "neutral",
  "is_direct_query": true,
  "ai_response": {
    "answer_in_audio_language": "<answer in {audio_language}>",
    "answer_translated": "<answer in {other_language}>",
    "answer_with_gestures": "<answer with SSML expression tags>",
    "confidence": <0.0-1.0>,
    "expertise_area": "<topic area>"
  },
  "fact_management": {"fact_operations": []},
  "script_verification": "VERIFIED"
}

QUESTION ({audio_language}): {input_text}`

func buildTranslationPrompt(req TranslateRequest) string {
	r := strings.NewReplacer(
		"{session_context}", req.SessionContext,
		"{source_language}", req.SourceLanguage,
		"{target_language}", req.TargetLanguage,
		"{input_text}", req.Text,
	)
	return r.Replace(translationPromptTemplate)
}

func buildExpertPrompt(req ExpertRequest) string {
	r := strings.NewReplacer(
		"{session_context}", req.SessionContext,
		"{audio_language}", req.AudioLanguage,
		"{other_language}", req.OtherLanguage,
		"{input_text}", req.Query,
	)
	return r.Replace(expertPromptTemplate)
}
