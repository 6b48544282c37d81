package session

import "time"

// MessageType tags what stage of the translation pipeline produced a message.
type MessageType string

const (
	MessageTranscription        MessageType = "transcription"
	MessageTranslation          MessageType = "translation"
	MessageAIResponse           MessageType = "ai_response"
	MessageAIResponseTranslated MessageType = "ai_response_translated"
)

// Message is one conversational turn. Messages are immutable once
// appended; Index is monotonic within a session.
type Message struct {
	Index     int         `json:"id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	Language  string      `json:"language"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// truncate shortens text to at most n runes for compact context lines.
func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
