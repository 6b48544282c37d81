// Package ai talks to the external model service that handles
// transcription, translation and expert answers. Everything here
// returns raw model text; repairing and typing that text is the
// parser's job.
package ai

import "context"

// TranslateRequest carries one text-translation turn to the model.
type TranslateRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	SessionContext string
	IsPremium      bool
}

// ExpertRequest carries a direct assistant query to the model.
type ExpertRequest struct {
	Query          string
	AudioLanguage  string
	OtherLanguage  string
	SessionContext string
}

// Provider is the model service surface the handlers depend on. The
// single production implementation is the HTTP client; tests substitute
// canned responses.
type Provider interface {
	TranslateText(ctx context.Context, req TranslateRequest) (string, error)
	ExpertResponse(ctx context.Context, req ExpertRequest) (string, error)
}
