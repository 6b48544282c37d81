package ai

import (
	"regexp"
	"strings"
)

// Cheap pre-model heuristics for routing: a turn that addresses the
// assistant directly goes down the expert path instead of the
// translation path. The model's own is_direct_query flag remains the
// final word; this only picks the prompt.

var assistantKeywords = []string{
	"hey assistant",
	"hi assistant",
	"ok assistant",
	"assistant,",
	"can you tell me",
	"can you explain",
	"what do you think",
	"help me with",
	"i have a question",
}

var questionWords = []string{
	"what", "when", "where", "which", "who", "whom", "whose",
	"why", "how", "is", "are", "can", "could", "should", "would",
	"do", "does", "did",
}

var wordRe = regexp.MustCompile(`[a-zA-Z']+`)

// IsDirectQuery reports whether the text looks like it addresses the
// assistant rather than the conversation partner.
func IsDirectQuery(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}

	for _, kw := range assistantKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	// A question mark plus an opening question word is a strong signal,
	// but only when nobody else is being addressed by name.
	if strings.Contains(lower, "?") {
		words := wordRe.FindAllString(lower, 2)
		if len(words) > 0 {
			for _, qw := range questionWords {
				if words[0] == qw {
					return true
				}
			}
		}
	}
	return false
}

// QueryTerms extracts the content words used for fact search when an
// assistant answer needs grounding.
func QueryTerms(text string) []string {
	stop := map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "are": true,
		"was": true, "were": true, "do": true, "does": true, "did": true,
		"can": true, "could": true, "you": true, "me": true, "my": true,
		"i": true, "what": true, "when": true, "where": true, "who": true,
		"why": true, "how": true, "tell": true, "about": true,
	}
	var terms []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) > 2 && !stop[w] {
			terms = append(terms, w)
		}
	}
	return terms
}
