package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valyala/bytebufferpool"
)

const (
	// translationRecentMessages is how many trailing messages the
	// translation context quotes.
	translationRecentMessages = 2
	// translationMessageRunes truncates quoted messages.
	translationMessageRunes = 100
	// maxContextSections caps the translation context at four sections.
	maxContextSections = 4
	// maxPersonalFacts caps the combined personal/relationship section.
	maxPersonalFacts = 3
	// maxCategoryFacts caps every other per-category section.
	maxCategoryFacts = 2
	// assistantFallbackFacts is how many recent facts back an assistant
	// query when term search finds nothing.
	assistantFallbackFacts = 5
	// formatted facts per category in grouped renderings.
	maxGroupedFacts = 3
	// llmRecentMessages is how many trailing messages the rich LLM
	// context includes.
	llmRecentMessages = 6
	// llmFactsPerCategory caps the facts-by-category breakdown.
	llmFactsPerCategory = 4
	// llmFactsPerSpeaker caps each speaker profile.
	llmFactsPerSpeaker = 3
)

// snapshot copies a session's messages and facts out under the lock so
// context strings can be assembled without holding it.
func (r *Registry) snapshot(id string) (msgs []Message, facts []*Fact, info Info, ok bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, nil, Info{}, false
	}
	msgs = make([]Message, len(s.messages))
	copy(msgs, s.messages)
	facts = s.factsLocked()
	return msgs, facts, s.info(now), true
}

// TranslationContext composes the compact context embedded in
// translation prompts: the last two turns plus prioritized facts,
// capped at four sections. Returns "" for unknown or empty sessions.
func (r *Registry) TranslationContext(id, textToTranslate string) string {
	msgs, facts, _, ok := r.snapshot(id)
	if !ok {
		return ""
	}

	var sections []string

	if len(msgs) > 0 {
		start := len(msgs) - translationRecentMessages
		if start < 0 {
			start = 0
		}
		var quoted []string
		for _, m := range msgs[start:] {
			quoted = append(quoted, fmt.Sprintf("%s: %s", m.Speaker, truncate(m.Text, translationMessageRunes)))
		}
		sections = append(sections, "Recent: "+strings.Join(quoted, " | "))
	}

	groups := groupByCategory(facts)

	// Personal and relationship facts lead; they resolve names and
	// pronouns, which is what translation context is for.
	personal := append(append([]*Fact{}, groups[CategoryPersonal]...), groups[CategoryRelationship]...)
	if len(personal) > 0 {
		sections = append(sections, "Personal: "+renderFacts(personal, maxPersonalFacts))
	}

	for _, cat := range []FactCategory{CategoryLocation, CategoryEvent, CategoryPreference, CategoryOther} {
		if len(groups[cat]) == 0 {
			continue
		}
		sections = append(sections, sectionTitle(cat)+": "+renderFacts(groups[cat], maxCategoryFacts))
	}

	if len(sections) == 0 {
		return ""
	}
	if len(sections) > maxContextSections {
		sections = sections[:maxContextSections]
	}
	return "CONTEXT: " + strings.Join(sections, " • ") +
		"\nINSTRUCTION: Use this context to resolve pronouns, clarify references, and maintain conversational flow."
}

// AssistantContext composes fact-centric context for direct assistant
// queries: facts matching the query terms, falling back to the five
// most recently updated facts when nothing matches.
func (r *Registry) AssistantContext(id, query string) string {
	terms := strings.Fields(strings.ToLower(query))
	relevant := r.SearchFacts(id, terms)
	if len(relevant) > assistantFallbackFacts {
		relevant = relevant[:assistantFallbackFacts]
	}
	if len(relevant) > 0 {
		return formatGroupedFacts(relevant, "RELEVANT FACTS")
	}

	all := r.Facts(id)
	if len(all) == 0 {
		return ""
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastUpdated.After(all[j].LastUpdated)
	})
	if len(all) > assistantFallbackFacts {
		all = all[:assistantFallbackFacts]
	}
	return formatGroupedFacts(all, "RECENT CONVERSATION FACTS")
}

// FormatForLLM renders the full session picture for premium prompt
// augmentation: overview, facts by category, speaker profiles and the
// recent turns, with explicit usage instructions for the model.
func (r *Registry) FormatForLLM(id, currentQuery string) string {
	ctx := r.GetContext(id, 0, 0)
	if !ctx.Exists {
		return "No session context available. This is a new conversation."
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	line := func(format string, args ...interface{}) {
		fmt.Fprintf(buf, format, args...)
		buf.WriteByte('\n')
	}

	line("CONTEXT USAGE INSTRUCTIONS:")
	line("- Use names and relationships below for speaker identification")
	line("- Apply facts for pronoun resolution and context understanding")
	line("- Reference conversation history for continuity and accuracy")
	line("- Cross-check new information against existing facts")
	line("")

	line("SESSION OVERVIEW:")
	line("   Duration: %.1f minutes", ctx.Info.DurationMinutes)
	line("   Total Messages: %d, Known Facts: %d", ctx.Info.MessageCount, ctx.Info.FactsCount)
	line("   Languages: %s", strings.Join(ctx.Info.Languages, " <-> "))
	line("")

	facts := make([]*Fact, 0, len(ctx.Facts))
	for _, f := range ctx.Facts {
		facts = append(facts, f)
	}

	if len(facts) > 0 {
		groups := groupByCategory(facts)
		line("KNOWN FACTS:")
		for _, cat := range categoryOrder {
			group := groups[cat]
			if len(group) == 0 {
				continue
			}
			line("   %s:", strings.ToUpper(string(cat)))
			for i, f := range group {
				if i >= llmFactsPerCategory {
					break
				}
				line("      - %s (confidence: %.1f)", f.render(), f.Confidence)
			}
		}
		line("")
	}

	profiles := speakerProfiles(facts)
	if len(profiles) > 0 {
		line("KNOWN SPEAKERS:")
		for _, p := range profiles {
			var parts []string
			for i, f := range p.facts {
				if i >= llmFactsPerSpeaker {
					break
				}
				parts = append(parts, f.FactText)
			}
			line("   - %s: %s", p.person, strings.Join(parts, " | "))
		}
		line("")
	}

	if len(ctx.Messages) > 0 {
		line("RECENT CONVERSATION:")
		line("   (Use this to understand references, pronouns, and conversational flow)")
		msgs := ctx.Messages
		if len(msgs) > llmRecentMessages {
			msgs = msgs[len(msgs)-llmRecentMessages:]
		}
		for _, m := range msgs {
			line("   [%s] %s: %s", m.Type, m.Speaker, truncate(m.Text, 120))
		}
		line("")
	}

	if currentQuery != "" {
		line("CURRENT INPUT:")
		line("   %s", truncate(currentQuery, 200))
		line("   Use the above context to process this input accurately.")
	}

	return strings.TrimRight(buf.String(), "\n")
}

// groupByCategory buckets facts preserving slice order within buckets.
func groupByCategory(facts []*Fact) map[FactCategory][]*Fact {
	groups := make(map[FactCategory][]*Fact)
	for _, f := range facts {
		groups[f.Category] = append(groups[f.Category], f)
	}
	return groups
}

// renderFacts joins up to max rendered facts with " | ".
func renderFacts(facts []*Fact, max int) string {
	var parts []string
	for i, f := range facts {
		if i >= max {
			break
		}
		parts = append(parts, f.render())
	}
	return strings.Join(parts, " | ")
}

func sectionTitle(cat FactCategory) string {
	s := string(cat)
	if s == "" {
		return "Other"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatGroupedFacts renders facts grouped by category under one label,
// capped per category.
func formatGroupedFacts(facts []*Fact, label string) string {
	groups := groupByCategory(facts)

	var sections []string
	for _, cat := range categoryOrder {
		group := groups[cat]
		if len(group) == 0 {
			continue
		}
		var parts []string
		for i, f := range group {
			if i >= maxGroupedFacts {
				break
			}
			if f.Person != "" && f.Person != "unknown" {
				parts = append(parts, fmt.Sprintf("%s (mentioned by %s)", f.FactText, f.Person))
			} else {
				parts = append(parts, f.FactText)
			}
		}
		sections = append(sections, sectionTitle(cat)+": "+strings.Join(parts, " | "))
	}

	if len(sections) == 0 {
		return ""
	}
	return label + ": " + strings.Join(sections, " • ")
}

type profile struct {
	person string
	facts  []*Fact
}

// speakerProfiles groups attributed facts by person, skipping unknown
// attribution, ordered by person name for stable output.
func speakerProfiles(facts []*Fact) []profile {
	byPerson := make(map[string][]*Fact)
	for _, f := range facts {
		if f.Person == "" || f.Person == "unknown" {
			continue
		}
		byPerson[f.Person] = append(byPerson[f.Person], f)
	}

	people := make([]string, 0, len(byPerson))
	for p := range byPerson {
		people = append(people, p)
	}
	sort.Strings(people)

	profiles := make([]profile, 0, len(people))
	for _, p := range people {
		profiles = append(profiles, profile{person: p, facts: byPerson[p]})
	}
	return profiles
}
