// Package ssml repairs and enriches speech-synthesis markup. The model
// is asked to emit SSML with expression tags, but what comes back is
// frequently malformed: unclosed tags, double-slash self-closers,
// unquoted attributes, leaked speak/voice wrappers. TTS providers
// reject such documents outright, so everything is normalized here.
package ssml

import (
	"regexp"
	"strings"
)

var (
	speakTagRe    = regexp.MustCompile(`</?speak[^>]*>`)
	voiceTagRe    = regexp.MustCompile(`</?voice[^>]*>`)
	doubleSlashRe = regexp.MustCompile(`<(break|pause)([^>]*?)//>`)
	bareAttrRe    = regexp.MustCompile(`<(\w+)\s+(\w+)=([^"\s>]+)`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	entityRe      = regexp.MustCompile(`&(amp|lt|gt|quot|apos|#[0-9]+|#x[0-9a-fA-F]+);`)

	prosodyOpenRe  = regexp.MustCompile(`<prosody[^>]*>`)
	emphasisOpenRe = regexp.MustCompile(`<emphasis[^>]*>`)
	expressOpenRe  = regexp.MustCompile(`<mstts:express-as[^>]*>`)
)

// nonverbal maps bracketed expression markers to SSML fragments.
var nonverbal = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\[laughter\]`), `<mstts:express-as style="cheerful">[laughter]</mstts:express-as>`},
	{regexp.MustCompile(`(?i)\[sigh\]`), `<mstts:express-as style="sad">[sigh]</mstts:express-as>`},
	{regexp.MustCompile(`(?i)\[crying\]`), `<mstts:express-as style="sad">[crying]</mstts:express-as>`},
	{regexp.MustCompile(`(?i)\[cough\]`), `<break time="500ms"/>`},
	{regexp.MustCompile(`(?i)\[pause\]`), `<break time="1s"/>`},
	{regexp.MustCompile(`(?i)\[whisper\](.+?)\[/whisper\]`), `<prosody volume="x-soft">$1</prosody>`},
	{regexp.MustCompile(`(?i)\[shouting\](.+?)\[/shouting\]`), `<prosody volume="x-loud" pitch="high">$1</prosody>`},
}

// Fix normalizes model-emitted SSML into a document a TTS provider will
// accept. Empty input passes through unchanged.
func Fix(text string) string {
	if text == "" {
		return text
	}

	// Strip wrapper tags the synthesizer adds itself.
	text = speakTagRe.ReplaceAllString(text, "")
	text = voiceTagRe.ReplaceAllString(text, "")

	// <break .../ /> style double-slash self-closers.
	text = doubleSlashRe.ReplaceAllString(text, `<$1$2/>`)

	// Unquoted attribute values.
	text = bareAttrRe.ReplaceAllString(text, `<$1 $2="$3"`)

	text = escapeAmpersands(text)

	// Bracketed non-verbal expressions.
	for _, nv := range nonverbal {
		text = nv.re.ReplaceAllString(text, nv.replacement)
	}

	// Balance the tags the model habitually leaves open.
	text = closeUnbalanced(text, prosodyOpenRe, "</prosody>")
	text = closeUnbalanced(text, emphasisOpenRe, "</emphasis>")
	text = closeUnbalanced(text, expressOpenRe, "</mstts:express-as>")

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// escapeAmpersands escapes bare & characters without double-escaping
// entities that are already well formed.
func escapeAmpersands(text string) string {
	text = entityRe.ReplaceAllString(text, "\x00$1;")
	text = strings.ReplaceAll(text, "&", "&amp;")
	return strings.ReplaceAll(text, "\x00", "&")
}

func closeUnbalanced(text string, openRe *regexp.Regexp, closing string) string {
	open := len(openRe.FindAllString(text, -1))
	closed := strings.Count(text, closing)
	if open > closed {
		text += strings.Repeat(closing, open-closed)
	}
	return text
}

// toneProsody maps tones to prosody adjustments for Wrap.
var toneProsody = map[string]string{
	"excited": `rate="fast" pitch="high"`,
	"sad":     `rate="slow" pitch="low"`,
	"calm":    `rate="slow"`,
	"angry":   `rate="fast" volume="loud"`,
}

// Wrap produces a complete speak document for plain translated text,
// applying a prosody envelope for the detected tone.
func Wrap(text, tone, languageCode string) string {
	body := Fix(text)
	if attrs, ok := toneProsody[strings.ToLower(tone)]; ok {
		body = "<prosody " + attrs + ">" + body + "</prosody>"
	}
	return `<speak version="1.0" xml:lang="` + languageCode + `">` + body + `</speak>`
}
