// Package text cleans book text before it is sent for synthesis.
//
// The model reads characters literally, so footnote markers, layout whitespace and
// typographic punctuation become audible noise. Normalizer removes them without
// touching the words themselves, which keeps it safe for Korean and English alike.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for text cleanup.
const (
	urlRegexPattern        = `https?://\S+`
	referenceRegexPattern  = `\[\d+(?:[,-]\s*\d+)*\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `\s+`
	spaceBeforePunctuation = `\s+([.,!?;:])`
)

const (
	urlPlaceholder = "\x00"
	ellipsis       = "..."
)

// sentenceEnders are accepted as the final character of a chunk.
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
}

// closingMarks end a quotation or aside and are kept before the added period.
var closingMarks = map[rune]bool{'"': true, '\'': true, ')': true, ']': true}

// Normalizer applies the cleanup pipeline. It is safe for concurrent use.
type Normalizer struct {
	urlPattern        *regexp.Regexp
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
	spacePunctPattern *regexp.Regexp
	punctuation       *strings.Replacer
}

// NewNormalizer compiles the cleanup patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		spacePunctPattern: regexp.MustCompile(spaceBeforePunctuation),
		punctuation: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			"「", `"`, "」", `"`,
		),
	}
}

// Normalize returns text with references removed, whitespace collapsed,
// punctuation simplified, and a sentence ending guaranteed. URLs are kept intact.
// Empty or blank input yields "".
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var urls []string

	text = n.urlPattern.ReplaceAllStringFunc(text, func(match string) string {
		urls = append(urls, match)

		return urlPlaceholder
	})

	text = n.referencePattern.ReplaceAllString(text, "")
	text = n.punctuation.Replace(text)
	text = collapseRepeatedPunctuation(text)
	text = n.whitespacePattern.ReplaceAllString(text, " ")
	text = n.spacePunctPattern.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(text)

	for _, url := range urls {
		text = strings.Replace(text, urlPlaceholder, url, 1)
	}

	return ensureSentenceEnding(text)
}

// collapseRepeatedPunctuation keeps the first of a run of identical punctuation
// marks, except for ellipses.
func collapseRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
		run     int
	)

	builder.Grow(len(text))

	for _, char := range text {
		if char == last && unicode.IsPunct(char) {
			run++
			if char != '.' || run >= len(ellipsis) {
				continue
			}
		} else {
			run = 0
		}

		builder.WriteRune(char)

		last = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, size := utf8.DecodeLastRuneInString(text)

	switch {
	case sentenceEnders[lastChar]:
		return text
	case closingMarks[lastChar] || !unicode.IsPunct(lastChar):
		return text + "."
	default:
		return text[:len(text)-size] + "."
	}
}
