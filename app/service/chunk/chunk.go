package chunk

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxSize is the Telegram per-message character limit.
const DefaultMaxSize = 4095

type Chunk struct {
	Index int
	Text  string
}

var markupReplacer = strings.NewReplacer(
	"**", "",
	"__", "",
	"`", "",
)

// StripMarkup removes decorative markers that plain-text delivery would
// show verbatim, so sizing reflects what actually goes over the wire.
func StripMarkup(text string) string {
	return markupReplacer.Replace(text)
}

// Split cuts text into transport-sized chunks, preferring paragraph
// boundaries, then sentence boundaries, then raw lines. A single unit
// longer than maxSize is hard-cut at the last newline, space or rune
// boundary before the limit.
func Split(text string, maxSize int) []Chunk {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var chunks []Chunk
	var buf strings.Builder

	flush := func() {
		trimmed := strings.TrimSpace(buf.String())
		buf.Reset()

		if trimmed != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: trimmed})
		}
	}

	for _, unit := range splitUnits(StripMarkup(text), maxSize) {
		if buf.Len() > 0 && buf.Len()+len(unit) > maxSize {
			flush()
		}

		buf.WriteString(unit)
	}

	flush()

	return chunks
}

// splitUnits returns structural units with their trailing separators kept,
// each unit no longer than maxSize.
func splitUnits(text string, maxSize int) []string {
	var units []string

	for _, paragraph := range splitParagraphs(text) {
		if len(paragraph) <= maxSize {
			units = append(units, paragraph)
			continue
		}

		for _, sentence := range splitSentences(paragraph) {
			if len(sentence) <= maxSize {
				units = append(units, sentence)
				continue
			}

			for _, line := range strings.SplitAfter(sentence, "\n") {
				if line == "" {
					continue
				}

				if len(line) <= maxSize {
					units = append(units, line)
					continue
				}

				units = append(units, hardCut(line, maxSize)...)
			}
		}
	}

	return units
}

func splitParagraphs(s string) []string {
	var units []string

	for {
		i := strings.Index(s, "\n\n")
		if i < 0 {
			break
		}

		j := i
		for j < len(s) && s[j] == '\n' {
			j++
		}

		units = append(units, s[:j])
		s = s[j:]
	}

	if s != "" {
		units = append(units, s)
	}

	return units
}

func splitSentences(s string) []string {
	var units []string

	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '.' && s[i] != '!' && s[i] != '?' {
			continue
		}

		j := i + 1
		for j < len(s) && (s[j] == '.' || s[j] == '!' || s[j] == '?') {
			j++
		}

		if j == len(s) || s[j] == ' ' || s[j] == '\n' || s[j] == '\t' {
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t') {
				j++
			}

			units = append(units, s[start:j])
			start = j
			i = j - 1
		}
	}

	if start < len(s) {
		units = append(units, s[start:])
	}

	return units
}

func hardCut(unit string, maxSize int) []string {
	var parts []string

	for len(unit) > maxSize {
		cut := lastSafeBoundary(unit, maxSize)
		parts = append(parts, unit[:cut])
		unit = unit[cut:]
	}

	if unit != "" {
		parts = append(parts, unit)
	}

	return parts
}

func lastSafeBoundary(s string, maxSize int) int {
	window := s[:maxSize]

	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return i + 1
	}

	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i + 1
	}

	cut := maxSize
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	if cut == 0 {
		cut = maxSize
	}

	return cut
}
