package headless

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pseudocoder/idelink/internal/protocol"
)

// Positions count lines from zero and characters in UTF-16 code units,
// matching what editors and the backend exchange.

// offsetOf converts pos to a byte offset in text. Positions past the end of
// a line or past the last line are rejected.
func offsetOf(text string, pos protocol.Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, fmt.Errorf("negative position %d:%d", pos.Line, pos.Character)
	}

	lineStart := 0
	for i := 0; i < pos.Line; i++ {
		nl := strings.IndexByte(text[lineStart:], '\n')
		if nl == -1 {
			return 0, fmt.Errorf("line %d out of range (document has %d lines)", pos.Line, i+1)
		}
		lineStart += nl + 1
	}

	line := text[lineStart:]
	if nl := strings.IndexByte(line, '\n'); nl != -1 {
		line = line[:nl]
	}
	line = strings.TrimSuffix(line, "\r")

	units := 0
	for i, r := range line {
		if units == pos.Character {
			return lineStart + i, nil
		}
		if units > pos.Character {
			return 0, fmt.Errorf("character %d splits a surrogate pair on line %d", pos.Character, pos.Line)
		}
		units += utf16Len(r)
	}
	if units == pos.Character {
		return lineStart + len(line), nil
	}
	return 0, fmt.Errorf("character %d out of range on line %d (length %d)", pos.Character, pos.Line, units)
}

// positionAt converts a byte offset into a Position.
func positionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	before := text[:offset]
	line := strings.Count(before, "\n")
	lineStart := strings.LastIndexByte(before, '\n') + 1

	units := 0
	for _, r := range before[lineStart:] {
		units += utf16Len(r)
	}
	return protocol.Position{Line: line, Character: units}
}

// spanOf resolves rng to byte offsets.
func spanOf(text string, rng protocol.Range) (int, int, error) {
	if rng.End.Before(rng.Start) {
		return 0, 0, fmt.Errorf("range end %d:%d precedes start %d:%d",
			rng.End.Line, rng.End.Character, rng.Start.Line, rng.Start.Character)
	}
	start, err := offsetOf(text, rng.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := offsetOf(text, rng.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// endPosition returns the position just past the last character of text.
func endPosition(text string) protocol.Position {
	return positionAt(text, len(text))
}

// diffSpan returns the smallest range of old that, replaced with the
// returned text, yields updated. ok is false when nothing changed.
func diffSpan(old, updated string) (rng protocol.Range, text string, ok bool) {
	if old == updated {
		return protocol.Range{}, "", false
	}

	prefix := 0
	for prefix < len(old) && prefix < len(updated) && old[prefix] == updated[prefix] {
		prefix++
	}
	// Do not split a multi-byte rune.
	for prefix > 0 && prefix < len(old) && !utf8.RuneStart(old[prefix]) {
		prefix--
	}

	suffix := 0
	for suffix < len(old)-prefix && suffix < len(updated)-prefix &&
		old[len(old)-1-suffix] == updated[len(updated)-1-suffix] {
		suffix++
	}
	for suffix > 0 && !utf8.RuneStart(old[len(old)-suffix]) {
		suffix--
	}

	rng = protocol.Range{
		Start: positionAt(old, prefix),
		End:   positionAt(old, len(old)-suffix),
	}
	return rng, updated[prefix : len(updated)-suffix], true
}

func utf16Len(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
