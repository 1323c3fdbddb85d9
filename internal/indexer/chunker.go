package indexer

import "strings"

// chunkDocument splits document text with a structure-aware strategy:
// it prefers breaking at markdown headings and paragraph boundaries,
// and carries the last overlapLines non-empty lines of each chunk into
// the next so context survives the cut.
func chunkDocument(text string, maxRunes, overlapLines int) []string {
	lines := splitLongLines(strings.Split(text, "\n"), maxRunes)

	var chunks []string
	var current []string
	size := 0

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(current, "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		// Trailing-line overlap into the next chunk, capped so huge
		// lines don't dominate the next chunk's budget.
		overlap := trailingLines(current, overlapLines, maxRunes/4)
		current = append([]string(nil), overlap...)
		size = 0
		for _, l := range current {
			size += len([]rune(l)) + 1
		}
	}

	for i, line := range lines {
		atBoundary := isHeading(line) || (strings.TrimSpace(line) == "" && i > 0)

		// A heading starts a new chunk once the current one has grown
		// past half the budget; any boundary closes a full chunk.
		if size > 0 && atBoundary {
			if size >= maxRunes || (isHeading(line) && size >= maxRunes/2) {
				flush()
			}
		}

		current = append(current, line)
		size += len([]rune(line)) + 1

		// Hard cap for boundary-free text.
		if size >= maxRunes*3/2 {
			flush()
		}
	}

	if chunk := strings.TrimSpace(strings.Join(current, "\n")); chunk != "" {
		// Don't emit an overlap-only trailer.
		if len(chunks) == 0 || !isOverlapOnly(current, chunks[len(chunks)-1], overlapLines) {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// chunkSliding splits non-document text into fixed-size windows with
// rune overlap between consecutive windows.
func chunkSliding(text string, window, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if window <= 0 {
		window = 800
	}
	if overlap < 0 || overlap >= window {
		overlap = window / 8
	}

	var chunks []string
	step := window - overlap
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitLongLines hard-wraps any single line longer than maxRunes so
// line-free prose still honors the chunk cap.
func splitLongLines(lines []string, maxRunes int) []string {
	var out []string
	for _, line := range lines {
		runes := []rune(line)
		for len(runes) > maxRunes {
			out = append(out, string(runes[:maxRunes]))
			runes = runes[maxRunes:]
		}
		out = append(out, string(runes))
	}
	return out
}

func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(trimmed, "#"), " ")
}

// trailingLines returns up to n trailing non-empty lines whose total
// size stays within budget runes.
func trailingLines(lines []string, n, budget int) []string {
	if n <= 0 {
		return nil
	}
	var out []string
	total := 0
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		total += len([]rune(lines[i])) + 1
		if total > budget {
			break
		}
		out = append([]string{lines[i]}, out...)
	}
	return out
}

// isOverlapOnly reports whether the remaining lines are nothing but the
// overlap already contained in the previous chunk.
func isOverlapOnly(lines []string, prev string, overlapLines int) bool {
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(l))
		}
	}
	if len(nonEmpty) == 0 || len(nonEmpty) > overlapLines {
		return false
	}
	for _, l := range nonEmpty {
		if !strings.Contains(prev, l) {
			return false
		}
	}
	return true
}
