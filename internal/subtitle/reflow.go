package subtitle

import (
	"strings"
	"unicode"
)

// Reflow breaks text into display rows no longer than maxLen runes.
// Existing line breaks are respected; only over-long lines are split.
//
// Methods:
//   - "word": greedy fill, breaking at whitespace only
//   - "char": hard cut every maxLen runes
//   - "even": prefer a two-row split at the word boundary that makes the
//     rows most equal in length; falls back to greedy word wrap when the
//     text needs more than two rows
//
// A line with no whitespace cannot break at a word boundary and is cut
// hard regardless of method.
func Reflow(text string, maxLen int, method string) string {
	if maxLen <= 0 {
		return text
	}

	var rows []string
	for _, line := range strings.Split(text, "\n") {
		rows = append(rows, splitLine(line, maxLen, method)...)
	}
	return strings.Join(rows, "\n")
}

func splitLine(line string, maxLen int, method string) []string {
	line = strings.TrimSpace(line)
	if len([]rune(line)) <= maxLen {
		return []string{line}
	}

	switch method {
	case SplitCharMethod:
		return splitChars(line, maxLen)
	case SplitWordMethod:
		return splitWords(line, maxLen)
	default:
		return splitEven(line, maxLen)
	}
}

// Method names accepted by Reflow. Kept in sync with the configuration
// package, which owns validation.
const (
	SplitWordMethod = "word"
	SplitCharMethod = "char"
	SplitEvenMethod = "even"
)

// splitChars cuts every maxLen runes with no regard for word boundaries.
func splitChars(line string, maxLen int) []string {
	runes := []rune(line)
	var rows []string
	for len(runes) > maxLen {
		rows = append(rows, string(runes[:maxLen]))
		runes = runes[maxLen:]
	}
	if len(runes) > 0 {
		rows = append(rows, string(runes))
	}
	return rows
}

// splitWords wraps greedily at whitespace. A single word longer than
// maxLen is cut hard.
func splitWords(line string, maxLen int) []string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{line}
	}

	var rows []string
	var current strings.Builder
	currentLen := 0
	for _, word := range words {
		wordLen := len([]rune(word))
		if wordLen > maxLen {
			if currentLen > 0 {
				rows = append(rows, current.String())
				current.Reset()
				currentLen = 0
			}
			rows = append(rows, splitChars(word, maxLen)...)
			last := rows[len(rows)-1]
			rows = rows[:len(rows)-1]
			current.WriteString(last)
			currentLen = len([]rune(last))
			continue
		}
		if currentLen == 0 {
			current.WriteString(word)
			currentLen = wordLen
		} else if currentLen+1+wordLen <= maxLen {
			current.WriteByte(' ')
			current.WriteString(word)
			currentLen += 1 + wordLen
		} else {
			rows = append(rows, current.String())
			current.Reset()
			current.WriteString(word)
			currentLen = wordLen
		}
	}
	if currentLen > 0 {
		rows = append(rows, current.String())
	}
	return rows
}

// splitEven picks the whitespace split point that minimizes the length
// difference between the two halves, provided both halves fit. Ties go
// to the split closest to the midpoint. When no two-row split fits the
// line falls back to greedy word wrap.
func splitEven(line string, maxLen int) []string {
	runes := []rune(line)
	mid := len(runes) / 2

	bestIdx := -1
	bestDiff := len(runes)
	for i, r := range runes {
		if !unicode.IsSpace(r) {
			continue
		}
		left := len([]rune(strings.TrimSpace(string(runes[:i]))))
		right := len([]rune(strings.TrimSpace(string(runes[i+1:]))))
		if left == 0 || right == 0 || left > maxLen || right > maxLen {
			continue
		}
		diff := left - right
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff || (diff == bestDiff && bestIdx >= 0 && abs(i-mid) < abs(bestIdx-mid)) {
			bestDiff = diff
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		if strings.ContainsFunc(line, unicode.IsSpace) {
			return splitWords(line, maxLen)
		}
		return splitChars(line, maxLen)
	}

	return []string{
		strings.TrimSpace(string(runes[:bestIdx])),
		strings.TrimSpace(string(runes[bestIdx+1:])),
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
