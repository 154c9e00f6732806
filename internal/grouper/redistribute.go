package grouper

import (
	"fmt"
	"strings"
)

// RedistributionError reports a translated sentence that could not be
// split back across its member entries. The translation is still kept,
// parked on the first member, so nothing is lost.
type RedistributionError struct {
	Members int
	Words   int
}

func (e *RedistributionError) Error() string {
	return fmt.Sprintf("cannot redistribute %d translated words across %d entries", e.Words, e.Members)
}

// Apply stores the translated sentence on the group's members. For
// multi-entry groups the words are spread proportionally to each
// member's share of the source text, so timing stays aligned with what
// is being said. Joining the members' translations with single spaces
// reproduces the translated sentence exactly, modulo the formatting
// tags each member gets back from its source.
func (g *Group) Apply(translated string) error {
	translated = strings.TrimSpace(translated)
	src := g.source()

	for _, m := range g.Members {
		m.Failed = false
	}

	if len(g.Members) == 1 {
		s := src[0]
		g.Members[0].TranslatedText = ReinsertMarkup(translated, s.spans, len([]rune(s.text)))
		return nil
	}

	shares := make([]int, len(src))
	for i, s := range src {
		shares[i] = len([]rune(s.text))
		if shares[i] == 0 {
			shares[i] = 1
		}
	}

	parts, err := redistribute(translated, shares)
	if err != nil {
		spans, total := g.joinedSpans()
		g.Members[0].TranslatedText = ReinsertMarkup(translated, spans, total)
		for _, m := range g.Members[1:] {
			m.TranslatedText = ""
		}
		return err
	}

	for i, m := range g.Members {
		m.TranslatedText = ReinsertMarkup(parts[i], src[i].spans, len([]rune(src[i].text)))
	}
	return nil
}

// redistribute splits text into len(shares) word runs whose lengths
// track the cumulative share boundaries. Every run gets at least one
// word.
func redistribute(text string, shares []int) ([]string, error) {
	words := strings.Fields(text)
	n := len(shares)
	if len(words) < n {
		return nil, &RedistributionError{Members: n, Words: len(words)}
	}

	totalShare := 0
	for _, s := range shares {
		totalShare += s
	}
	totalLen := len([]rune(strings.Join(words, " ")))

	parts := make([]string, n)
	w := 0
	consumed := 0
	cumShare := 0
	for i := 0; i < n; i++ {
		cumShare += shares[i]
		boundary := totalLen * cumShare / totalShare

		var run []string
		for w < len(words) {
			remainingMembers := n - i - 1
			remainingWords := len(words) - w
			if len(run) > 0 && remainingWords <= remainingMembers {
				break
			}
			if len(run) > 0 && i < n-1 {
				// Stop once crossing the boundary moves the cut
				// further from target than stopping here.
				next := consumed + 1 + len([]rune(words[w]))
				if abs(next-boundary) > abs(consumed-boundary) {
					break
				}
			}
			if len(run) > 0 {
				consumed++ // joining space
			}
			consumed += len([]rune(words[w]))
			run = append(run, words[w])
			w++
		}
		parts[i] = strings.Join(run, " ")
	}

	// Trailing words belong to the last member.
	if w < len(words) {
		rest := strings.Join(words[w:], " ")
		if parts[n-1] == "" {
			parts[n-1] = rest
		} else {
			parts[n-1] += " " + rest
		}
	}
	return parts, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
