package compressor

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LocalBackend is an in-process token-importance compressor. It scores
// word tokens by rarity within the message, length and shape, and keeps
// the top ceil(rate*n) tokens in original order. Force tokens are always
// kept. For a fixed text the kept set only grows with rate.
type LocalBackend struct{}

// NewLocalBackend creates the in-process backend.
func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

// Name implements Backend.
func (*LocalBackend) Name() string { return "local" }

// Compress implements Backend. Kept tokens are copied from the input with
// the original text between neighbours; a gap left by dropped tokens
// becomes the whitespace that preceded the next kept token.
func (*LocalBackend) Compress(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tokens := Segment(req.Text)
	n := len(tokens)
	if n == 0 {
		return "", nil
	}

	force := make(map[string]bool, len(req.ForceTokens))
	for _, t := range req.ForceTokens {
		force[t] = true
	}

	target := int(math.Ceil(clampRate(req.Rate) * float64(n)))
	keep := make([]bool, n)
	forced := 0
	var candidates []int
	for i, tok := range tokens {
		if force[tok.Text] {
			keep[i] = true
			forced++
			continue
		}
		candidates = append(candidates, i)
	}

	scores := scoreTokens(tokens)
	sort.SliceStable(candidates, func(a, b int) bool {
		return scores[candidates[a]] > scores[candidates[b]]
	})
	budget := target - forced
	for k := 0; k < budget && k < len(candidates); k++ {
		keep[candidates[k]] = true
	}

	if req.DropConsecutive {
		last := -1
		for i, tok := range tokens {
			if !keep[i] {
				continue
			}
			if force[tok.Text] && last >= 0 && tokens[last].Text == tok.Text {
				keep[i] = false
				continue
			}
			last = i
		}
	}

	return render(req.Text, tokens, keep), nil
}

// render writes the kept tokens of text.
func render(text string, tokens []Token, keep []bool) string {
	var sb strings.Builder
	prev := -1
	for i, tok := range tokens {
		if !keep[i] {
			continue
		}
		switch {
		case prev < 0:
		case prev == i-1:
			sb.WriteString(text[tokens[prev].End:tok.Start])
		default:
			sb.WriteString(separator(text, tokens, prev, i))
		}
		sb.WriteString(tok.Text)
		prev = i
	}
	return sb.String()
}

// separator joins kept tokens prev and next across dropped ones without
// letting them merge into a different token.
func separator(text string, tokens []Token, prev, next int) string {
	if gap := text[tokens[next-1].End:tokens[next].Start]; gap != "" {
		return gap
	}
	p, n := tokens[prev].Text, tokens[next].Text
	if p == "\n" || n == "\n" || isClosing(n) {
		return ""
	}
	return " "
}

func isClosing(tok string) bool {
	switch tok {
	case ",", ";", "!", "?", ")", "]", "}":
		return true
	}
	return false
}

func clampRate(r float64) float64 {
	switch {
	case math.IsNaN(r) || r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// scoreTokens returns an importance score per token. Higher is kept first.
func scoreTokens(tokens []Token) []float64 {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[strings.ToLower(t.Text)]++
	}

	scores := make([]float64, len(tokens))
	for i, tok := range tokens {
		t := tok.Text
		if !isWord(t) {
			scores[i] = 0.05
			continue
		}
		lower := strings.ToLower(t)
		// rarity within the message, like an in-document idf
		s := 1 / float64(freq[lower])
		s += math.Min(float64(utf8.RuneCountInString(t)), 12) / 12
		if hasDigit(t) {
			s += 0.5
		}
		if i > 0 && !sentenceStart(tokens, i) && startsUpper(t) {
			s += 0.5
		}
		if stopwords[lower] {
			s *= 0.25
		}
		scores[i] = s
	}
	return scores
}

func sentenceStart(tokens []Token, i int) bool {
	switch tokens[i-1].Text {
	case ".", "!", "?", "\n", ":":
		return true
	}
	return false
}

func startsUpper(t string) bool {
	r, _ := utf8.DecodeRuneInString(t)
	return unicode.IsUpper(r)
}

func hasDigit(t string) bool {
	for _, r := range t {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "if": true, "of": true, "to": true, "in": true,
	"on": true, "at": true, "by": true, "for": true, "with": true,
	"from": true, "into": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "you": true, "he": true, "she": true,
	"we": true, "they": true, "me": true, "my": true, "your": true,
	"our": true, "their": true, "them": true, "do": true, "does": true,
	"did": true, "have": true, "has": true, "had": true, "will": true,
	"would": true, "could": true, "should": true, "can": true, "just": true,
	"so": true, "than": true, "then": true, "there": true, "very": true,
	"please": true, "some": true, "about": true, "what": true, "which": true,
}
