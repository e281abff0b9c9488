package compressor

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// wordPattern splits text into words, single punctuation runes and
// newlines. Whitespace other than newline is dropped. Word characters
// joined by one of - ' ’ . @ : / stay a single token, so numbers,
// addresses and URLs are never split apart.
var wordPattern = regexp.MustCompile(`\n|[\p{L}\p{N}_]+(?:[-'’.@:/]+[\p{L}\p{N}_]+)*|[^\s\p{L}\p{N}_]`)

// Token is a word-level token and its byte span in the source text.
type Token struct {
	Text       string
	Start, End int
}

// Segment splits text into the word-level tokens used by LocalBackend.
func Segment(text string) []Token {
	spans := wordPattern.FindAllStringIndex(text, -1)
	tokens := make([]Token, len(spans))
	for i, sp := range spans {
		tokens[i] = Token{Text: text[sp[0]:sp[1]], Start: sp[0], End: sp[1]}
	}
	return tokens
}

// WordTokenizer counts word-level tokens. It never fails.
type WordTokenizer struct{}

// Name implements Tokenizer.
func (WordTokenizer) Name() string { return "word" }

// Count implements Tokenizer.
func (WordTokenizer) Count(_ context.Context, text string) (int, error) {
	return len(wordPattern.FindAllStringIndex(text, -1)), nil
}

// TiktokenTokenizer counts BPE tokens with a tiktoken encoding. The
// encoding is loaded on first use; a load failure is reported as
// ErrModelUnavailable on every call.
type TiktokenTokenizer struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenTokenizer creates a tokenizer for the named encoding,
// e.g. "cl100k_base".
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{encoding: encoding}
}

// Name implements Tokenizer.
func (t *TiktokenTokenizer) Name() string { return "tiktoken:" + t.encoding }

// Count implements Tokenizer.
func (t *TiktokenTokenizer) Count(_ context.Context, text string) (int, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	})
	if t.err != nil {
		return 0, fmt.Errorf("%w: load encoding %s: %w", ErrModelUnavailable, t.encoding, t.err)
	}
	if text == "" {
		return 0, nil
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func isWord(tok string) bool {
	for _, r := range tok {
		return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
	}
	return false
}
