package compressor

import (
	"context"
	"reflect"
	"testing"
)

func tokenTexts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestSegment(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Don't panic, it's 42.\nOK?", []string{"Don't", "panic", ",", "it's", "42", ".", "\n", "OK", "?"}},
		{"Pi is 3.14, e-mail bob@example.com.", []string{"Pi", "is", "3.14", ",", "e-mail", "bob@example.com", "."}},
		{"see https://go.dev/doc (now)", []string{"see", "https://go.dev/doc", "(", "now", ")"}},
		{"Nobody knows...", []string{"Nobody", "knows", ".", ".", "."}},
	}
	for _, c := range cases {
		if got := tokenTexts(Segment(c.in)); !reflect.DeepEqual(got, c.want) {
			t.Errorf("Segment(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSegmentSpans(t *testing.T) {
	in := "Hello,  wide\tworld!\n¿Qué?"
	for _, tok := range Segment(in) {
		if in[tok.Start:tok.End] != tok.Text {
			t.Errorf("span [%d:%d] = %q, token %q", tok.Start, tok.End, in[tok.Start:tok.End], tok.Text)
		}
	}
}

func TestRenderKeepsOriginalSpacing(t *testing.T) {
	in := "Hello there,  my friend (really)!\nBye"
	tokens := Segment(in)
	keep := make([]bool, len(tokens))
	for i := range keep {
		keep[i] = true
	}
	if got := render(in, tokens, keep); got != in {
		t.Errorf("render all = %q, want %q", got, in)
	}

	// drop "there" and "really"
	keep[1], keep[6] = false, false
	got := render(in, tokens, keep)
	if want := "Hello,  my friend ()!\nBye"; got != want {
		t.Errorf("render = %q, want %q", got, want)
	}
	if !reflect.DeepEqual(tokenTexts(Segment(got)), []string{"Hello", ",", "my", "friend", "(", ")", "!", "\n", "Bye"}) {
		t.Errorf("rendered text re-segments differently: %q", tokenTexts(Segment(got)))
	}
}

func TestWordTokenizerCount(t *testing.T) {
	n, err := WordTokenizer{}.Count(context.Background(), "one two, three.")
	if err != nil || n != 5 {
		t.Errorf("Count = %d, %v; want 5", n, err)
	}
	if n, _ := (WordTokenizer{}).Count(context.Background(), ""); n != 0 {
		t.Errorf("empty count = %d", n)
	}
}
