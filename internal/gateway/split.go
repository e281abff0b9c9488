package gateway

import "strings"

// SplitMessage breaks text into parts of at most limit runes, preferring
// to cut at a newline, then at a space. An empty text yields one empty
// part so a reply is always sent.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		window := string(runes[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			parts = append(parts, window)
			runes = runes[limit:]
			continue
		}
		head := window[:cut]
		parts = append(parts, head)
		runes = runes[len([]rune(head))+1:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
