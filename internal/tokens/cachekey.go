package tokens

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxLiteralKeyLen = 200
	fingerprintEdge  = 50
)

// cacheKey returns the cache key of (family, text). Short texts are keyed
// literally. Longer ones are keyed by length and their first and last 50
// characters, so two long texts that agree on all three share an entry.
// The s/f prefix keeps the two key forms apart.
func cacheKey(family, text string) string {
	n := utf8.RuneCountInString(text)
	if n <= maxLiteralKeyLen {
		return "s\x00" + family + "\x00" + text
	}
	runes := []rune(text)

	var b strings.Builder
	b.Grow(len(family) + 10 + 4*2*fingerprintEdge)
	b.WriteString("f\x00")
	b.WriteString(family)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(n))
	b.WriteByte(0)
	b.WriteString(string(runes[:fingerprintEdge]))
	b.WriteByte(0)
	b.WriteString(string(runes[n-fingerprintEdge:]))
	return b.String()
}
