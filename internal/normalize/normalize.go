package normalize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Normalize converts a raw message body, possibly HTML, into clean plain
// text: markup stripped, NFKC-normalized, control characters removed,
// whitespace collapsed. Deterministic and side-effect free.
func Normalize(raw string) string {
	text := stripMarkup(raw)
	text = norm.NFKC.String(text)
	text = dropNonPrintable(text)
	text = strings.ReplaceAll(text, " ", " ")
	return strings.Join(strings.Fields(text), " ")
}

// stripMarkup extracts visible text, joining fragments with single spaces.
// The tokenizer tolerates malformed markup, so this never fails; input
// without angle brackets passes through untouched.
func stripMarkup(raw string) string {
	if !strings.ContainsAny(raw, "<>") {
		return raw
	}

	z := html.NewTokenizer(strings.NewReader(raw))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// The tokenizer passes stray angle brackets through as text.
			return strings.NewReplacer("<", " ", ">", " ").Replace(sb.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if isInvisible(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isInvisible(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style"
}

// dropNonPrintable keeps printable ASCII and the Unicode range above the
// Latin-1 control block; everything else (control characters, unpaired
// surrogates, astral-plane symbols) is removed.
func dropNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x20 && r <= 0x7e {
			return r
		}
		if r >= 0xa0 && r <= 0xffff {
			return r
		}
		return -1
	}, s)
}
