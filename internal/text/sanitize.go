// Package text prepares user supplied text for the synthesis engine.
//
// The engine tokenizer rejects or mangles most punctuation, so input goes
// through two passes: Fold maps CJK and full-width punctuation onto ASCII
// and drops anything outside ASCII, CJK ideographs and whitespace; Strip
// then removes sentence-final marks and everything except word characters
// and a small set of pause punctuation. Fold must run before Strip.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmpty is returned when no speakable text remains.
var ErrEmpty = errors.New("text must not be empty")

var punctuation = strings.NewReplacer(
	"？", "?", "！", "!", "，", ",", "。", ".",
	"：", ":", "；", ";", "（", "(", "）", ")",
	"【", "[", "】", "]", "《", "<", "》", ">",
	"「", "\"", "」", "\"", "『", "\"", "』", "\"",
	"…", "...", "—", "-", "、", ",", "·", ".",
	"～", "~", "￥", "$", "×", "x", "÷", "/",
	"＋", "+", "－", "-", "＝", "=", "％", "%",
)

// Normalize runs both passes and reports ErrEmpty when the input is blank
// before or after normalization.
func Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmpty
	}
	out := Strip(Fold(raw))
	if out == "" {
		return "", ErrEmpty
	}
	return out, nil
}

// Fold maps punctuation through the fold table and deletes every rune that
// is not printable ASCII, a CJK ideograph or whitespace.
func Fold(s string) string {
	s = punctuation.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r >= 0x20 && r < 0x7f, isIdeograph(r):
			b.WriteRune(r)
		}
	}
	return collapse(b.String())
}

// Strip removes ? and ! outright and keeps only word characters, CJK
// ideographs, whitespace and . , ; : ( ).
func Strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '?' || r == '!' || r == '？' || r == '！':
		case isWord(r), isIdeograph(r), unicode.IsSpace(r):
			b.WriteRune(r)
		case strings.ContainsRune(".,;:()", r):
			b.WriteRune(r)
		}
	}
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isIdeograph(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

func isWord(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
