package tokenizer

import (
	"strings"
	"unicode"
)

// CountTokens provides a rough token count estimate.
// CJK ideographs are close to one token each; Latin words average 4/3.
func CountTokens(text string) int {
	cjk := 0
	for _, r := range text {
		if IsCJK(r) {
			cjk++
		}
	}
	words := len(strings.Fields(text))
	return max(words*4/3+cjk, 1)
}

// CountWords counts whitespace-delimited words, treating every CJK
// character as a word of its own.
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case IsCJK(r):
			count++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}

func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
