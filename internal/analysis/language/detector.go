// Package language classifies short chat utterances as English or Urdu.
package language

import (
	"strings"
	"unicode"
)

// Language is the detected language of an utterance.
type Language string

const (
	English Language = "en"
	Urdu    Language = "ur"
)

// RomanUrduThreshold is the number of romanized-Urdu keyword hits needed to
// classify Latin-script text as Urdu.
const RomanUrduThreshold = 2

var romanUrduKeywords = map[string]struct{}{
	"assalam": {}, "asalam": {}, "salam": {}, "alaikum": {}, "alaykum": {},
	"aap": {}, "ap": {}, "kya": {}, "kia": {}, "hai": {}, "hain": {},
	"mein": {}, "mai": {}, "nahi": {}, "nahin": {}, "kaise": {}, "kaisay": {},
	"kaisi": {}, "shukriya": {}, "theek": {}, "thik": {}, "acha": {},
	"achha": {}, "bohat": {}, "bahut": {}, "kyun": {}, "mujhe": {},
	"batao": {}, "bataen": {}, "khuda": {}, "hafiz": {}, "allah": {},
	"janab": {}, "jee": {}, "ji": {}, "madad": {}, "chahiye": {},
}

// Detect returns Urdu when text contains any Arabic-block character or
// enough romanized-Urdu keywords, English otherwise.
func Detect(text string) Language {
	if strings.TrimSpace(text) == "" {
		return English
	}
	if ContainsUrduScript(text) {
		return Urdu
	}
	if RomanUrduScore(text) >= RomanUrduThreshold {
		return Urdu
	}
	return English
}

// ContainsUrduScript reports whether text has a rune in U+0600..U+06FF.
func ContainsUrduScript(text string) bool {
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			return true
		}
	}
	return false
}

// RomanUrduScore counts the words of text found in the romanized-Urdu
// vocabulary. Repeated words count every time they occur.
func RomanUrduScore(text string) int {
	score := 0
	for _, word := range Words(text) {
		if _, ok := romanUrduKeywords[word]; ok {
			score++
		}
	}
	return score
}

// Words lowercases text and splits it on anything that is not a letter or a
// digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
