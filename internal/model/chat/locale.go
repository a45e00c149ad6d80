package chat

import "strings"

// DefaultLocale is used for new sessions when no other locale is configured.
const DefaultLocale = "en-US"

var supportedLocales = []string{"en-US", "en-GB", "ur-PK", "hi-IN"}

// SupportedLocales lists the recognition/voice locales offered in the sidebar.
func SupportedLocales() []string {
	return append([]string(nil), supportedLocales...)
}

// ValidLocale reports whether locale is one of the supported locales.
func ValidLocale(locale string) bool {
	for _, l := range supportedLocales {
		if l == locale {
			return true
		}
	}
	return false
}

// LanguageHint reduces a BCP-47 locale to the bare language code upstream
// transcription APIs accept ("ur-PK" -> "ur").
func LanguageHint(locale string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(locale), "-")
	return strings.ToLower(lang)
}
