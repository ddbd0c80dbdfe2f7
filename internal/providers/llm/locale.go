package llm

import "golang.org/x/text/language"

var supportedLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
	language.BrazilianPortuguese,
	language.German,
	language.French,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// NormalizeLocale maps arbitrary BCP 47 input onto the base language of the
// closest supported locale. Unparseable input falls back to English.
func NormalizeLocale(raw string) string {
	if raw == "" {
		return "en"
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "en"
	}
	matched, _, _ := localeMatcher.Match(tag)
	base, _ := matched.Base()
	return base.String()
}
