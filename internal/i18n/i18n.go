// Package i18n provides locale-aware printers for command output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is used when the environment names no supported locale.
var DefaultLang = language.English

// SupportedLangs are the locales output is formatted for.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage maps a locale or Accept-Language style list to the closest
// supported language.
func MatchLanguage(accept string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(accept)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// LocaleFromEnv returns the locale named by lookup("LC_ALL") or
// lookup("LANG") with any encoding suffix removed ("de_DE.UTF-8" -> "de_DE").
func LocaleFromEnv(lookup func(string) string) string {
	lang := lookup("LC_ALL")
	if lang == "" {
		lang = lookup("LANG")
	}
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	if lang == "C" || lang == "POSIX" {
		return ""
	}
	return lang
}

// TagForLocale resolves a POSIX locale name to a supported language.
func TagForLocale(locale string) language.Tag {
	if locale == "" {
		return DefaultLang
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return MatchLanguage(locale)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}

// NewCLIPrinter returns a printer for the locale in the environment.
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(TagForLocale(LocaleFromEnv(os.Getenv)))
}
