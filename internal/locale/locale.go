// Package locale resolves user-facing messages in English or Vietnamese.
// The language is always passed explicitly by the caller.
package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type Lang string

const (
	English    Lang = "en"
	Vietnamese Lang = "vi"
)

var (
	supported = []language.Tag{language.English, language.Vietnamese}
	matcher   = language.NewMatcher(supported)
	printers  = map[Lang]*message.Printer{}
)

func init() {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, m := range messages {
		_ = b.SetString(language.English, key, m.en)
		_ = b.SetString(language.Vietnamese, key, m.vi)
	}
	printers[English] = message.NewPrinter(language.English, message.Catalog(b))
	printers[Vietnamese] = message.NewPrinter(language.Vietnamese, message.Catalog(b))
}

// Parse maps an Accept-Language header (or a bare tag such as "vi") to a
// supported language, defaulting to English.
func Parse(header string) Lang {
	if header == "" {
		return English
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return English
	}
	if supported[idx] == language.Vietnamese {
		return Vietnamese
	}
	return English
}

// Msg renders the message registered under key with printf-style args.
func Msg(lang Lang, key string, args ...interface{}) string {
	p, ok := printers[lang]
	if !ok {
		p = printers[English]
	}
	return p.Sprintf(key, args...)
}
