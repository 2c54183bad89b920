package typing

import (
	"strings"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const typingKey = "%[1]s is typing..."

var messages = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	b.Set(language.English, typingKey,
		plural.Selectf(2, "%d",
			"one", "%[1]s is typing...",
			"other", "%[1]s are typing...",
		))
	b.Set(language.Chinese, typingKey, catalog.String("%[1]s 正在输入..."))
	return b
}()

// Render joins names and appends the localized "is typing" suffix, using
// the plural form for two or more. It returns "" for no names.
func Render(tag language.Tag, names []string) string {
	if len(names) == 0 {
		return ""
	}
	p := message.NewPrinter(tag, message.Catalog(messages))
	return p.Sprintf(typingKey, strings.Join(names, ", "), len(names))
}

// ParseLang maps a config value such as "en" or "zh" to a language tag,
// falling back to English.
func ParseLang(s string) language.Tag {
	tag, err := language.Parse(s)
	if err != nil {
		return language.English
	}
	return tag
}
