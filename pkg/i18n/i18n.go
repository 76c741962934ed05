// Package i18n localizes user-facing error messages. Messages live in embedded
// JSON catalogs keyed by dotted paths such as "errors.insufficient_stock".
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales
const (
	LocaleEnglish = "en"
	LocaleGerman  = "de"
	DefaultLocale = LocaleEnglish
)

var (
	supported = []language.Tag{language.English, language.German}
	matcher   = language.NewMatcher(supported)
)

type localeKey struct{}

var (
	catalogs     map[string]map[string]string
	catalogsOnce sync.Once
)

func loadCatalogs() {
	catalogsOnce.Do(func() {
		catalogs = make(map[string]map[string]string)
		for _, locale := range []string{LocaleEnglish, LocaleGerman} {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				continue
			}
			var tree map[string]interface{}
			if err := json.Unmarshal(data, &tree); err != nil {
				continue
			}
			flat := make(map[string]string)
			flatten("", tree, flat)
			catalogs[locale] = flat
		}
	})
}

// flatten turns nested catalogs into dotted keys so lookups are a single map access.
func flatten(prefix string, tree map[string]interface{}, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]interface{}:
			flatten(key, val, out)
		}
	}
}

// Localizer handles message localization
type Localizer struct {
	locale string
}

// NewLocalizer creates a localizer, falling back to English for unknown locales
func NewLocalizer(locale string) *Localizer {
	loadCatalogs()
	if locale != LocaleEnglish && locale != LocaleGerman {
		locale = DefaultLocale
	}
	return &Localizer{locale: locale}
}

// LocalizerFromContext creates a localizer from context
func LocalizerFromContext(ctx context.Context) *Localizer {
	return NewLocalizer(GetLocaleFromContext(ctx))
}

// T translates a message key, replacing {name} placeholders from params.
// Unknown keys are returned as-is.
func (l *Localizer) T(key string, params ...map[string]string) string {
	msg, ok := catalogs[l.locale][key]
	if !ok {
		msg, ok = catalogs[DefaultLocale][key]
	}
	if !ok {
		return key
	}

	if len(params) > 0 {
		for k, v := range params[0] {
			msg = strings.ReplaceAll(msg, "{"+k+"}", v)
		}
	}
	return msg
}

// GetLocale returns the current locale
func (l *Localizer) GetLocale() string {
	return l.locale
}

// WithLocale adds locale to context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// GetLocaleFromContext retrieves locale from context
func GetLocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage returns the best supported locale for an Accept-Language header.
func ParseAcceptLanguage(header string) string {
	if header == "" {
		return DefaultLocale
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return DefaultLocale
	}
	base, _ := supported[idx].Base()
	return base.String()
}

// TFromContext translates using locale from context
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return LocalizerFromContext(ctx).T(key, params...)
}
