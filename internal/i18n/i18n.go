// Package i18n holds the embedded message catalogs and the request-scoped
// localizer used for feedback and API messages.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// DefaultLang is used when Init was never called and as the context fallback.
const DefaultLang = "en"

//go:embed locales/*.json
var catalogs embed.FS

type ctxKey struct{}

var (
	bundle    *i18n.Bundle
	lazyInit  sync.Once
	languages []language.Tag
)

// Init builds the message bundle with lang as its default language and
// parses every embedded catalog into it.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}
	b, err := loadCatalogs(catalogs, tag)
	if err != nil {
		return err
	}
	bundle = b
	languages = b.LanguageTags()
	return nil
}

func loadCatalogs(fsys fs.FS, tag language.Tag) (*i18n.Bundle, error) {
	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(fsys, "locales/*.json")
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
		mf, err := b.ParseMessageFileBytes(data, path.Base(name))
		if err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", name, err)
		}
		slog.Debug("loaded catalog", "file", name, "lang", mf.Tag, "messages", len(mf.Messages))
	}
	return b, nil
}

func current() *i18n.Bundle {
	lazyInit.Do(func() {
		if bundle == nil {
			if err := Init(DefaultLang); err != nil {
				panic(err)
			}
		}
	})
	return bundle
}

// Languages lists the languages that have a catalog.
func Languages() []language.Tag {
	current()
	return languages
}

// NewLocalizer creates a localizer for the given languages in preference
// order. Accept-Language header values are accepted.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(current(), langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer)
	if !ok {
		loc = NewLocalizer(DefaultLang)
	}
	s, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td fills the message's template with data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp picks the plural form for count; the template sees it as .Count.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}
