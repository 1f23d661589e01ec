package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware puts a localizer into every request context. A request whose
// Accept-Language matches a catalog is answered in that language; anything
// else falls back to lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(lang)
	matcher := language.NewMatcher(Languages())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fallback
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				if _, _, c := matcher.Match(parseAccept(accept)...); c != language.No {
					loc = NewLocalizer(accept, lang)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}

func parseAccept(header string) []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	return tags
}
