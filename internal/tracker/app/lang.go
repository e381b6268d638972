package app

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	// langParam is the query parameter used to select a language.
	langParam = "lang"
	// langCookieName stores the user's language preference.
	langCookieName = "tl_lang"
)

var supportedLanguages = []language.Tag{
	language.English,
	language.BrazilianPortuguese,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// resolveLang determines the page language for the request, persisting
// an explicit lang query selection as a cookie.
func resolveLang(w http.ResponseWriter, r *http.Request) string {
	if value := strings.TrimSpace(r.URL.Query().Get(langParam)); value != "" {
		if tag, err := language.Parse(value); err == nil {
			matched := matchLanguage(tag)
			setLanguageCookie(w, matched)
			return matched.String()
		}
	}

	if cookie, err := r.Cookie(langCookieName); err == nil {
		if tag, err := language.Parse(cookie.Value); err == nil {
			return matchLanguage(tag).String()
		}
	}

	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, index, _ := languageMatcher.Match(tags...)
			return supportedLanguages[index].String()
		}
	}

	return supportedLanguages[0].String()
}

func matchLanguage(tag language.Tag) language.Tag {
	_, index, _ := languageMatcher.Match(tag)
	return supportedLanguages[index]
}

func setLanguageCookie(w http.ResponseWriter, tag language.Tag) {
	http.SetCookie(w, &http.Cookie{
		Name:     langCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}
