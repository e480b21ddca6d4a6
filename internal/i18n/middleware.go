package i18n

import (
	"net/http"
)

// Middleware picks the page language from Accept-Language, stores its
// printer in the request context and announces it in Content-Language.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := MatchLanguage(r.Header.Get("Accept-Language"))
		base, _ := tag.Base()
		w.Header().Set("Content-Language", base.String())
		next.ServeHTTP(w, r.WithContext(WithPrinter(r.Context(), NewPrinter(tag))))
	})
}
