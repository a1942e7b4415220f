package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ds124wfegd/library-reservations/internal/locale"
)

const ContextLang = "lang"

// Locale resolves the response language from ?lang= or Accept-Language.
func Locale() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Query("lang")
		if header == "" {
			header = c.GetHeader("Accept-Language")
		}
		c.Set(ContextLang, locale.Parse(header))
		c.Next()
	}
}

func Lang(c *gin.Context) locale.Lang {
	if v, ok := c.Get(ContextLang); ok {
		if lang, ok := v.(locale.Lang); ok {
			return lang
		}
	}
	return locale.English
}
