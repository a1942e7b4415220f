package service

import (
	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
)

func success(lang locale.Lang, code string, data interface{}, args ...interface{}) *entity.Result {
	return entity.NewResult(code, locale.Msg(lang, code, args...), data)
}

// notFound names the missing entity in the caller's language.
func notFound(lang locale.Lang, noun string, args ...interface{}) error {
	return failure(lang, entity.KindNotFound, entity.CodeNotFound, locale.Msg(lang, noun, args...))
}

func failure(lang locale.Lang, kind entity.ErrorKind, code string, args ...interface{}) error {
	return entity.NewDomainError(kind, code, locale.Msg(lang, code, args...))
}
