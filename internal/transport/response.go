package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/internal/transport/middleware"
)

func respond(c *gin.Context, status int, result *entity.Result) {
	c.JSON(status, result)
}

// respondError переводит ошибку сервиса в конверт ответа
func respondError(c *gin.Context, err error) {
	lang := middleware.Lang(c)

	if de, ok := entity.AsDomainError(err); ok {
		c.JSON(statusForKind(de.Kind), entity.NewResult(de.Code, de.Message, nil))
		return
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).Error("Request failed with internal error")

	status := http.StatusInternalServerError
	if errors.Is(err, entity.ErrInstanceNotAssignable) {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, entity.NewResult(entity.CodeInternal, locale.Msg(lang, entity.CodeInternal), nil))
}

func respondInvalid(c *gin.Context, field string) {
	lang := middleware.Lang(c)
	c.JSON(http.StatusBadRequest, entity.NewResult(entity.CodeInvalidInput, locale.Msg(lang, entity.CodeInvalidInput, field), nil))
}

func statusForKind(kind entity.ErrorKind) int {
	switch kind {
	case entity.KindValidation:
		return http.StatusBadRequest
	case entity.KindNotFound:
		return http.StatusNotFound
	case entity.KindConflict:
		return http.StatusConflict
	case entity.KindForbidden:
		return http.StatusForbidden
	case entity.KindFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
