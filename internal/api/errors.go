package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jobchat/internal/messaging"
)

var errForbidden = errors.New("userId does not match the authenticated user")

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, messaging.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errNoIdentity), errors.Is(err, errBadToken), errors.Is(err, errWrongSubject):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Storage details stay in the log.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err,
		}).Error("api: request failed")
		abort(c, status, errors.New("internal error"))
		return
	}
	abort(c, status, err)
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
