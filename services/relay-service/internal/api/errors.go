package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/relay"
)

var kindStatus = map[relay.Kind]int{
	relay.KindValidation:   http.StatusBadRequest,
	relay.KindUnauthorized: http.StatusUnauthorized,
	relay.KindForbidden:    http.StatusForbidden,
	relay.KindNotFound:     http.StatusNotFound,
	relay.KindConflict:     http.StatusConflict,
	relay.KindInternal:     http.StatusInternalServerError,
}

// respondError writes err as {"error", "code"}. Internal details are logged,
// not returned.
func respondError(c *gin.Context, err error) {
	var re *relay.Error
	if !errors.As(err, &re) {
		re = &relay.Error{Kind: relay.KindInternal, Code: relay.ErrInternal.Code, Message: relay.ErrInternal.Message, Err: err}
	}
	status, ok := kindStatus[re.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": re.Message, "code": re.Code})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message, "code": "invalid_request"})
}
