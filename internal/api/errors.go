package api

import (
	"net/http"

	"booking-service/internal/apperr"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindInvalidState: http.StatusConflict,
	apperr.KindNotFound:     http.StatusNotFound,
}

// respondError writes a domain error with its code, or a bare 500 for anything else.
func respondError(c *gin.Context, err error) {
	if e, ok := apperr.As(err); ok {
		status, known := statusByKind[e.Kind]
		if !known {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"error": e.Message,
			"code":  e.Code,
			"kind":  e.Kind,
		})
		return
	}

	util.GetLogger().Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal server error",
	})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
