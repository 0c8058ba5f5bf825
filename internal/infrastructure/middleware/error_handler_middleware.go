package middleware

import (
	"errors"
	"net/http"

	"callmesh/internal/core/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware maps domain errors pushed onto the gin error list to
// HTTP responses.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrParticipantNotFound),
			errors.Is(err, domain.ErrStreamNotFound),
			errors.Is(err, domain.ErrTrackNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrDisplayUnavailable):
			status = http.StatusServiceUnavailable
		}

		if status == http.StatusInternalServerError {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}

		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
