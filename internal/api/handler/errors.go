package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"github.com/jmerrifield20/uavledger/internal/journal"
	"go.uber.org/zap"
)

// statusFor maps an error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, faults.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, journal.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, faults.ErrLedgerRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, faults.ErrNotConnected),
		errors.Is(err, faults.ErrTransientIO),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status of its class. Server-side
// failures are logged and their detail withheld.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
