package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "portfolio-oracle/errors"
)

// respondWithError logs the technical error and returns a user-friendly message
func respondWithError(c *gin.Context, statusCode int, technicalError error, userMessage string, logger *zap.Logger, fields ...zap.Field) {
	// Log technical error with context
	if logger != nil {
		fields = append(fields, zap.Error(technicalError), zap.String("path", c.FullPath()))
		logger.Error("Request failed", fields...)
	}

	// Return user-friendly message
	c.JSON(statusCode, gin.H{"error": userMessage})
}

// respondWithClientError returns a client error (no logging needed for validation errors)
func respondWithClientError(c *gin.Context, statusCode int, userMessage string) {
	c.JSON(statusCode, gin.H{"error": userMessage})
}

// respondWithAppError maps the error categories onto HTTP statuses. Only
// invalid input echoes the error text back to the client.
func respondWithAppError(c *gin.Context, err error, logger *zap.Logger, fields ...zap.Field) {
	switch {
	case apperrors.IsInvalidInput(err):
		respondWithClientError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrEmptyDocument):
		respondWithClientError(c, http.StatusUnprocessableEntity, "The document contains no readable text.")
	case apperrors.IsNotFound(err):
		respondWithClientError(c, http.StatusNotFound, "Not found.")
	case apperrors.IsUnauthorized(err):
		respondWithClientError(c, http.StatusUnauthorized, "Unauthorized.")
	case apperrors.IsServiceUnavailable(err):
		respondWithError(c, http.StatusServiceUnavailable, err, "The Oracle's memory is clouded. Please try again later.", logger, fields...)
	default:
		respondWithError(c, http.StatusInternalServerError, err, "Something went wrong. Please try again later.", logger, fields...)
	}
}
