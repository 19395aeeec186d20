package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/pkg/dto"
)

// errorKind maps a core error to its HTTP status and machine-readable code.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, faceindex.ErrInvalidEventID):
		return http.StatusBadRequest, "invalid_event_id"
	case errors.Is(err, faceindex.ErrInvalidImageID):
		return http.StatusBadRequest, "invalid_image_id"
	case errors.Is(err, faceindex.ErrEventNotFound):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, faceindex.ErrImageNotFound):
		return http.StatusNotFound, "image_not_found"
	case errors.Is(err, faceindex.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, "no_face_detected"
	case errors.Is(err, faceindex.ErrExtractionFailed):
		return http.StatusBadGateway, "extraction_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorKind(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"),
			"error", err,
		)
	}
	c.JSON(status, dto.ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Code: "bad_request"})
}
