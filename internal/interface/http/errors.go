package http

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/alem-hub/achievement-engine/internal/domain/shared"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeUnavailable = "service_unavailable"
	CodeInternal    = "internal_error"
)

// classify maps an error to its HTTP status, code and client message.
// Internal failures never echo the underlying error text.
func classify(err error) ErrorResponse {
	var (
		fe   *fiber.Error
		verr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &fe):
		code := CodeInternal
		switch {
		case fe.Code == fiber.StatusNotFound:
			code = CodeNotFound
		case fe.Code < fiber.StatusInternalServerError:
			code = CodeValidation
		}
		return ErrorResponse{Code: code, Status: fe.Code, Message: fe.Message}

	case errors.As(err, &verr):
		msg := "invalid request"
		if len(verr) > 0 {
			msg = verr[0].Field() + " failed " + verr[0].Tag()
		}
		return ErrorResponse{Code: CodeValidation, Status: http.StatusBadRequest, Message: msg}

	case shared.IsValidation(err):
		return ErrorResponse{Code: CodeValidation, Status: http.StatusBadRequest, Message: messageOf(err, "invalid request")}

	case shared.IsNotFound(err):
		return ErrorResponse{Code: CodeNotFound, Status: http.StatusNotFound, Message: messageOf(err, "not found")}

	case shared.IsRetryable(err):
		return ErrorResponse{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Message: messageOf(err, "temporarily unavailable")}
	}

	return ErrorResponse{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error"}
}

// messageOf prefers the outermost domain message over the full error chain.
func messageOf(err error, fallback string) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return fallback
}

// handleError is the fiber ErrorHandler.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	resp := classify(err)
	if resp.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", resp.Status,
			"request_id", c.Locals("requestid"),
			"error", err,
		)
	}
	return c.Status(resp.Status).JSON(resp)
}
