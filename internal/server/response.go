package server

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ivlev/dance2video/internal/stage"
)

const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	CodeStageFailed      = "STAGE_FAILED"
	CodeStageTimeout     = "STAGE_TIMEOUT"
	CodeRenderFailed     = "RENDER_FAILED"
	CodeBusy             = "BUSY"
	CodeServiceError     = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Stage   string      `json:"stage,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func errorJSON(c *fiber.Ctx, status int, detail ErrorDetail) error {
	return c.Status(status).JSON(ErrorResponse{Error: detail})
}

func validationError(c *fiber.Ctx, message string, details interface{}) error {
	return errorJSON(c, fiber.StatusBadRequest, ErrorDetail{Code: CodeValidationError, Message: message, Details: details})
}

// statusFor maps a pipeline error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch stage.Kind(err) {
	case stage.ErrStageTimeout:
		return fiber.StatusGatewayTimeout, CodeStageTimeout
	case stage.ErrArtifactNotFound:
		return fiber.StatusBadGateway, CodeArtifactNotFound
	case stage.ErrStageProcessFailure:
		return fiber.StatusBadGateway, CodeStageFailed
	case stage.ErrRenderFailure:
		return fiber.StatusInternalServerError, CodeRenderFailed
	}
	return fiber.StatusInternalServerError, CodeServiceError
}

func pipelineError(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	detail := ErrorDetail{Code: code, Message: err.Error()}
	var se *stage.Error
	if errors.As(err, &se) {
		detail.Stage = se.Stage
	}
	return errorJSON(c, status, detail)
}

// formatValidationErrors returns field -> failed tag.
func formatValidationErrors(err error) interface{} {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(map[string]string, len(verrs))
		for _, e := range verrs {
			out[e.Field()] = e.Tag()
		}
		return out
	}
	return nil
}

// errorHandler renders errors that escape handlers (fiber errors, panics
// recovered by middleware) in the same JSON shape.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return errorJSON(c, code, ErrorDetail{Code: CodeServiceError, Message: message})
}
