package response

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeGone            = "GONE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeDuplicate       = "DUPLICATE_UPLOAD"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeServiceError    = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func ValidationError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message)
}

func PayloadTooLarge(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message)
}

// Conflict reports a request that does not fit the job's current state.
func Conflict(c *fiber.Ctx, message, status string) error {
	return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
		Error:  message,
		Code:   CodeConflict,
		Status: status,
	})
}

func Gone(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusGone, CodeGone, message)
}

func RateLimited(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, message)
}

func Duplicate(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusTooManyRequests, CodeDuplicate, message)
}

func Unavailable(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeUnavailable, message)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}
