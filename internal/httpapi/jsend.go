package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// envelope is the JSend body every route answers with. Error responses carry
// the request id so a caller can match them to the server log.
type envelope struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Status: "success", Data: data})
}

func created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, envelope{Status: "success", Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, envelope{
		Status:    "fail",
		Data:      data,
		Message:   message,
		RequestID: requestID(c),
	})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

// failBody rejects a request body that could not be read or decoded.
func failBody(c echo.Context, reason string) error {
	return failValidation(c, map[string]string{"body": reason})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func serverError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, envelope{
		Status:    "error",
		Message:   message,
		Code:      http.StatusInternalServerError,
		RequestID: requestID(c),
	})
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
