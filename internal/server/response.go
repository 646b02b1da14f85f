package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allbin/busscan"
)

// APIResponse is the body of every HTTP reply
type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError carries the failure details. ProtocolCode is the executor's
// error code when the failure came from the bus.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      string `json:"details,omitempty"`
	ProtocolCode *int   `json:"protocol_code,omitempty"`
}

func successResponse(c *gin.Context, statusCode int, message string, data any) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

func errorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    getErrorCode(statusCode),
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
		var pe *busscan.ProtocolError
		if errors.As(err, &pe) {
			code := pe.Code
			apiError.ProtocolCode = &code
		}
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// statusFor maps a bus operation error to an HTTP status.
func statusFor(err error) int {
	var pe *busscan.ProtocolError
	switch {
	case errors.As(err, &pe):
		switch pe.Code {
		case busscan.CodeWrongParam:
			return http.StatusBadRequest
		case busscan.CodeWrongPort:
			return http.StatusServiceUnavailable
		case busscan.CodeTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, busscan.ErrRequestPending):
		return http.StatusConflict
	case errors.Is(err, busscan.ErrNoChannel),
		errors.Is(err, busscan.ErrChannelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, busscan.ErrMalformedReply):
		return http.StatusBadGateway
	case errors.Is(err, busscan.ErrInvalidConfig),
		errors.Is(err, busscan.ErrInvalidBaudRate):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func getRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusBadGateway:
		return "BAD_GATEWAY"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "GATEWAY_TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}
