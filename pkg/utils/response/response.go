// Package response provides the unified API response envelope.
// Successful pipeline payloads (such as /ask results) may be written as is;
// every error goes through Fail so clients always see {code, message}.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/finrag/pkg/utils/errors"
)

// ContextKeyRequestID is the gin context key holding the request id.
const ContextKeyRequestID = "request_id"

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload (nil for errors)
	Data interface{} `json:"data,omitempty"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`

	// Timestamp is the response timestamp (Unix milliseconds)
	Timestamp int64 `json:"timestamp,omitempty"`

	httpStatus int
}

// Success creates a successful response with data.
func Success(data interface{}) *Response {
	return &Response{
		Code:       errors.OK.Code,
		Message:    "success",
		Data:       data,
		httpStatus: http.StatusOK,
	}
}

// Err creates an error response from an Errno. The message includes the
// wrapped cause so callers see the full error string.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{
		Code:       e.Code,
		Message:    e.Error(),
		httpStatus: e.HTTPStatus(),
	}
}

// WithStatus overrides the HTTP status derived from the error code.
func (r *Response) WithStatus(status int) *Response {
	r.httpStatus = status
	return r
}

// HTTPStatus returns the HTTP status code for this response.
func (r *Response) HTTPStatus() int {
	if r.httpStatus != 0 {
		return r.httpStatus
	}
	if r.Code == 0 {
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Code == 0
}

// Write sends r as JSON, stamping request id and timestamp.
func Write(c *gin.Context, r *Response) {
	r.RequestID = c.GetString(ContextKeyRequestID)
	r.Timestamp = time.Now().UnixMilli()
	c.JSON(r.HTTPStatus(), r)
}

// OK writes a success envelope with data.
func OK(c *gin.Context, data interface{}) {
	Write(c, Success(data))
}

// Fail writes an error envelope and aborts the handler chain.
func Fail(c *gin.Context, e *errors.Errno) {
	r := Err(e)
	r.RequestID = c.GetString(ContextKeyRequestID)
	r.Timestamp = time.Now().UnixMilli()
	c.AbortWithStatusJSON(r.HTTPStatus(), r)
}

// FailWithStatus writes an error envelope with an explicit HTTP status.
func FailWithStatus(c *gin.Context, status int, e *errors.Errno) {
	r := Err(e).WithStatus(status)
	r.RequestID = c.GetString(ContextKeyRequestID)
	r.Timestamp = time.Now().UnixMilli()
	c.AbortWithStatusJSON(status, r)
}
