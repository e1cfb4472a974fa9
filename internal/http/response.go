// Package http serves the ledger as a local JSON API.
//
// This file implements the builder used by every handler to assemble a
// response, plus the mapping from ledger errors to status codes.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"skarbnik/internal/core"
	"skarbnik/internal/services"
	"skarbnik/internal/transfer"
)

// ResponseBuilder provides a fluent API for building responses.
type ResponseBuilder struct {
	statusCode int
	body       []byte
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets a raw body with its content type.
func (b *ResponseBuilder) Body(content []byte, contentType string) *ResponseBuilder {
	b.headers["Content-Type"] = contentType
	b.body = content
	return b
}

// JSON encodes v as the body. An encoding failure turns the response into
// a 500.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		b.statusCode = http.StatusInternalServerError
		data = []byte(`{"error":"response could not be encoded"}`)
	}
	return b.Body(append(data, '\n'), "application/json")
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).JSON(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// ErrorFor maps an error returned by the ledger to a response.
func ErrorFor(err error) *ResponseBuilder {
	var (
		verr   *core.ValidationError
		ferr   *transfer.FormatError
		reqErr *requestError
	)
	switch {
	case errors.As(err, &reqErr):
		return BadRequestError(reqErr.Error())
	case errors.As(err, &ferr), errors.Is(err, transfer.ErrUnknownFormat):
		return BadRequestError(err.Error())
	case errors.As(err, &verr):
		return NewResponse().
			Status(http.StatusUnprocessableEntity).
			JSON(errorBody{Error: verr.Err.Error(), Field: verr.Field})
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidMode):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, services.ErrPersist):
		return InternalServerError("change applied but the ledger could not be saved")
	default:
		return InternalServerError("internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewResponse().Status(status).JSON(v).Write(w)
}

func writeError(w http.ResponseWriter, err error) {
	ErrorFor(err).Write(w)
}
