package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LogEntryCtxKey  ContextKey = "LogEntry"
	SessionCtxKey   ContextKey = "Session"
	EnvCtxKey       ContextKey = "Env"
)

// maxBodyBytes caps request bodies decoded by BindOrError.
const maxBodyBytes = 1 << 20

// RequestID returns the id assigned by the RequestID middleware, or "".
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDCtxKey).(string)
	return id
}

// Env returns the name of the environment serving r, or "".
func Env(r *http.Request) string {
	env, _ := r.Context().Value(EnvCtxKey).(string)
	return env
}

// Logger returns the request logger placed in the context by the logger
// middleware, or a no-op logger.
func Logger(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(LogEntryCtxKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// BindOrError decodes the JSON body of r into dst, keeping numbers as
// json.Number. If decoding fails, it responds with 400 Bad Request.
func BindOrError(r *http.Request, w http.ResponseWriter, dst any) error {
	if err := Bind(r, dst); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return err
	}
	return nil
}

// Bind decodes exactly one JSON value from the body of r into dst.
func Bind(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Text writes a plain text response with the given status code and text content.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(text)); err != nil {
		http.Error(w, "Failed to write response", http.StatusInternalServerError)
	}
}

// ErrorResponse represents a structured error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Error sends a JSON response with an error code and message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorResponse{Code: statusCode, Message: message})
}
