package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/startdusk/filebox/internal/logger"
)

// ResponseWriter wraps http.ResponseWriter to capture the status code and
// the number of body bytes written.
type ResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// NewResponseWriter wraps w. The status defaults to 200 until WriteHeader
// is called.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush forwards to the underlying writer when it supports flushing.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// StatusCode returns the status sent, or 200 if none was set explicitly.
func (rw *ResponseWriter) StatusCode() int {
	return rw.statusCode
}

// Status is an alias of StatusCode.
func (rw *ResponseWriter) Status() int {
	return rw.statusCode
}

// BytesWritten returns the number of body bytes written so far.
func (rw *ResponseWriter) BytesWritten() int {
	return rw.size
}

// Written reports whether the header has been sent.
func (rw *ResponseWriter) Written() bool {
	return rw.wroteHeader
}

// ClientIP returns the address of the remote peer for logging. It prefers
// the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ErrorResponse is the JSON body of every error the service writes.
type ErrorResponse struct {
	Code          int    `json:"code"`
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteJSON writes v as the JSON response body
func WriteJSON(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// WriteJSONStatus sets the content type and status and writes v as JSON.
func WriteJSONStatus(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return WriteJSON(w, v)
}

// WriteError writes an ErrorResponse carrying the request's correlation id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, errorCode, message string) {
	correlationID := logger.GetCorrelationID(r.Context())
	resp := ErrorResponse{
		Code:          status,
		Error:         errorCode,
		Message:       message,
		CorrelationID: correlationID,
	}

	if err := WriteJSONStatus(w, status, resp); err != nil {
		logger.Get().WithComponent("middleware").WithCorrelationID(correlationID).Error("failed to encode error response", logger.Fields{
			"error": err.Error(),
		})
	}
}
