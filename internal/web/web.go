// Package web provides small helpers shared by all HTTP handlers: the
// response envelope and a status-capturing ResponseWriter.
package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// Envelope is the wire shape of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("json encode", "err", err)
	}
}

// OK writes a 200 success envelope wrapping data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Fail writes a failure envelope. code may be empty; it is omitted from
// the payload in that case.
func Fail(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Envelope{Success: false, Error: message, Code: code})
}

// FailErr writes a failure envelope without a code.
func FailErr(w http.ResponseWriter, status int, err error) {
	Fail(w, status, "", err.Error())
}

// StatusWriter wraps ResponseWriter to capture the status code.
// It preserves Hijacker and Flusher interfaces for WebSocket/SSE support.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter is not a Hijacker")
}

func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
