package server

import (
	"io"
	"net/http"
)

// Handler serves one request. A returned error is converted into a response
// by HandleError; handlers return nil once they have answered themselves.
type Handler interface {
	ServeRequest(w *ResponseWriter, req *http.Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w *ResponseWriter, req *http.Request) error

func (f HandlerFunc) ServeRequest(w *ResponseWriter, req *http.Request) error {
	return f(w, req)
}

// ResponseWriter wraps an http.ResponseWriter and records what has been sent,
// plus the per-request details that end up in the access log.
type ResponseWriter struct {
	http.ResponseWriter

	status      int
	written     int64
	wroteHeader bool

	failReason string
	logRange   string
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w}
}

func (w *ResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *ResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// ReadFrom keeps the underlying writer's sendfile path available to io.Copy.
func (w *ResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	var (
		n   int64
		err error
	)
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(r)
	} else {
		n, err = io.Copy(struct{ io.Writer }{w.ResponseWriter}, r)
	}
	w.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *ResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Status is the status sent, or 200 when the handler never wrote one.
func (w *ResponseWriter) Status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}

// HeadersSent reports whether the status line has been written.
func (w *ResponseWriter) HeadersSent() bool { return w.wroteHeader }

// BytesWritten counts body bytes handed to the underlying writer.
func (w *ResponseWriter) BytesWritten() int64 { return w.written }

// Fail answers with status and an empty body and records reason for the
// access log's error stream.
func (w *ResponseWriter) Fail(status int, reason string) {
	w.WriteHeader(status)
	w.failReason = reason
}

// FailReason is the reason passed to Fail, if any.
func (w *ResponseWriter) FailReason() string { return w.failReason }

// SetLogRange records a byte-range string for the access log line.
func (w *ResponseWriter) SetLogRange(r string) { w.logRange = r }

// LogRange is the value passed to SetLogRange.
func (w *ResponseWriter) LogRange() string { return w.logRange }
