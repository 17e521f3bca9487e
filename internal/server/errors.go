package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/simplehttp/internal/logger"
)

// ErrorKind tags a RequestError.
type ErrorKind int

const (
	// ErrorKindUnhandled errors are passed up to the caller of HandleError.
	ErrorKindUnhandled ErrorKind = iota
	// ErrorKindHTTP carries a status and a message; it is logged.
	ErrorKindHTTP
	// ErrorKindRawStatus carries only a status; it is not logged.
	ErrorKindRawStatus
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindHTTP:
		return "http"
	case ErrorKindRawStatus:
		return "raw_status"
	default:
		return "unhandled"
	}
}

// RequestError is a failure that escaped a handler's normal response path.
type RequestError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case ErrorKindHTTP:
		if e.Err != nil {
			return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
		}
		return fmt.Sprintf("%d %s", e.Status, e.Message)
	case ErrorKindRawStatus:
		return fmt.Sprintf("status %d", e.Status)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "unhandled request error"
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewHTTPError returns an error answered with status and an empty body, and
// logged with message.
func NewHTTPError(status int, message string, cause error) error {
	return &RequestError{Kind: ErrorKindHTTP, Status: status, Message: message, Err: cause}
}

// RawStatus returns an error answered with status and an empty body, without
// logging.
func RawStatus(status int) error {
	return &RequestError{Kind: ErrorKindRawStatus, Status: status}
}

// Classify returns the RequestError view of err. Errors that are not
// RequestErrors are ErrorKindUnhandled.
func Classify(err error) *RequestError {
	var re *RequestError
	if errors.As(err, &re) {
		return re
	}
	return &RequestError{Kind: ErrorKindUnhandled, Err: err}
}

// HandleError turns an error returned by a handler into a response. It
// reports false when the error is unhandled and must be dealt with by the
// caller; in that case nothing has been written.
func HandleError(w *ResponseWriter, req *http.Request, err error, lg *logger.Logger) bool {
	if w.HeadersSent() {
		// Status is already on the wire; the response simply ends here.
		lg.Error("Request failed after response headers were sent", logger.LogFields{
			"uri":           req.RequestURI,
			"status":        w.Status(),
			"bytes_written": w.BytesWritten(),
			"error":         err.Error(),
		})
		return true
	}

	re := Classify(err)
	switch re.Kind {
	case ErrorKindHTTP:
		status := sanitizeStatus(re.Status)
		w.WriteHeader(status)
		lg.Access(logger.AccessEntry{
			Request:       req,
			Time:          time.Now(),
			Status:        status,
			Err:           re.Message,
			OmitUserAgent: true,
		})
		return true
	case ErrorKindRawStatus:
		w.WriteHeader(sanitizeStatus(re.Status))
		return true
	default:
		return false
	}
}

// sanitizeStatus maps codes net/http would panic on to 500.
func sanitizeStatus(status int) int {
	if status < 100 || status > 999 {
		return http.StatusInternalServerError
	}
	return status
}
