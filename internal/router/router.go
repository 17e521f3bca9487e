package router

import (
	"fmt"
	"net/http"
	"time"

	"example.com/simplehttp/internal/logger"
	"example.com/simplehttp/internal/server"
)

// allowHeader is sent with 405 responses.
const allowHeader = "GET, HEAD"

// Router is the catch-all route: every GET or HEAD request, whatever its
// path, goes to one handler. It converts handler errors into responses and
// writes the access log line once the response is complete.
type Router struct {
	handler server.Handler
	log     *logger.Logger
}

// NewRouter creates a Router dispatching to handler.
func NewRouter(handler server.Handler, lg *logger.Logger) (*Router, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Router{handler: handler, log: lg}, nil
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	start := time.Now()
	w := server.NewResponseWriter(rw)

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", allowHeader)
		w.Fail(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
		r.logAccess(w, req, start)
		return
	}

	err := r.dispatch(w, req)
	if err == nil {
		r.logAccess(w, req, start)
		return
	}
	if w.HeadersSent() {
		// The status is already on the wire; the line carries it with the
		// failure appended.
		server.HandleError(w, req, err, r.log)
		w.Fail(w.Status(), err.Error())
		r.logAccess(w, req, start)
		return
	}
	if server.HandleError(w, req, err, r.log) {
		return
	}

	r.log.Error("Unhandled error while serving request", logger.LogFields{
		"method": req.Method,
		"uri":    req.RequestURI,
		"error":  err.Error(),
	})
	w.WriteHeader(http.StatusInternalServerError)
	r.log.Access(logger.AccessEntry{
		Request:       req,
		Time:          time.Now(),
		Status:        http.StatusInternalServerError,
		Duration:      time.Since(start),
		Err:           http.StatusText(http.StatusInternalServerError),
		OmitUserAgent: true,
	})
}

// dispatch calls the handler, turning a panic into an unhandled error.
// http.ErrAbortHandler keeps its meaning and is re-raised.
func (r *Router) dispatch(w *server.ResponseWriter, req *http.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return r.handler.ServeRequest(w, req)
}

func (r *Router) logAccess(w *server.ResponseWriter, req *http.Request, start time.Time) {
	r.log.Access(logger.AccessEntry{
		Request:  req,
		Time:     time.Now(),
		Status:   w.Status(),
		Bytes:    w.BytesWritten(),
		Duration: time.Since(start),
		Range:    w.LogRange(),
		Err:      w.FailReason(),
	})
}
