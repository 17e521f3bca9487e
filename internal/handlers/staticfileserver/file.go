package staticfileserver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"example.com/simplehttp/internal/server"
)

// rangeSupportThreshold is the size above which byte ranges are honoured.
const rangeSupportThreshold = 3 << 20

// conditionalHeaders are dropped before range handling; files are always
// sent in full or by range, never as 304/412.
var conditionalHeaders = []string{
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-Unmodified-Since",
	"If-Range",
}

// FileHeaders returns the response headers for a file of the given stat and
// content type.
func FileHeaders(info os.FileInfo, contentType string) http.Header {
	h := make(http.Header)
	h.Set("Access-Control-Allow-Methods", "GET")
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", `inline; filename="`+encodeURIComponent(info.Name())+`"`)
	if contentType == mimeOctetStream {
		h.Set("Cache-Control", "no-transform")
	} else {
		h.Set("Cache-Control", "public, max-age=3600")
	}
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	return h
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return componentReplacer.Replace(escaped)
}

var componentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// fsError maps a filesystem failure onto a logged HTTP error.
func fsError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		status = http.StatusForbidden
	}
	return server.NewHTTPError(status, err.Error(), err)
}

// serveFile streams the file at path. Files larger than
// rangeSupportThreshold advertise and honour byte ranges; smaller files are
// always sent whole.
func serveFile(w *server.ResponseWriter, req *http.Request, path string, info os.FileInfo, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fsError(err)
	}
	defer f.Close()

	// The file may have changed between resolution and open.
	if fi, err := f.Stat(); err == nil {
		if fi.IsDir() {
			return fsError(fmt.Errorf("%s: %w", path, fs.ErrNotExist))
		}
		info = fi
	}

	h := w.Header()
	for k, v := range FileHeaders(info, contentType) {
		h[k] = v
	}

	if info.Size() > rangeSupportThreshold {
		serveRanges(w, req, f)
		return nil
	}

	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("streaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

// serveRanges hands the file to http.ServeContent with conditional headers
// removed and no modification time, so only Range is acted on.
func serveRanges(w *server.ResponseWriter, req *http.Request, f *os.File) {
	r := req.Clone(req.Context())
	for _, name := range conditionalHeaders {
		r.Header.Del(name)
	}
	http.ServeContent(&rangeErrorWriter{ResponseWriter: w}, r, "", time.Time{}, f)
}

// rangeErrorWriter drops the plain-text body http.ServeContent writes for
// unsatisfiable ranges; error responses stay empty-bodied.
type rangeErrorWriter struct {
	*server.ResponseWriter
	failed bool
}

func (rw *rangeErrorWriter) WriteHeader(code int) {
	if code >= http.StatusBadRequest {
		rw.failed = true
		h := rw.Header()
		h.Del("Content-Type")
		h.Del("X-Content-Type-Options")
		h.Set("Content-Length", "0")
		rw.ResponseWriter.Fail(code, http.StatusText(code))
		return
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rangeErrorWriter) Write(p []byte) (int, error) {
	if rw.failed {
		return len(p), nil
	}
	return rw.ResponseWriter.Write(p)
}
