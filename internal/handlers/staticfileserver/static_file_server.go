package staticfileserver

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"example.com/simplehttp/internal/config"
	"example.com/simplehttp/internal/logger"
	"example.com/simplehttp/internal/server"
)

// StaticFileServer serves one root directory: listings for directories,
// file contents for everything else.
type StaticFileServer struct {
	root         string
	log          *logger.Logger
	mimeResolver *MimeTypeResolver
}

// New creates a StaticFileServer for the directory and MIME settings in cfg.
func New(cfg *config.Config, lg *logger.Logger) (*StaticFileServer, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, fmt.Errorf("StaticFileServer: server configuration is missing")
	}
	if cfg.Server.Directory == "" {
		return nil, fmt.Errorf("StaticFileServer: directory is not configured")
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	mimeTypesPath := ""
	if cfg.MimeTypesPath != nil {
		mimeTypesPath = *cfg.MimeTypesPath
	}
	mimeResolver, err := NewMimeTypeResolver(cfg.MimeTypes, mimeTypesPath)
	if err != nil {
		return nil, fmt.Errorf("StaticFileServer: failed to create MimeTypeResolver: %w", err)
	}

	return &StaticFileServer{
		root:         cfg.Server.Directory,
		log:          lg,
		mimeResolver: mimeResolver,
	}, nil
}

// ServeRequest implements server.Handler.
func (sfs *StaticFileServer) ServeRequest(w *server.ResponseWriter, req *http.Request) error {
	rc := Resolve(sfs.root, req.URL.EscapedPath())

	switch rc.Kind {
	case KindDirectory:
		return sfs.handleDirectory(w, req, rc)
	case KindFile:
		return sfs.handleFile(w, req, rc)
	default:
		if rc.ResolvedPath != "" && !withinRoot(sfs.root, rc.ResolvedPath) {
			sfs.log.Warn("StaticFileServer: Attempt to access path outside document root", logger.LogFields{
				"requested_path": rc.URLPath,
				"resolved_path":  rc.ResolvedPath,
				"document_root":  sfs.root,
			})
		}
		w.Fail(http.StatusNotFound, "Path does not exist")
		return nil
	}
}

func (sfs *StaticFileServer) handleDirectory(w *server.ResponseWriter, req *http.Request, rc RequestContext) error {
	if rng := req.Header.Get("Range"); rng != "" {
		w.SetLogRange(rng[strings.LastIndex(rng, "=")+1:])
	}

	listing, err := ReadListing(rc.ResolvedPath, rc.URLPath)
	if err != nil {
		sfs.log.Error("Error reading directory for listing", logger.LogFields{"dirPath": rc.ResolvedPath, "error": err.Error()})
		return fsError(err)
	}
	for _, e := range listing.Entries {
		if e.StatErr != nil {
			sfs.log.Warn("Could not stat directory entry", logger.LogFields{"entry": e.Name, "dirPath": rc.ResolvedPath, "error": e.StatErr.Error()})
		}
	}

	var body bytes.Buffer
	if err := RenderListing(&body, listing); err != nil {
		return fmt.Errorf("rendering listing for %s: %w", rc.URLPath, err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return nil
	}
	_, err = w.Write(body.Bytes())
	return err
}

func (sfs *StaticFileServer) handleFile(w *server.ResponseWriter, req *http.Request, rc RequestContext) error {
	contentType := sfs.mimeResolver.ContentType(rc.ResolvedPath)
	sfs.log.Debug("Serving file", logger.LogFields{"path": rc.ResolvedPath, "content_type": contentType, "size": rc.Info.Size()})
	return serveFile(w, req, rc.ResolvedPath, rc.Info, contentType)
}
