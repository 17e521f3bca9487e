package staticfileserver

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a resolved path.
type Kind int

const (
	KindMissing Kind = iota
	KindDirectory
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "missing"
	}
}

// RequestContext is the per-request result of path resolution.
type RequestContext struct {
	// URLPath is the decoded request path with trailing slashes collapsed.
	URLPath string
	// ResolvedPath is the filesystem path under the root.
	ResolvedPath string
	Kind         Kind
	// Info is the stat result for directories and files, nil when missing.
	Info os.FileInfo
}

// Resolve maps an escaped URL path onto root and classifies the result.
// Paths that fail to decode, escape root, or cannot be stat'ed are
// KindMissing.
func Resolve(root, escapedPath string) RequestContext {
	urlPath, err := url.PathUnescape(escapedPath)
	if err != nil {
		return RequestContext{URLPath: escapedPath, Kind: KindMissing}
	}
	urlPath = collapseTrailingSlashes(urlPath)
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}

	rc := RequestContext{
		URLPath:      urlPath,
		ResolvedPath: filepath.Join(root, filepath.FromSlash(urlPath[1:])),
		Kind:         KindMissing,
	}
	if !withinRoot(root, rc.ResolvedPath) {
		return rc
	}

	fi, err := os.Stat(rc.ResolvedPath)
	if err != nil {
		return rc
	}
	// Join drops the trailing slash; "/file.txt/" does not name a file.
	if strings.HasSuffix(urlPath, "/") && !fi.IsDir() {
		return rc
	}
	rc.Info = fi
	if fi.IsDir() {
		rc.Kind = KindDirectory
	} else {
		rc.Kind = KindFile
	}
	return rc
}

// collapseTrailingSlashes turns a trailing run of "/" into a single "/".
func collapseTrailingSlashes(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if len(trimmed) < len(p) {
		return trimmed + "/"
	}
	return p
}

// withinRoot reports whether the cleaned path p lies at or under root.
func withinRoot(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
