package staticfileserver

import (
	"fmt"
	"html/template"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// ListingEntry is one direct child of a listed directory.
type ListingEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	// StatErr is set when the child could not be stat'ed; IsDir then comes
	// from the directory entry itself.
	StatErr error
}

// DisplayName is the entry name, with a trailing "/" for directories.
func (e ListingEntry) DisplayName() string {
	if e.IsDir {
		return e.Name + "/"
	}
	return e.Name
}

// DirectoryListing holds the children of a directory in enumeration order.
type DirectoryListing struct {
	DisplayPath string
	Entries     []ListingEntry
}

// ReadListing enumerates dir. Children are stat'ed through symlinks so that
// a link to a directory is listed as a directory. The order is whatever the
// filesystem returns.
func ReadListing(dir, displayPath string) (*DirectoryListing, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("could not open directory %s: %w", dir, err)
	}
	defer f.Close()

	dirEntries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %s: %w", dir, err)
	}

	listing := &DirectoryListing{
		DisplayPath: displayPath,
		Entries:     make([]ListingEntry, 0, len(dirEntries)),
	}
	for _, de := range dirEntries {
		entry := ListingEntry{Name: de.Name()}
		fi, err := os.Stat(filepath.Join(dir, de.Name()))
		if err != nil {
			entry.IsDir = de.IsDir()
			entry.StatErr = err
		} else {
			entry.IsDir = fi.IsDir()
			entry.Size = fi.Size()
			entry.ModTime = fi.ModTime()
		}
		listing.Entries = append(listing.Entries, entry)
	}
	return listing, nil
}

const listingNameWidth = 50

var listingTemplate = template.Must(template.New("listing").Funcs(template.FuncMap{
	"pad": func(name string) string {
		n := listingNameWidth - utf8.RuneCountInString(name)
		if n < 1 {
			n = 1
		}
		return strings.Repeat(" ", n)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index of {{.DisplayPath}}</title>
</head>
<body>
<h1>Index of {{.DisplayPath}}</h1>
<hr>
<pre>
{{- if .Parent}}
<a class="parent" href="{{.Parent}}">../</a>
{{- end}}
{{- range .Entries}}
<a class="entry" href="{{.Href}}">{{.Name}}</a>{{pad .Name}}{{.Modified}} {{printf "%10s" .Size}}
{{- end}}
</pre>
<hr>
</body>
</html>
`))

type listingView struct {
	DisplayPath string
	Parent      string
	Entries     []listingViewEntry
}

type listingViewEntry struct {
	Name     string
	Href     string
	Modified string
	Size     string
}

// RenderListing writes l as an HTML page.
func RenderListing(w io.Writer, l *DirectoryListing) error {
	base := escapeURLPath(l.DisplayPath)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	view := listingView{DisplayPath: l.DisplayPath}
	if trimmed := strings.TrimSuffix(l.DisplayPath, "/"); trimmed != "" {
		parent := path.Dir(trimmed)
		if !strings.HasSuffix(parent, "/") {
			parent += "/"
		}
		view.Parent = escapeURLPath(parent)
	}

	for _, e := range l.Entries {
		ve := listingViewEntry{
			Name: e.DisplayName(),
			Href: base + url.PathEscape(e.Name),
			Size: "-",
		}
		if e.IsDir {
			ve.Href += "/"
		} else if e.StatErr == nil {
			ve.Size = humanize.Bytes(uint64(e.Size))
		}
		if !e.ModTime.IsZero() {
			ve.Modified = e.ModTime.Format("02-Jan-2006 15:04")
		} else {
			ve.Modified = strings.Repeat(" ", len("02-Jan-2006 15:04"))
		}
		view.Entries = append(view.Entries, ve)
	}
	return listingTemplate.Execute(w, view)
}

// escapeURLPath percent-encodes each segment of a slash-separated path.
func escapeURLPath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
