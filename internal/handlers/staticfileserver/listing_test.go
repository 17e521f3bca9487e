package staticfileserver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("0123456789"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dotfile"), nil, 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "sub"), filepath.Join(dir, "link-to-sub")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "dangling")))

	l, err := ReadListing(dir, "/")
	require.NoError(t, err)
	assert.Equal(t, "/", l.DisplayPath)

	byName := map[string]ListingEntry{}
	for _, e := range l.Entries {
		byName[e.Name] = e
	}
	require.Len(t, byName, 5)

	assert.False(t, byName["a.txt"].IsDir)
	assert.Equal(t, int64(10), byName["a.txt"].Size)
	assert.Equal(t, "a.txt", byName["a.txt"].DisplayName())

	assert.True(t, byName["sub"].IsDir)
	assert.Equal(t, "sub/", byName["sub"].DisplayName())

	assert.True(t, byName["link-to-sub"].IsDir, "symlinks are followed")
	assert.Contains(t, byName, ".dotfile", "dotfiles are listed")

	assert.Error(t, byName["dangling"].StatErr)
	assert.False(t, byName["dangling"].IsDir)
}

func TestReadListing_Missing(t *testing.T) {
	_, err := ReadListing(filepath.Join(t.TempDir(), "nope"), "/nope")
	assert.ErrorContains(t, err, "could not open directory")
}

func renderToDoc(t *testing.T, l *DirectoryListing) *goquery.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, RenderListing(&buf, l))
	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return doc
}

func TestRenderListing(t *testing.T) {
	mod := time.Date(2024, time.March, 5, 7, 8, 0, 0, time.UTC)
	l := &DirectoryListing{
		DisplayPath: "/docs & notes/",
		Entries: []ListingEntry{
			{Name: "z last.txt", Size: 2048, ModTime: mod},
			{Name: "a-dir", IsDir: true, ModTime: mod},
			{Name: "<script>.html", Size: 1, ModTime: mod},
		},
	}
	doc := renderToDoc(t, l)

	assert.Equal(t, "Index of /docs & notes/", doc.Find("title").Text())
	assert.Equal(t, "Index of /docs & notes/", doc.Find("h1").Text())

	parent := doc.Find("a.parent")
	require.Equal(t, 1, parent.Length())
	href, _ := parent.Attr("href")
	assert.Equal(t, "/", href)

	var names, hrefs []string
	doc.Find("a.entry").Each(func(_ int, s *goquery.Selection) {
		names = append(names, s.Text())
		h, _ := s.Attr("href")
		hrefs = append(hrefs, h)
	})
	assert.Equal(t, []string{"z last.txt", "a-dir/", "<script>.html"}, names, "enumeration order is preserved")
	assert.Equal(t, []string{
		"/docs%20&%20notes/z%20last.txt",
		"/docs%20&%20notes/a-dir/",
		"/docs%20&%20notes/%3Cscript%3E.html",
	}, hrefs)

	pre := doc.Find("pre").Text()
	assert.Contains(t, pre, "05-Mar-2024 07:08")
	assert.Contains(t, pre, "2.0 kB")
}

func TestRenderListing_RootHasNoParent(t *testing.T) {
	doc := renderToDoc(t, &DirectoryListing{DisplayPath: "/"})
	assert.Equal(t, 0, doc.Find("a.parent").Length())
	assert.Equal(t, 0, doc.Find("a.entry").Length())
}

func TestRenderListing_NestedParent(t *testing.T) {
	doc := renderToDoc(t, &DirectoryListing{DisplayPath: "/a/b"})
	href, ok := doc.Find("a.parent").Attr("href")
	require.True(t, ok)
	assert.Equal(t, "/a/", href)

	doc = renderToDoc(t, &DirectoryListing{
		DisplayPath: "/a/b",
		Entries:     []ListingEntry{{Name: "c"}},
	})
	entryHref, _ := doc.Find("a.entry").Attr("href")
	assert.Equal(t, "/a/b/c", entryHref)
}
