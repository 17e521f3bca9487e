package staticfileserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("0123456789"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "my file é.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0o644))

	tests := []struct {
		name      string
		path      string
		wantKind  Kind
		wantURL   string
		wantLocal string
	}{
		{"root", "/", KindDirectory, "/", root},
		{"file", "/a.txt", KindFile, "/a.txt", filepath.Join(root, "a.txt")},
		{"directory without slash", "/sub", KindDirectory, "/sub", filepath.Join(root, "sub")},
		{"trailing slashes collapsed", "/sub///", KindDirectory, "/sub/", filepath.Join(root, "sub")},
		{"percent decoded", "/sub/my%20file%20%C3%A9.txt", KindFile, "/sub/my file é.txt", filepath.Join(root, "sub", "my file é.txt")},
		{"dotfile", "/.hidden", KindFile, "/.hidden", filepath.Join(root, ".hidden")},
		{"missing", "/missing", KindMissing, "/missing", filepath.Join(root, "missing")},
		{"file with trailing slash", "/a.txt/", KindMissing, "/a.txt/", filepath.Join(root, "a.txt")},
		{"dot segments inside root", "/sub/../a.txt", KindFile, "/sub/../a.txt", filepath.Join(root, "a.txt")},
		{"bad escape", "/%zz", KindMissing, "/%zz", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rc := Resolve(root, tc.path)
			assert.Equal(t, tc.wantKind, rc.Kind, rc.Kind.String())
			assert.Equal(t, tc.wantURL, rc.URLPath)
			assert.Equal(t, tc.wantLocal, rc.ResolvedPath)
			if tc.wantKind == KindMissing {
				assert.Nil(t, rc.Info)
			} else {
				assert.NotNil(t, rc.Info)
			}
		})
	}
}

func TestResolve_RejectsTraversal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("s"), 0o644))

	for _, p := range []string{"/../secret.txt", "/..%2Fsecret.txt", "/sub/../../secret.txt", "/.."} {
		t.Run(p, func(t *testing.T) {
			rc := Resolve(root, p)
			assert.Equal(t, KindMissing, rc.Kind)
			assert.False(t, withinRoot(root, rc.ResolvedPath))
		})
	}
}

func TestCollapseTrailingSlashes(t *testing.T) {
	assert.Equal(t, "/", collapseTrailingSlashes("/"))
	assert.Equal(t, "/", collapseTrailingSlashes("///"))
	assert.Equal(t, "/a/", collapseTrailingSlashes("/a//"))
	assert.Equal(t, "/a", collapseTrailingSlashes("/a"))
	assert.Equal(t, "/a//b/", collapseTrailingSlashes("/a//b/"))
}

func TestWithinRoot(t *testing.T) {
	root := filepath.FromSlash("/srv/www")
	assert.True(t, withinRoot(root, root))
	assert.True(t, withinRoot(root, filepath.FromSlash("/srv/www/a/b")))
	assert.True(t, withinRoot(root, filepath.FromSlash("/srv/www/..a")))
	assert.False(t, withinRoot(root, filepath.FromSlash("/srv")))
	assert.False(t, withinRoot(root, filepath.FromSlash("/srv/www-other")))
}
