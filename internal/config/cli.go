package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrDirectoryNotExist is returned by ResolveDirectory when the served
// directory cannot be found.
var ErrDirectoryNotExist = errors.New("directory doesn't exist")

// DirectoryError reports the last path ResolveDirectory tried.
type DirectoryError struct {
	Path string
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDirectoryNotExist, e.Path)
}

func (e *DirectoryError) Unwrap() error { return ErrDirectoryNotExist }

// PowerShell escapes brackets with backticks; undo that when the literal
// path does not exist.
var backtickBracketReplacer = strings.NewReplacer("`[", "[", "`]", "]")

// ParsePort converts the positional port argument. Decimal, exponent and
// 0x/0o/0b forms are accepted; anything that is not a whole number in
// 0..65535 yields DefaultPort.
func ParsePort(arg string) int {
	arg = strings.TrimSpace(arg)
	// strconv accepts Go digit separators; a port argument never has them.
	if arg == "" || strings.Contains(arg, "_") {
		return DefaultPort
	}
	if hasIntegerPrefix(arg) {
		n, err := strconv.ParseInt(arg, 0, 64)
		if err != nil || n > 65535 {
			return DefaultPort
		}
		return int(n)
	}
	f, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultPort
	}
	if f != math.Trunc(f) || f < 0 || f > 65535 {
		return DefaultPort
	}
	return int(f)
}

// hasIntegerPrefix reports a 0x, 0o or 0b literal. Signs are not allowed
// in front of a prefix.
func hasIntegerPrefix(arg string) bool {
	if len(arg) < 2 || arg[0] != '0' {
		return false
	}
	switch arg[1] {
	case 'x', 'X', 'o', 'O', 'b', 'B':
		return true
	}
	return false
}

// ResolveDirectory turns the --directory argument into an absolute path of an
// existing directory entry. An empty dir means cwd.
func ResolveDirectory(cwd, dir string) (string, error) {
	if dir == "" {
		return cwd, nil
	}
	if filepath.IsAbs(dir) {
		dir = filepath.Clean(dir)
	} else {
		dir = filepath.Join(cwd, dir)
	}
	dir = strings.TrimSuffix(dir, `"`)

	if exists(dir) {
		return dir, nil
	}
	dir = backtickBracketReplacer.Replace(dir)
	if !exists(dir) {
		return "", &DirectoryError{Path: dir}
	}
	return dir, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
