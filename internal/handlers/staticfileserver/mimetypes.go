package staticfileserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"example.com/simplehttp/internal/config"
)

// defaultMimeTypes is consulted after custom mappings and before the
// system table, so common types do not depend on the host's mime.types.
// Values carry no parameters; charsets are added by ContentType.
var defaultMimeTypes = map[string]string{
	".aac":    "audio/aac",
	".abw":    "application/x-abiword",
	".apng":   "image/apng",
	".arc":    "application/x-freearc",
	".avif":   "image/avif",
	".avi":    "video/x-msvideo",
	".azw":    "application/vnd.amazon.ebook",
	".bin":    "application/octet-stream",
	".bmp":    "image/bmp",
	".bz":     "application/x-bzip",
	".bz2":    "application/x-bzip2",
	".cda":    "application/x-cdf",
	".csh":    "application/x-csh",
	".css":    "text/css",
	".csv":    "text/csv",
	".doc":    "application/msword",
	".docx":   "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eot":    "application/vnd.ms-fontobject",
	".epub":   "application/epub+zip",
	".gz":     "application/gzip",
	".gif":    "image/gif",
	".htm":    "text/html",
	".html":   "text/html",
	".ico":    "image/vnd.microsoft.icon",
	".ics":    "text/calendar",
	".jar":    "application/java-archive",
	".jpeg":   "image/jpeg",
	".jpg":    "image/jpeg",
	".js":     "text/javascript",
	".json":   "application/json",
	".jsonld": "application/ld+json",
	".map":    "application/json",
	".md":     "text/markdown",
	".mid":    "audio/midi",
	".midi":   "audio/midi",
	".mjs":    "text/javascript",
	".mp3":    "audio/mpeg",
	".mp4":    "video/mp4",
	".mpeg":   "video/mpeg",
	".mpkg":   "application/vnd.apple.installer+xml",
	".odp":    "application/vnd.oasis.opendocument.presentation",
	".ods":    "application/vnd.oasis.opendocument.spreadsheet",
	".odt":    "application/vnd.oasis.opendocument.text",
	".oga":    "audio/ogg",
	".ogv":    "video/ogg",
	".ogx":    "application/ogg",
	".opus":   "audio/opus",
	".otf":    "font/otf",
	".png":    "image/png",
	".pdf":    "application/pdf",
	".php":    "application/x-httpd-php",
	".ppt":    "application/vnd.ms-powerpoint",
	".pptx":   "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rar":    "application/vnd.rar",
	".rtf":    "application/rtf",
	".sh":     "application/x-sh",
	".svg":    "image/svg+xml",
	".tar":    "application/x-tar",
	".tif":    "image/tiff",
	".tiff":   "image/tiff",
	".ts":     "video/mp2t",
	".ttf":    "font/ttf",
	".txt":    "text/plain",
	".vsd":    "application/vnd.visio",
	".wav":    "audio/wav",
	".weba":   "audio/webm",
	".webm":   "video/webm",
	".wasm":   "application/wasm",
	".webp":   "image/webp",
	".woff":   "font/woff",
	".woff2":  "font/woff2",
	".xhtml":  "application/xhtml+xml",
	".xls":    "application/vnd.ms-excel",
	".xlsx":   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xml":    "application/xml",
	".xul":    "application/vnd.mozilla.xul+xml",
	".yaml":   "text/yaml",
	".yml":    "text/yaml",
	".zip":    "application/zip",
	".3gp":    "video/3gpp",
	".3g2":    "video/3gpp2",
	".7z":     "application/x-7z-compressed",
}

const (
	mimeOctetStream = "application/octet-stream"
	mimeTextPlain   = "text/plain; charset=utf-8"
	mimeTypeScript  = "application/typescript"
	charsetUTF8     = "; charset=utf-8"

	// typeScriptSizeThreshold is the size from which a .ts file is treated
	// as an MPEG transport stream rather than source code.
	typeScriptSizeThreshold = 1 << 20
)

// MimeTypeResolver encapsulates the logic for determining MIME types.
type MimeTypeResolver struct {
	customMimeTypes map[string]string // inline map merged with the file
}

// NewMimeTypeResolver creates a MimeTypeResolver from the inline mappings
// and, when mimeTypesPath is set, a JSON file whose entries override them.
func NewMimeTypeResolver(inline map[string]string, mimeTypesPath string) (*MimeTypeResolver, error) {
	resolver := &MimeTypeResolver{
		customMimeTypes: make(map[string]string, len(inline)),
	}
	for ext, mimeType := range inline {
		resolver.customMimeTypes[strings.ToLower(ext)] = mimeType
	}

	if mimeTypesPath != "" {
		fromFile, err := LoadCustomMimeTypesFromFile(mimeTypesPath)
		if err != nil {
			return nil, &config.ConfigError{
				FilePath: mimeTypesPath,
				Message:  "failed to load custom MIME types file",
				Err:      err,
			}
		}
		for ext, mimeType := range fromFile {
			resolver.customMimeTypes[ext] = mimeType
		}
	}
	return resolver, nil
}

// LoadCustomMimeTypesFromFile reads a JSON object mapping extensions to MIME
// types. Extensions must start with '.', values must be non-empty; keys in
// the returned map are lowercased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsedMimeTypes map[string]string
	if err := json.Unmarshal(data, &parsedMimeTypes); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	customMimeTypes := make(map[string]string, len(parsedMimeTypes))
	for ext, mimeType := range parsedMimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if mimeType == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		customMimeTypes[strings.ToLower(ext)] = mimeType
	}
	return customMimeTypes, nil
}

// ContentType returns the Content-Type reported for the file at path.
//
// Extensionless files are octet streams unless named LICENSE. A file named
// .editorconfig is plain text. A .ts file is TypeScript unless it is an
// existing non-declaration file of at least 1 MiB, in which case it is looked
// up like any other extension. Looked-up text types and .js always carry a
// UTF-8 charset.
func (r *MimeTypeResolver) ContentType(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)

	if ext == "" {
		if strings.EqualFold(base, "license") {
			return mimeTextPlain
		}
		return mimeOctetStream
	}

	if base == ".editorconfig" {
		return mimeTextPlain
	}

	if ext == ".ts" && !r.isLargeTransportStream(path) {
		return mimeTypeScript
	}

	suggested, custom := r.lookup(ext)
	if ext == ".js" {
		return stripParams(suggested) + charsetUTF8
	}
	if custom && strings.Contains(suggested, ";") {
		return suggested
	}
	if strings.HasPrefix(suggested, "text/") {
		return suggested + charsetUTF8
	}
	return suggested
}

// isLargeTransportStream reports whether a .ts path names an existing file of
// at least typeScriptSizeThreshold bytes that is not a .d.ts declaration.
func (r *MimeTypeResolver) isLargeTransportStream(path string) bool {
	if strings.HasSuffix(path, ".d.ts") {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Size() >= typeScriptSizeThreshold
}

// lookup resolves ext through the custom mappings, the built-in table and
// the system table, in that order. Table results have parameters stripped;
// custom values are returned as configured. custom reports whether the value
// came from a custom mapping.
func (r *MimeTypeResolver) lookup(ext string) (mimeType string, custom bool) {
	ext = strings.ToLower(ext)
	if mt, ok := r.customMimeTypes[ext]; ok {
		return mt, true
	}
	if mt, ok := defaultMimeTypes[ext]; ok {
		return mt, false
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return stripParams(mt), false
	}
	return mimeOctetStream, false
}

func stripParams(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		return strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
