package static

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// TypeMode picks how Content-Type of a 200 response is chosen
type TypeMode string

const (
	TypeFixed     TypeMode = "fixed"     // always text/html
	TypeExtension TypeMode = "extension" // by file extension, application/misc when unknown
	TypeSniff     TypeMode = "sniff"     // by file content
)

const (
	fixedType   = "text/html"
	unknownType = "application/misc"
	sniffLimit  = 3072
)

var extensionTypes = map[string]string{
	"txt":  "text/plain",
	"c":    "text/plain",
	"h":    "text/plain",
	"html": "text/html",
	"htm":  "text/htm",
	"css":  "text/css",
	"gif":  "image/gif",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"pdf":  "application/pdf",
	"ps":   "application/postsript",
}

func ParseTypeMode(s string) (TypeMode, error) {
	switch m := TypeMode(strings.ToLower(s)); m {
	case TypeFixed, TypeExtension, TypeSniff:
		return m, nil
	case "":
		return TypeFixed, nil
	default:
		return "", fmt.Errorf("unknown content type mode %q", s)
	}
}

// ContentType for the file at path; sniff mode reads the head of body
// with positioned reads so the caller's handle is not moved
func (m TypeMode) ContentType(path string, body io.ReaderAt) string {
	switch m {
	case TypeExtension:
		return byExtension(path)
	case TypeSniff:
		if body != nil {
			if mt, err := mimetype.DetectReader(io.NewSectionReader(body, 0, sniffLimit)); err == nil {
				return mt.String()
			}
		}
		return byExtension(path)
	default:
		return fixedType
	}
}

func byExtension(path string) string {
	ext := filepath.Ext(path) // empty when the last dot is in a directory name
	if ext == "" {
		return unknownType
	}
	if t, ok := extensionTypes[strings.ToLower(ext[1:])]; ok {
		return t
	}
	return unknownType
}
