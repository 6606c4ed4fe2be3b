package protocol

import (
	"strconv"
)

// lookup table for status lines
// flat list instead of map bc codes is fixed
var statusTable = [...][]byte{
	200: []byte("200 OK"),
	404: []byte("404 Not Found"),
}

// wire format uses bare LF everywhere
var (
	proto = []byte("HTTP/1.1 ")
	eol   = []byte("\n")
	colon = []byte(": ")

	hContentType   = []byte("Content-Type")
	hContentLength = []byte("Content-Length")

	textPlain = []byte("text/plain")

	// body length matches Content-Length here; the byte-exact frame
	// clients of the old server saw is legacyNotFound
	notFoundBody = []byte("Not Found")

	// exact bytes of the old server: length says 9, body carries a newline too
	legacyNotFound = []byte("HTTP/1.1 404 Not Found\n" +
		"Content-Type: text/plain\n" +
		"Content-Length: 9\n" +
		"\n" +
		"Not Found\n")
)

// AppendOK appends status line and headers of a successful response;
// exactly size body bytes should follow
func AppendOK(dst []byte, contentType string, size int64) []byte {
	dst = appendStatus(dst, 200)
	dst = appendHeader(dst, hContentType, []byte(contentType))
	dst = appendContentLength(dst, size)
	return append(dst, eol...)
}

// AppendNotFound appends the whole 404 frame, with its body.
// legacy reproduces old bytes where Content-Length does not match the body
func AppendNotFound(dst []byte, legacy bool) []byte {
	if legacy {
		return append(dst, legacyNotFound...)
	}

	dst = appendStatus(dst, 404)
	dst = appendHeader(dst, hContentType, textPlain)
	dst = appendContentLength(dst, int64(len(notFoundBody)))
	dst = append(dst, eol...)
	return append(dst, notFoundBody...)
}

func appendStatus(dst []byte, code int) []byte {
	dst = append(dst, proto...)
	dst = append(dst, statusTable[code]...)
	return append(dst, eol...)
}

func appendHeader(dst, key, val []byte) []byte {
	dst = append(dst, key...)
	dst = append(dst, colon...)
	dst = append(dst, val...)
	return append(dst, eol...)
}

func appendContentLength(dst []byte, n int64) []byte {
	dst = append(dst, hContentLength...)
	dst = append(dst, colon...)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, eol...)
}
