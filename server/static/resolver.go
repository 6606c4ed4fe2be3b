// Package static maps request targets onto files under a document root.
package static

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const DefaultIndex = "index.html"

// Resource is a servable file and its size at stat time
type Resource struct {
	Path string
	Size int64
}

type ResolverOptions struct {
	Index string // file looked up inside a directory, DefaultIndex when empty

	// DecodePath strips the query and percent-decodes the target before lookup.
	// raw targets are used verbatim otherwise
	DecodePath bool

	// AllowTraversal keeps the old behaviour: target is glued to root as is, ".." included.
	// by default such targets are rejected and paths are joined and cleaned
	AllowTraversal bool
}

// Resolver is read-only after construction and safe to share
type Resolver struct {
	root string
	opts ResolverOptions
}

func NewResolver(root string, opts ResolverOptions) *Resolver {
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	return &Resolver{root: root, opts: opts}
}

func (r *Resolver) Root() string {
	return r.root
}

// Resolve finds the file for target. directories are served through their index file,
// one level only: an index that is itself a directory is not found.
// anything else that stats fine (devices, fifos, symlink targets) is servable.
// every failure wraps ErrNotFound
func (r *Resolver) Resolve(target []byte) (Resource, error) {
	p := string(target)

	if r.opts.DecodePath {
		p, _, _ = strings.Cut(p, "?")
		dec, err := url.PathUnescape(p)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: decode %q: %v", ErrNotFound, p, err)
		}
		p = dec
	}

	var cand string
	if r.opts.AllowTraversal {
		cand = r.root + p
	} else {
		if hasDotDot(p) {
			return Resource{}, fmt.Errorf("%w: %q", ErrTraversal, p)
		}
		cand = filepath.Join(r.root, filepath.FromSlash(p))
	}

	st, err := os.Stat(cand)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !st.IsDir() {
		return Resource{Path: cand, Size: st.Size()}, nil
	}

	// find index of this directory
	if strings.HasSuffix(cand, "/") {
		cand += r.opts.Index
	} else {
		cand += "/" + r.opts.Index
	}

	st, err = os.Stat(cand)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if st.IsDir() {
		return Resource{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, cand)
	}
	return Resource{Path: cand, Size: st.Size()}, nil
}

func hasDotDot(p string) bool {
	for _, seg := range strings.FieldsFunc(p, isSlash) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isSlash(r rune) bool {
	return r == '/' || r == '\\'
}
