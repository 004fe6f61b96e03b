package store

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// CleanPath trims surrounding slashes and rejects empty or reserved segments.
func CleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || strings.ContainsAny(seg, ".#$[]") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// related reports whether a write at one path is visible to a watcher of the other.
func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// childKey returns the part of full below parent, or false if full is not below it.
func childKey(parent, full string) (string, bool) {
	if !strings.HasPrefix(full, parent+"/") {
		return "", false
	}
	return full[len(parent)+1:], true
}

type versioned struct {
	path    string
	version int64
	value   []byte
}

// signature fingerprints a snapshot so pollers only deliver real changes.
func signature(docs []versioned) string {
	sort.Slice(docs, func(i, j int) bool { return docs[i].path < docs[j].path })
	h := fnv.New64a()
	for _, d := range docs {
		h.Write([]byte(d.path))
		h.Write([]byte(strconv.FormatInt(d.version, 10)))
		h.Write(d.value)
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16) + ":" + strconv.Itoa(len(docs))
}
