package transfer

import (
	"io/fs"
	"path"
	"strings"
	"time"
)

// NodeKind is the type of an entry in a tree
type NodeKind string

const (
	KindFile      NodeKind = "file"
	KindDirectory NodeKind = "directory"
	KindSymlink   NodeKind = "symlink"
)

// Node is an immutable snapshot of one entry produced by listing an endpoint.
// Path is slash separated and relative to the endpoint root.
type Node struct {
	Path    string
	Kind    NodeKind
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

// Name returns the last element of the node path
func (n *Node) Name() string {
	return path.Base(n.Path)
}

func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

func (n *Node) IsSymlink() bool {
	return n.Kind == KindSymlink
}

// NodeFromFileInfo builds a Node from an fs.FileInfo as returned by Lstat.
func NodeFromFileInfo(p string, info fs.FileInfo) *Node {
	kind := KindFile
	switch {
	case info.IsDir():
		kind = KindDirectory
	case info.Mode()&fs.ModeSymlink != 0:
		kind = KindSymlink
	}

	size := info.Size()
	if kind == KindDirectory {
		size = 0
	}

	return &Node{
		Path:    CleanPath(p),
		Kind:    kind,
		Size:    size,
		ModTime: info.ModTime(),
		Mode:    info.Mode().Perm(),
	}
}

// CleanPath normalizes an endpoint path: slash separated, no leading or trailing slash.
// The endpoint root is the empty string.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// JoinPath joins endpoint path elements and cleans the result
func JoinPath(elem ...string) string {
	return CleanPath(path.Join(elem...))
}

// ParentPath returns the parent of p, or "" for top level entries
func ParentPath(p string) string {
	p = CleanPath(p)
	if p == "" {
		return ""
	}
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// Ancestors returns all proper ancestors of p, closest first. The endpoint root is not included.
func Ancestors(p string) []string {
	var out []string
	for dir := ParentPath(p); dir != ""; dir = ParentPath(dir) {
		out = append(out, dir)
	}
	return out
}

// IsUnder reports whether p is a strict descendant of dir
func IsUnder(p, dir string) bool {
	p, dir = CleanPath(p), CleanPath(dir)
	if dir == "" {
		return p != ""
	}
	return strings.HasPrefix(p, dir+"/")
}
