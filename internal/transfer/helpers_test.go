package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}

// memEndpoint is a minimal in-memory endpoint with failure and timing hooks.
type memEndpoint struct {
	mu    sync.Mutex
	nodes map[string]*Node
	data  map[string][]byte
	calls []string

	failList   map[string]error
	failMkdir  map[string]error
	failCreate map[string]error

	// onCreate runs outside the lock before a write sink is returned
	onCreate func(p string)
}

func newMemEndpoint() *memEndpoint {
	return &memEndpoint{
		nodes:      make(map[string]*Node),
		data:       make(map[string][]byte),
		failList:   make(map[string]error),
		failMkdir:  make(map[string]error),
		failCreate: make(map[string]error),
	}
}

func (m *memEndpoint) addDir(p string) *memEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(CleanPath(p))
	return m
}

func (m *memEndpoint) addFile(p, content string, mtime time.Time) *memEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = CleanPath(p)
	if parent := ParentPath(p); parent != "" {
		m.mkdirLocked(parent)
	}
	m.nodes[p] = &Node{Path: p, Kind: KindFile, Size: int64(len(content)), ModTime: mtime, Mode: 0o644}
	m.data[p] = []byte(content)
	return m
}

func (m *memEndpoint) mkdirLocked(p string) {
	for _, dir := range append(Ancestors(p), p) {
		if _, ok := m.nodes[dir]; !ok {
			m.nodes[dir] = &Node{Path: dir, Kind: KindDirectory, Mode: 0o755}
		}
	}
}

func (m *memEndpoint) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *memEndpoint) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *memEndpoint) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *memEndpoint) notExist(p string) error {
	return &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (m *memEndpoint) List(_ context.Context, dir string) ([]*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = CleanPath(dir)
	if err, ok := m.failList[dir]; ok {
		return nil, err
	}
	if dir != "" {
		n, ok := m.nodes[dir]
		if !ok {
			return nil, m.notExist(dir)
		}
		if !n.IsDir() {
			return nil, errors.New("not a directory")
		}
	}

	var out []*Node
	for p, n := range m.nodes {
		if ParentPath(p) == dir {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEndpoint) Stat(_ context.Context, p string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = CleanPath(p)
	if p == "" {
		return &Node{Kind: KindDirectory}, nil
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, m.notExist(p)
	}
	cp := *n
	return &cp, nil
}

func (m *memEndpoint) Open(_ context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.data[CleanPath(p)]
	if !ok {
		return nil, m.notExist(p)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memEndpoint) Create(_ context.Context, p string, opts WriteOptions) (io.WriteCloser, error) {
	p = CleanPath(p)
	if m.onCreate != nil {
		m.onCreate(p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create %s", p)
	if err, ok := m.failCreate[p]; ok {
		return nil, err
	}
	return &memWriter{m: m, path: p, opts: opts}, nil
}

func (m *memEndpoint) Mkdir(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = CleanPath(p)
	m.record("mkdir %s", p)
	if err, ok := m.failMkdir[p]; ok {
		return err
	}
	if n, ok := m.nodes[p]; ok && !n.IsDir() {
		return errors.New("file exists")
	}
	m.mkdirLocked(p)
	return nil
}

func (m *memEndpoint) Remove(_ context.Context, p string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = CleanPath(p)
	m.record("remove %s", p)
	n, ok := m.nodes[p]
	if !ok {
		return m.notExist(p)
	}

	var children []string
	for other := range m.nodes {
		if IsUnder(other, p) {
			children = append(children, other)
		}
	}
	if n.IsDir() && len(children) > 0 && !recursive {
		return errors.New("directory not empty")
	}
	for _, c := range children {
		delete(m.nodes, c)
		delete(m.data, c)
	}
	delete(m.nodes, p)
	delete(m.data, p)
	return nil
}

type memWriter struct {
	m    *memEndpoint
	path string
	opts WriteOptions
	buf  bytes.Buffer
}

func (w *memWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *memWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()

	if parent := ParentPath(w.path); parent != "" {
		w.m.mkdirLocked(parent)
	}
	mode := w.opts.Mode
	if mode == 0 {
		mode = 0o644
	}
	w.m.nodes[w.path] = &Node{Path: w.path, Kind: KindFile, Size: int64(w.buf.Len()), ModTime: w.opts.ModTime, Mode: mode}
	w.m.data[w.path] = bytes.Clone(w.buf.Bytes())
	return nil
}

// modeEndpoint adds permission support to memEndpoint
type modeEndpoint struct {
	*memEndpoint
}

func (m modeEndpoint) Chmod(_ context.Context, p string, mode fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[CleanPath(p)]
	if !ok {
		return m.notExist(p)
	}
	n.Mode = mode
	return nil
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func opStrings(ops []*Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Kind == OpSkip {
			continue
		}
		k := string(op.Kind)
		out = append(out, strings.ToLower(k[:1])+k[1:]+"("+op.TargetPath+")")
	}
	return out
}
