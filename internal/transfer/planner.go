package transfer

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Plan is a lazy, pull based sequence of operations. A non-nil error in the
// sequence reports a subtree that could not be planned (listing failed); the
// rest of the tree is still planned.
type Plan = iter.Seq2[*Operation, error]

// PlanCopy walks the source tree and propagates it into the target without
// ever inspecting or deleting target entries.
func PlanCopy(ctx context.Context, cfg *Config, opts TransferOptions) (Plan, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return func(yield func(*Operation, error) bool) {
		p := &planner{ctx: ctx, cfg: cfg, opts: opts, yield: yield}
		root, ok := p.stat(cfg.Source, cfg.SourceRoot)
		if !ok || p.opts.ignored("", root.IsDir()) {
			return
		}
		if !root.IsDir() {
			p.copyNode("", root)
			return
		}
		// endpoint roots always exist
		if cfg.TargetRoot != "" && !p.emit(p.newOp(OpCreateDirectory, "", root, nil)) {
			return
		}
		p.copyChildren("")
	}, nil
}

// PlanSync reconciles the target against the source. Target entries absent
// from the source are deleted, children before their directory.
func PlanSync(ctx context.Context, cfg *Config, opts SyncOptions) (Plan, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return func(yield func(*Operation, error) bool) {
		p := &planner{ctx: ctx, cfg: cfg, opts: opts.TransferOptions, yield: yield}
		src, ok := p.stat(cfg.Source, cfg.SourceRoot)
		if !ok || p.opts.ignored("", src.IsDir()) {
			return
		}

		dst, err := cfg.Target.Stat(ctx, cfg.TargetRoot)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.fail(newIOError("stat", cfg.TargetRoot, err))
			return
		}
		if err != nil {
			dst = nil
		}

		if src.IsDir() && dst != nil && dst.IsDir() {
			p.syncChildren("")
			return
		}
		if src.IsDir() && cfg.TargetRoot == "" {
			// endpoint roots always exist
			p.copyChildren("")
			return
		}
		p.syncNode("", src, dst)
	}, nil
}

// Collect drains a plan into a slice. Planning errors are joined.
func Collect(plan Plan) ([]*Operation, error) {
	var ops []*Operation
	var errs []error
	for op, err := range plan {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, errors.Join(errs...)
}

type planner struct {
	ctx     context.Context
	cfg     *Config
	opts    TransferOptions
	yield   func(*Operation, error) bool
	stopped bool
}

func (p *planner) emit(op *Operation) bool {
	if p.stopped {
		return false
	}
	if !p.yield(op, nil) {
		p.stopped = true
	}
	return !p.stopped
}

func (p *planner) fail(err error) bool {
	if p.stopped {
		return false
	}
	if !p.yield(nil, err) {
		p.stopped = true
	}
	return !p.stopped
}

func (p *planner) sourcePath(rel string) string {
	return JoinPath(p.cfg.SourceRoot, rel)
}

func (p *planner) targetPath(rel string) string {
	return JoinPath(p.cfg.TargetRoot, rel)
}

func (p *planner) newOp(kind OpKind, rel string, src, dst *Node) *Operation {
	op := &Operation{
		Kind:       kind,
		RelPath:    rel,
		TargetPath: p.targetPath(rel),
		Direction:  p.cfg.Direction,
		Source:     src,
		Target:     dst,
	}
	if kind != OpDelete {
		op.SourcePath = p.sourcePath(rel)
	}
	if kind == OpCreateDirectory || kind == OpCopyFile {
		op.PreserveMode = p.opts.PreserveTargetMode
	}
	return op
}

func (p *planner) stat(ep Endpoint, path string) (*Node, bool) {
	node, err := ep.Stat(p.ctx, path)
	if err != nil {
		p.fail(newIOError("stat", path, err))
		return nil, false
	}
	return node, true
}

// list returns the children of dir sorted by name. On failure the error is
// yielded and ok is false; the caller skips the subtree.
func (p *planner) list(ep Endpoint, dir string) ([]*Node, bool) {
	if err := p.ctx.Err(); err != nil {
		p.fail(err)
		p.stopped = true
		return nil, false
	}

	nodes, err := ep.List(p.ctx, dir)
	if err != nil {
		p.fail(newIOError("list", dir, err))
		return nil, false
	}

	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name() < nodes[j].Name()
	})
	return nodes, true
}

// copyNode plans a source entry whose ignore state was already checked.
func (p *planner) copyNode(rel string, src *Node) bool {
	if !src.IsDir() {
		return p.emit(p.newOp(OpCopyFile, rel, src, nil))
	}
	// directory before its contents
	if !p.emit(p.newOp(OpCreateDirectory, rel, src, nil)) {
		return false
	}
	return p.copyChildren(rel)
}

func (p *planner) copyChildren(rel string) bool {
	children, ok := p.list(p.cfg.Source, p.sourcePath(rel))
	if !ok {
		return !p.stopped
	}
	for _, child := range children {
		childRel := JoinPath(rel, child.Name())
		if p.opts.ignored(childRel, child.IsDir()) {
			continue
		}
		if !p.copyNode(childRel, child) {
			return false
		}
	}
	return true
}

// syncNode plans one path present on at least one side, ignore already checked.
func (p *planner) syncNode(rel string, src, dst *Node) bool {
	switch {
	case dst == nil:
		return p.copyNode(rel, src)

	case src == nil:
		return p.deleteNode(rel, dst)

	case src.IsDir() && dst.IsDir():
		if rel != "" {
			if !p.emit(p.newOp(OpSkip, rel, src, dst)) {
				return false
			}
		}
		return p.syncChildren(rel)

	case src.IsDir():
		// a file or link sits where the directory must go
		op := p.newOp(OpCreateDirectory, rel, src, dst)
		op.Replace = true
		if !p.emit(op) {
			return false
		}
		return p.copyChildren(rel)

	case dst.IsDir():
		kept, ok := p.hasKept(rel)
		if !ok {
			return !p.stopped
		}
		if kept {
			return p.fail(newIOError("replace", p.targetPath(rel), ErrKeptContent))
		}
		op := p.newOp(OpCopyFile, rel, src, dst)
		op.Replace = true
		return p.emit(op)

	case src.IsSymlink() && dst.IsSymlink():
		if p.linkChanged(rel, src, dst) {
			return p.emit(p.newOp(OpCopyFile, rel, src, dst))
		}
		return p.emit(p.newOp(OpSkip, rel, src, dst))

	case src.IsSymlink() && dst.Kind == KindFile && !p.targetLinks():
		// the link was copied as content stamped with the link's mtime
		if sameModTime(src, dst) {
			return p.emit(p.newOp(OpSkip, rel, src, dst))
		}
		return p.emit(p.newOp(OpCopyFile, rel, src, dst))

	case src.Kind != dst.Kind:
		op := p.newOp(OpCopyFile, rel, src, dst)
		op.Replace = true
		return p.emit(op)

	case hasChanged(src, dst):
		return p.emit(p.newOp(OpCopyFile, rel, src, dst))

	default:
		return p.emit(p.newOp(OpSkip, rel, src, dst))
	}
}

func (p *planner) syncChildren(rel string) bool {
	srcChildren, ok := p.list(p.cfg.Source, p.sourcePath(rel))
	if !ok {
		return !p.stopped
	}
	dstChildren, ok := p.list(p.cfg.Target, p.targetPath(rel))
	if !ok {
		return !p.stopped
	}

	names := mapset.NewThreadUnsafeSet[string]()
	srcByName := make(map[string]*Node, len(srcChildren))
	dstByName := make(map[string]*Node, len(dstChildren))
	for _, n := range srcChildren {
		srcByName[n.Name()] = n
		names.Add(n.Name())
	}
	for _, n := range dstChildren {
		dstByName[n.Name()] = n
		names.Add(n.Name())
	}

	sorted := names.ToSlice()
	sort.Strings(sorted)

	for _, name := range sorted {
		src, dst := srcByName[name], dstByName[name]
		childRel := JoinPath(rel, name)

		isDir := dst != nil && dst.IsDir()
		if src != nil {
			isDir = src.IsDir()
		}
		if p.opts.ignored(childRel, isDir) {
			continue
		}

		if !p.syncNode(childRel, src, dst) {
			return false
		}
	}
	return true
}

// deleteNode plans the removal of a target-only entry. Directory contents are
// planned first so the directory delete comes last.
func (p *planner) deleteNode(rel string, dst *Node) bool {
	cont, _ := p.deleteTree(rel, dst)
	return cont
}

// deleteTree reports whether planning may continue and whether something under
// rel is kept (ignored or unreadable), in which case the directory itself stays.
func (p *planner) deleteTree(rel string, dst *Node) (bool, bool) {
	if dst.IsDir() {
		children, ok := p.list(p.cfg.Target, p.targetPath(rel))
		if !ok {
			// leave the directory alone if we can't see inside it
			return !p.stopped, true
		}
		kept := false
		for _, child := range children {
			childRel := JoinPath(rel, child.Name())
			if p.opts.ignored(childRel, child.IsDir()) {
				kept = true
				continue
			}
			cont, childKept := p.deleteTree(childRel, child)
			if !cont {
				return false, true
			}
			kept = kept || childKept
		}
		if kept {
			return true, true
		}
	}
	return p.emit(p.newOp(OpDelete, rel, nil, dst)), false
}

// hasKept reports whether the target directory at rel holds ignored content.
// ok is false when part of it could not be listed; that error was already yielded.
func (p *planner) hasKept(rel string) (kept, ok bool) {
	children, ok := p.list(p.cfg.Target, p.targetPath(rel))
	if !ok {
		return true, false
	}
	for _, child := range children {
		childRel := JoinPath(rel, child.Name())
		if p.opts.ignored(childRel, child.IsDir()) {
			return true, true
		}
		if child.IsDir() {
			if kept, ok := p.hasKept(childRel); kept || !ok {
				return kept, ok
			}
		}
	}
	return false, true
}

func (p *planner) targetLinks() bool {
	_, ok := p.cfg.Target.(Symlinker)
	return ok
}

// linkChanged compares link targets. Link mtimes are not carried over, so
// they are never compared.
func (p *planner) linkChanged(rel string, src, dst *Node) bool {
	srcLinks, ok := p.cfg.Source.(Symlinker)
	if !ok {
		return src.Size != dst.Size
	}
	dstLinks, ok := p.cfg.Target.(Symlinker)
	if !ok {
		return src.Size != dst.Size
	}

	want, err := srcLinks.Readlink(p.ctx, p.sourcePath(rel))
	if err != nil {
		return true
	}
	got, err := dstLinks.Readlink(p.ctx, p.targetPath(rel))
	if err != nil {
		return true
	}
	return want != got
}

// hasChanged compares size and modification time at one second resolution,
// the finest most remote protocols report.
func hasChanged(src, dst *Node) bool {
	if src.Size != dst.Size {
		return true
	}
	return !sameModTime(src, dst)
}

func sameModTime(src, dst *Node) bool {
	return src.ModTime.Truncate(time.Second).Equal(dst.ModTime.Truncate(time.Second))
}
