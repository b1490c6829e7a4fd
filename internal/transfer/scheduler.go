package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/syftxfer/internal/queue"
	"golang.org/x/sync/semaphore"
)

const (
	priorityStructural = 0
	priorityDefault    = 1
)

var (
	ErrSchedulerUsed = errors.New("scheduler already ran")
)

type taskState int

const (
	taskWaiting taskState = iota
	taskReady
	taskRunning
	taskDone
)

type task struct {
	op         *Operation
	state      taskState
	waits      int
	dependents []edge
	outcome    *Outcome
}

// edge links a task to one that waits on it. requireSuccess dependents are
// short-circuited when the dependency does not succeed; the others only wait
// for it to finish.
type edge struct {
	task           *task
	requireSuccess bool
}

type SchedulerOption func(*Scheduler)

// WithStatus reports live per-path state to the given tracker
func WithStatus(status *Status) SchedulerOption {
	return func(s *Scheduler) {
		s.status = status
	}
}

// Scheduler executes operations with at most N running at once. An operation
// waits for every createDirectory of its ancestors enqueued in the same run, and
// a directory delete waits for the deletes planned inside it. A Scheduler runs once.
type Scheduler struct {
	concurrency int
	exec        *executor
	status      *Status

	mu         sync.Mutex
	tasks      []*task
	planErrs   []*Outcome
	dirs       map[string]*task
	deletes    map[string][]*task
	ready      *queue.PriorityQueue[*task]
	unfinished int
	started    bool
	linking    bool
	closed     bool
	wake       chan struct{}
}

// NewScheduler creates a scheduler over the endpoint pair. Concurrency below 1 is raised to 1.
func NewScheduler(endpoints Endpoints, concurrency int, opts ...SchedulerOption) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}

	s := &Scheduler{
		concurrency: concurrency,
		exec:        &executor{endpoints: endpoints},
		status:      NewStatus(),
		dirs:        make(map[string]*task),
		deletes:     make(map[string][]*task),
		ready:       queue.NewPriorityQueue[*task](),
		wake:        make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

func (s *Scheduler) Status() *Status {
	return s.status
}

// Add enqueues an operation. It may be called before Run or, through RunPlan, while running.
// Operations added before Run are ordered regardless of enqueue order. Once running,
// a directory delete only waits for the child deletes added before it, which is
// the order the planner produces.
func (s *Scheduler) Add(op *Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &task{op: op}
	s.tasks = append(s.tasks, t)

	if op.Kind == OpSkip {
		t.state = taskDone
		t.outcome = &Outcome{Op: op, Path: op.TargetPath, Status: StatusSkipped}
		return
	}

	s.unfinished++
	s.status.SetPending(op.TargetPath, op.Kind)

	if s.linking {
		s.link(t)
	}
}

// addPlanError records a subtree the planner could not walk
func (s *Scheduler) addPlanError(err error) {
	path := ""
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		path = ioErr.Path
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planErrs = append(s.planErrs, &Outcome{
		Path:       path,
		Status:     StatusFailed,
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	})
}

// Run executes every operation added so far and returns once all of them were
// attempted, short-circuited by a failed dependency, or cancelled through ctx.
// The returned error is the aggregate *RunError, nil when everything succeeded.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	return s.run(ctx, nil)
}

// RunPlan enqueues operations as the plan produces them while executing them.
// Planning errors are recorded as failed outcomes.
func (s *Scheduler) RunPlan(ctx context.Context, plan Plan) (*Result, error) {
	if plan == nil {
		return nil, &ConfigurationError{Field: "plan", Reason: "plan is required"}
	}
	return s.run(ctx, plan)
}

func (s *Scheduler) run(ctx context.Context, plan Plan) (*Result, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrSchedulerUsed
	}
	s.started = true
	startedAt := time.Now()

	// directories first so dependencies hold regardless of enqueue order
	for _, t := range s.tasks {
		if t.state != taskDone && t.op.Kind == OpCreateDirectory {
			s.dirs[t.op.TargetPath] = t
		}
	}
	// deepest deletes first so directory deletes find their children
	pending := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.state != taskDone {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return deleteDepth(pending[i]) > deleteDepth(pending[j])
	})
	for _, t := range pending {
		s.link(t)
	}
	s.linking = true
	s.closed = plan == nil
	s.mu.Unlock()

	producerDone := make(chan struct{})
	if plan != nil {
		go func() {
			defer close(producerDone)
			defer s.close()
			for op, err := range plan {
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						slog.Error("plan", "error", err)
						s.addPlanError(err)
					}
					continue
				}
				s.Add(op)
			}
		}()
	} else {
		close(producerDone)
	}

	s.dispatch(ctx)
	<-producerDone
	s.cancelRemaining()

	result := s.result(startedAt)
	return result, result.Err()
}

// deleteDepth is the path depth of a delete, -1 for other operations
func deleteDepth(t *task) int {
	if t.op.Kind != OpDelete {
		return -1
	}
	return strings.Count(t.op.TargetPath, "/")
}

func (s *Scheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// link resolves the dependencies of t. Must hold mu.
func (s *Scheduler) link(t *task) {
	op := t.op

	if op.Kind == OpCreateDirectory {
		if _, ok := s.dirs[op.TargetPath]; !ok {
			s.dirs[op.TargetPath] = t
		}
	}

	for _, dir := range Ancestors(op.TargetPath) {
		d, ok := s.dirs[dir]
		if !ok || d == t {
			continue
		}
		s.depend(t, d, true)
		if t.state == taskDone {
			return
		}
	}

	if op.Kind == OpDelete {
		for _, child := range s.deletes[op.TargetPath] {
			s.depend(t, child, false)
		}
		parent := ParentPath(op.TargetPath)
		s.deletes[parent] = append(s.deletes[parent], t)
	}

	if t.waits == 0 {
		s.makeReady(t)
	}
}

// depend makes t wait on d. Must hold mu.
func (s *Scheduler) depend(t, d *task, requireSuccess bool) {
	if d.state == taskDone {
		if requireSuccess && d.outcome.Status != StatusSucceeded {
			s.failDependency(t, d)
		}
		return
	}
	t.waits++
	d.dependents = append(d.dependents, edge{task: t, requireSuccess: requireSuccess})
}

func (s *Scheduler) makeReady(t *task) {
	if t.state != taskWaiting {
		return
	}
	t.state = taskReady

	priority := priorityDefault
	if t.op.IsStructural() {
		priority = priorityStructural
	}
	s.ready.Enqueue(t, priority)
	s.signal()
}

// failDependency short-circuits t because d did not succeed. Must hold mu.
func (s *Scheduler) failDependency(t, d *task) {
	if t.state == taskDone {
		return
	}

	cause := d.outcome.Err
	if cause == nil {
		cause = errors.New(string(d.outcome.Status))
	}
	now := time.Now()
	err := &DependencyError{Path: t.op.TargetPath, Dependency: d.op.TargetPath, Cause: cause}

	slog.Warn("scheduler", "op", t.op.Kind, "path", t.op.TargetPath, "status", StatusDependencyFailed, "dependency", d.op.TargetPath)
	s.finalize(t, &Outcome{
		Op:         t.op,
		Path:       t.op.TargetPath,
		Status:     StatusDependencyFailed,
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	})
}

// finalize records the outcome of t and releases its dependents. Must hold mu.
func (s *Scheduler) finalize(t *task, outcome *Outcome) {
	if t.state == taskDone {
		return
	}
	t.state = taskDone
	t.outcome = outcome
	s.unfinished--

	switch outcome.Status {
	case StatusSucceeded:
		s.status.SetCompleted(t.op.TargetPath, t.op.Kind)
	case StatusCancelled:
		s.status.SetCancelled(t.op.TargetPath, t.op.Kind)
	default:
		s.status.SetFailed(t.op.TargetPath, t.op.Kind, outcome.Err)
	}

	dependents := t.dependents
	t.dependents = nil
	for _, e := range dependents {
		dep := e.task
		if dep.state == taskDone {
			continue
		}
		if e.requireSuccess && outcome.Status != StatusSucceeded {
			s.failDependency(dep, t)
			continue
		}
		dep.waits--
		if dep.waits == 0 {
			s.makeReady(dep)
		}
	}

	s.signal()
}

// dispatch hands ready tasks to at most concurrency workers until the queue is
// closed and drained or ctx is cancelled. It returns after in-flight tasks finished.
func (s *Scheduler) dispatch(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(s.concurrency))
	var wg sync.WaitGroup

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		t, ok := s.next(ctx)
		if !ok {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.execute(ctx, t)
		}()
	}

	wg.Wait()
}

// next blocks until a task is ready, the run is complete or ctx is done.
func (s *Scheduler) next(ctx context.Context) (*task, bool) {
	for {
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return nil, false
		}
		if t, ok := s.ready.Dequeue(); ok {
			t.state = taskRunning
			s.mu.Unlock()
			return t, true
		}
		if s.closed && s.unfinished == 0 {
			s.mu.Unlock()
			return nil, false
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	op := t.op
	s.status.SetRunning(op.TargetPath, op.Kind)

	// dispatched operations finish even if the run is cancelled meanwhile
	execCtx := context.WithoutCancel(ctx)

	startedAt := time.Now()
	n, warn, err := s.exec.execute(execCtx, op)
	outcome := &Outcome{
		Op:         op,
		Path:       op.TargetPath,
		Status:     StatusSucceeded,
		Warning:    warn,
		Bytes:      n,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}

	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		slog.Error("transfer", "op", op.Kind, "path", op.TargetPath, "direction", op.Direction, "error", err)
	} else if op.Kind == OpCopyFile {
		slog.Info("transfer", "op", op.Kind, "path", op.TargetPath, "direction", op.Direction, "size", humanize.Bytes(uint64(n)))
	} else {
		slog.Info("transfer", "op", op.Kind, "path", op.TargetPath, "direction", op.Direction)
	}
	if warn != nil {
		slog.Warn("transfer", "op", op.Kind, "path", op.TargetPath, "warning", warn)
	}

	s.mu.Lock()
	s.finalize(t, outcome)
	s.mu.Unlock()
}

// cancelRemaining reports every task that was never dispatched as cancelled.
func (s *Scheduler) cancelRemaining() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cancelled := 0
	for _, t := range s.tasks {
		if t.state == taskDone {
			continue
		}
		// mark directly, dependents are cancelled too rather than dependency failures
		t.state = taskDone
		t.dependents = nil
		t.outcome = &Outcome{
			Op:         t.op,
			Path:       t.op.TargetPath,
			Status:     StatusCancelled,
			Err:        ErrCancelled,
			StartedAt:  now,
			FinishedAt: now,
		}
		s.unfinished--
		s.status.SetCancelled(t.op.TargetPath, t.op.Kind)
		cancelled++
	}
	s.ready.Drain()

	if cancelled > 0 {
		slog.Warn("scheduler", "status", StatusCancelled, "operations", cancelled)
	}
}

func (s *Scheduler) result(startedAt time.Time) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]*Outcome, 0, len(s.planErrs)+len(s.tasks))
	outcomes = append(outcomes, s.planErrs...)
	for _, t := range s.tasks {
		outcomes = append(outcomes, t.outcome)
	}

	return &Result{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Outcomes:  outcomes,
	}
}
