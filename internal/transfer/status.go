package transfer

import (
	"fmt"
	"sync"
	"time"
)

const (
	statusEventBufferSize = 64
)

// OpState is the live state of a path during a run
type OpState string

const (
	OpStatePending   OpState = "pending"
	OpStateRunning   OpState = "running"
	OpStateCompleted OpState = "completed"
	OpStateFailed    OpState = "failed"
	OpStateCancelled OpState = "cancelled"
)

// PathStatus is the status of one target path
type PathStatus struct {
	Op          OpKind
	State       OpState
	Error       error
	LastUpdated time.Time
}

func (s PathStatus) String() string {
	return fmt.Sprintf("Op: %s, State: %s, Error: %v", s.Op, s.State, s.Error)
}

// StatusEvent is broadcast on every state change
type StatusEvent struct {
	Path   string
	Status PathStatus
}

// Status tracks operations of a run by target path and broadcasts changes.
// Completed paths are dropped from tracking; failed and cancelled ones are kept.
type Status struct {
	paths map[string]*PathStatus
	mu    sync.RWMutex

	eventSubs []chan *StatusEvent
	eventMu   sync.RWMutex
}

func NewStatus() *Status {
	return &Status{
		paths:     make(map[string]*PathStatus),
		eventSubs: make([]chan *StatusEvent, 0),
	}
}

// Subscribe returns a channel for receiving status events.
// Events are dropped for subscribers that fall behind.
func (s *Status) Subscribe() <-chan *StatusEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *StatusEvent, statusEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel
func (s *Status) Unsubscribe(ch <-chan *StatusEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *Status) broadcastEvent(path string, status PathStatus) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	event := &StatusEvent{Path: path, Status: status}
	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// subscriber is behind, don't block the scheduler
		}
	}
}

func (s *Status) set(path string, op OpKind, state OpState, err error) {
	s.mu.Lock()
	status, ok := s.paths[path]
	if !ok {
		status = &PathStatus{}
		s.paths[path] = status
	}
	status.Op = op
	status.State = state
	status.Error = err
	status.LastUpdated = time.Now()
	snapshot := *status

	if state == OpStateCompleted {
		delete(s.paths, path)
	}
	s.mu.Unlock()

	s.broadcastEvent(path, snapshot)
}

func (s *Status) SetPending(path string, op OpKind) {
	s.set(path, op, OpStatePending, nil)
}

func (s *Status) SetRunning(path string, op OpKind) {
	s.set(path, op, OpStateRunning, nil)
}

func (s *Status) SetCompleted(path string, op OpKind) {
	s.set(path, op, OpStateCompleted, nil)
}

func (s *Status) SetFailed(path string, op OpKind, err error) {
	s.set(path, op, OpStateFailed, err)
}

func (s *Status) SetCancelled(path string, op OpKind) {
	s.set(path, op, OpStateCancelled, ErrCancelled)
}

// Get returns a copy of the status of a path
func (s *Status) Get(path string) (PathStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.paths[path]
	if !ok {
		return PathStatus{}, false
	}
	return *status, true
}

// Count returns the number of tracked paths in the given state
func (s *Status) Count(state OpState) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, status := range s.paths {
		if status.State == state {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of all tracked statuses
func (s *Status) Snapshot() map[string]PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]PathStatus, len(s.paths))
	for path, status := range s.paths {
		result[path] = *status
	}
	return result
}

// Close closes every subscription and clears tracking
func (s *Status) Close() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}
	s.eventSubs = make([]chan *StatusEvent, 0)

	s.mu.Lock()
	s.paths = make(map[string]*PathStatus)
	s.mu.Unlock()
}
