package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Results maps item keys to the values their processors produced.
type Results map[Key]any

func (r Results) clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// JobHandle is the in-flight record for one dispatched item. It is owned by
// the dispatcher, which removes it from the state exactly once.
type JobHandle struct {
	ID      string
	Key     Key
	Started time.Time

	cancel context.CancelFunc
}

// State tracks one run: the dispatch cursor, the in-flight jobs and the
// results recorded so far. A key is never in jobs and results at once.
type State struct {
	mu sync.Mutex

	runID   string
	index   int
	total   int
	src     Source
	seen    map[Key]struct{}
	jobs    map[Key]*JobHandle
	results Results

	dispatching bool
	finished    bool
	err         error
	failures    int
}

// NewState builds a fresh state for src.
func NewState(src Source) *State {
	return &State{
		runID:   ulid.Make().String(),
		src:     src,
		total:   src.Len(),
		seen:    make(map[Key]struct{}),
		jobs:    make(map[Key]*JobHandle),
		results: make(Results),
	}
}

// RunID is the unique identifier of the run.
func (s *State) RunID() string {
	return s.runID
}

// Index is the dispatch cursor.
func (s *State) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Len is the number of items the run will dispatch.
func (s *State) Len() int {
	return s.total
}

// InFlight returns the keys of jobs that have not completed, sorted.
func (s *State) InFlight() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightLocked()
}

func (s *State) inFlightLocked() []Key {
	keys := make([]Key, 0, len(s.jobs))
	for k := range s.jobs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Results returns a copy of the results recorded so far.
func (s *State) Results() Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.clone()
}

// Err is the error that finished the run, if any.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// currentKey resolves the key under the cursor.
func (s *State) currentKey() Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.KeyAt(s.index)
}

// hasNext reports whether the cursor still points at an undispatched item.
func (s *State) hasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index < s.total
}

func (s *State) advance() {
	s.mu.Lock()
	s.index++
	s.mu.Unlock()
}

func (s *State) setDispatching(v bool) {
	s.mu.Lock()
	s.dispatching = v
	s.mu.Unlock()
}

// claim reserves key for one dispatch. A key seen earlier in the run is
// refused and counted as a failure.
func (s *State) claim(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		s.failures++
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *State) register(h *JobHandle) {
	s.mu.Lock()
	s.seen[h.Key] = struct{}{}
	s.jobs[h.Key] = h
	s.mu.Unlock()
}

// complete removes key from the in-flight set and records result on success.
// It returns false when key was already removed, making repeated completion a
// no-op, and otherwise a copy of the results after the update.
func (s *State) complete(key Key, err error, result any) (*JobHandle, Results, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.jobs[key]
	if !ok {
		return nil, nil, false
	}
	delete(s.jobs, key)
	if err != nil {
		s.failures++
	} else {
		s.results[key] = result
	}
	return h, s.results.clone(), true
}

// drained reports whether the run can finish successfully: dispatch is over
// and nothing is in flight.
func (s *State) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dispatching && s.index >= s.total && len(s.jobs) == 0
}

// finish marks the run finished. Only the first call returns true.
func (s *State) finish(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	s.err = err
	return true
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID       string
	Index       int
	Len         int
	InFlight    []Key
	Results     Results
	Failures    int
	Dispatching bool
	Finished    bool
	Err         error
}

// Snapshot captures the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		RunID:       s.runID,
		Index:       s.index,
		Len:         s.total,
		InFlight:    s.inFlightLocked(),
		Results:     s.results.clone(),
		Failures:    s.failures,
		Dispatching: s.dispatching,
		Finished:    s.finished,
		Err:         s.err,
	}
}
