// Package store owns the canonical ordered step list and the editor's
// transient selection.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"macroctl/internal/log"
	"macroctl/internal/step"
)

var (
	// ErrTooFewSteps is returned when grouping fewer than two steps.
	ErrTooFewSteps = errors.New("at least two steps are required")

	// ErrStepNotFound is returned when an id is not in the canonical list.
	ErrStepNotFound = errors.New("step not found")

	// ErrNotAGroup is returned when a group operation targets a leaf step.
	ErrNotAGroup = errors.New("step is not a group")

	// ErrInvalidLoopCount is returned for group loop counts below one.
	ErrInvalidLoopCount = errors.New("loop count must be at least 1")

	// ErrIDsNotPreserved is returned when a reorder drops an existing step.
	ErrIDsNotPreserved = errors.New("reorder must keep every existing step")
)

// Defaults are merged into the payload of newly added steps.
type Defaults struct {
	WaitTime  float64
	Randomize bool
}

// Store holds the canonical step list. All methods are safe for
// concurrent use; returned steps are deep copies.
type Store struct {
	mu        sync.Mutex
	steps     []step.Step
	selection []string
	defaults  Defaults
	newID     func() string
	logger    *slog.Logger

	localVersion uint64
	pending      int
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the uuid-based id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithDefaults sets the wait/randomize defaults for added steps.
func WithDefaults(d Defaults) Option {
	return func(s *Store) { s.defaults = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		defaults: Defaults{WaitTime: 1},
		newID:    step.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithModule("store")
	}
	return s
}

// Steps returns a copy of the canonical list.
func (s *Store) Steps() []step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return step.CloneAll(s.steps)
}

// Len returns the number of top-level steps.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Get returns the top-level step with the given id.
func (s *Store) Get(id string) (step.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return step.Step{}, false
	}
	return step.Clone(s.steps[i]), true
}

// Defaults returns the current add defaults.
func (s *Store) Defaults() Defaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// SetDefaults replaces the add defaults.
func (s *Store) SetDefaults(d Defaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = d
}

// Add appends a new step with a fresh id. The default wait time and
// randomize flag are merged into data unless already set.
func (s *Store) Add(t step.Type, data step.Data) step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.buildLocked(t, data)
	s.steps = append(s.steps, st)
	return step.Clone(st)
}

// Build returns the step Add would create without inserting it.
func (s *Store) Build(t step.Type, data step.Data) step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocked(t, data)
}

// Append inserts a step produced by Build at the end of the list.
func (s *Store) Append(st step.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := step.CollectIDs(s.steps)
	for id := range step.CollectIDs([]step.Step{st}) {
		if _, dup := taken[id]; dup {
			return fmt.Errorf("%w: %s", step.ErrDuplicateID, id)
		}
	}
	s.steps = append(s.steps, step.Clone(st))
	return nil
}

func (s *Store) buildLocked(t step.Type, data step.Data) step.Step {
	st := step.Clone(step.Step{Type: t, Data: data})
	st.ID = s.freshIDLocked()
	if st.Data.WaitTime == nil {
		st.Data.WaitTime = step.Float(s.defaults.WaitTime)
	}
	if st.Data.Randomize == nil {
		st.Data.Randomize = step.Bool(s.defaults.Randomize)
	}
	if st.Data.StepType == "" && t != step.TypeGroup {
		st.Data.StepType = string(t)
	}
	return st
}

// Delete removes every top-level step whose id is in ids and drops those
// ids from the selection. It returns the number of steps removed.
func (s *Store) Delete(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := toSet(ids)
	before := len(s.steps)
	s.steps = slices.DeleteFunc(s.steps, func(st step.Step) bool {
		_, ok := drop[st.ID]
		return ok
	})
	s.selection = slices.DeleteFunc(s.selection, func(id string) bool {
		_, ok := drop[id]
		return ok
	})
	return before - len(s.steps)
}

// Clear empties the list and the selection.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.selection = nil
}

// Reorder replaces the list wholesale. newOrder must contain every
// existing step id (it may add new ones) and must not repeat an id.
// Ids are taken as given and never regenerated.
func (s *Store) Reorder(newOrder []step.Step) error {
	if err := step.CheckUniqueIDs(newOrder); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	have := step.CollectIDs(newOrder)
	for _, st := range s.steps {
		if _, ok := have[st.ID]; !ok {
			return fmt.Errorf("%w: missing %s", ErrIDsNotPreserved, st.ID)
		}
	}
	s.steps = step.CloneAll(newOrder)
	s.pruneSelectionLocked()
	return nil
}

// Replace overwrites the list with steps without any preservation check.
// It is used for authoritative state (broadcasts, imports).
func (s *Store) Replace(steps []step.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = step.CloneAll(steps)
	s.pruneSelectionLocked()
}

// Copy returns deep snapshots of the matching steps in canonical order.
func (s *Store) Copy(ids []string) []step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := toSet(ids)
	var out []step.Step
	for _, st := range s.steps {
		if _, ok := want[st.ID]; ok {
			out = append(out, step.Clone(st))
		}
	}
	return out
}

// Paste clones snapshot with new ids disjoint from every id in the store,
// including ids nested in groups, and inserts the clones right after
// afterID. When afterID is empty or unknown the clones are appended.
func (s *Store) Paste(snapshot []step.Step, afterID string) []step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := step.CollectIDs(s.steps)
	clones := make([]step.Step, len(snapshot))
	for i, st := range snapshot {
		clones[i] = step.CloneWithNewIDs(st, taken, s.newID)
	}

	at := len(s.steps)
	if afterID != "" {
		if i := s.indexOf(afterID); i >= 0 {
			at = i + 1
		}
	}
	s.steps = slices.Insert(s.steps, at, clones...)
	return step.CloneAll(clones)
}

// InsertWaitBetween inserts one wait step between each adjacent pair of
// the selected steps, ordered by canonical position. With fewer than two
// known ids it does nothing. It returns the inserted steps.
func (s *Store) InsertWaitBetween(selected []string, waitSeconds float64) []step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.positionsLocked(selected)
	if len(positions) < 2 {
		return nil
	}

	inserted := make([]step.Step, 0, len(positions)-1)
	offset := 0
	for i := 1; i < len(positions); i++ {
		wait := s.buildLocked(step.TypeWait, step.Data{
			WaitTime: step.Float(waitSeconds),
		})
		at := positions[i-1] + 1 + offset
		s.steps = slices.Insert(s.steps, at, wait)
		inserted = append(inserted, step.Clone(wait))
		offset++
	}
	return inserted
}

// Group moves the selected steps, in canonical order, into a new group
// step appended at the end of the list. The group starts with a loop
// count of 1 and expanded.
func (s *Store) Group(ids []string, name string) (step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.positionsLocked(ids)
	if len(positions) < 2 {
		return step.Step{}, ErrTooFewSteps
	}

	children := make([]step.Step, 0, len(positions))
	members := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		children = append(children, step.Clone(s.steps[p]))
		members[s.steps[p].ID] = struct{}{}
	}

	// The id is drawn while the children are still in the list so the
	// group never reuses one of theirs.
	groupID := s.freshIDLocked()

	s.steps = slices.DeleteFunc(s.steps, func(st step.Step) bool {
		_, ok := members[st.ID]
		return ok
	})
	s.selection = slices.DeleteFunc(s.selection, func(id string) bool {
		_, ok := members[id]
		return ok
	})

	g := step.Step{
		ID:   groupID,
		Type: step.TypeGroup,
		Data: step.Data{
			GroupName:      name,
			GroupSteps:     children,
			GroupLoopCount: 1,
		},
	}
	s.steps = append(s.steps, g)
	return step.Clone(g), nil
}

// Ungroup removes the group and appends its children, in stored order,
// to the end of the list.
func (s *Store) Ungroup(groupID string) ([]step.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(groupID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, groupID)
	}
	g := s.steps[i]
	if !g.IsGroup() {
		return nil, fmt.Errorf("%w: %s", ErrNotAGroup, groupID)
	}

	children := step.CloneAll(g.Data.GroupSteps)
	s.steps = slices.Delete(s.steps, i, i+1)
	s.steps = append(s.steps, children...)
	s.selection = slices.DeleteFunc(s.selection, func(id string) bool { return id == groupID })
	return step.CloneAll(children), nil
}

// SetGroupLoopCount changes how many times a group repeats.
func (s *Store) SetGroupLoopCount(groupID string, n int) error {
	if n < 1 {
		return ErrInvalidLoopCount
	}
	return s.updateGroup(groupID, func(d *step.Data) { d.GroupLoopCount = n })
}

// RenameGroup changes a group's display name.
func (s *Store) RenameGroup(groupID, name string) error {
	return s.updateGroup(groupID, func(d *step.Data) { d.GroupName = name })
}

// ToggleCollapsed flips a group's collapsed display flag and returns the
// new value.
func (s *Store) ToggleCollapsed(groupID string) (bool, error) {
	var collapsed bool
	err := s.updateGroup(groupID, func(d *step.Data) {
		d.Collapsed = !d.Collapsed
		collapsed = d.Collapsed
	})
	return collapsed, err
}

func (s *Store) updateGroup(groupID string, fn func(*step.Data)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(groupID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrStepNotFound, groupID)
	}
	if !s.steps[i].IsGroup() {
		return fmt.Errorf("%w: %s", ErrNotAGroup, groupID)
	}
	fn(&s.steps[i].Data)
	return nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.steps, func(st step.Step) bool { return st.ID == id })
}

// positionsLocked maps ids to their ascending, de-duplicated positions in
// the canonical list. Unknown ids are dropped.
func (s *Store) positionsLocked(ids []string) []int {
	seen := make(map[int]struct{}, len(ids))
	positions := make([]int, 0, len(ids))
	for _, id := range ids {
		i := s.indexOf(id)
		if i < 0 {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		positions = append(positions, i)
	}
	sort.Ints(positions)
	return positions
}

func (s *Store) freshIDLocked() string {
	taken := step.CollectIDs(s.steps)
	for {
		id := s.newID()
		if _, dup := taken[id]; !dup {
			return id
		}
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
