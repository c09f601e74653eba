package store

import (
	"slices"
	"sort"
)

// Select adds id to the selection if it names a top-level step.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 || slices.Contains(s.selection, id) {
		return false
	}
	s.selection = append(s.selection, id)
	return true
}

// Deselect removes id from the selection.
func (s *Store) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = slices.DeleteFunc(s.selection, func(v string) bool { return v == id })
}

// ToggleSelection flips id's membership and reports whether it is now
// selected.
func (s *Store) ToggleSelection(id string) bool {
	s.mu.Lock()
	if slices.Contains(s.selection, id) {
		s.selection = slices.DeleteFunc(s.selection, func(v string) bool { return v == id })
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.Select(id)
}

// SetSelection replaces the selection. Unknown ids are dropped.
func (s *Store) SetSelection(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = s.selection[:0]
	for _, id := range ids {
		if s.indexOf(id) >= 0 && !slices.Contains(s.selection, id) {
			s.selection = append(s.selection, id)
		}
	}
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
}

// Selection returns the selected ids in the order they were selected.
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.selection)
}

// SelectionInListOrder returns the selected ids ordered by their position
// in the canonical list.
func (s *Store) SelectionInListOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Clone(s.selection)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.indexOf(ids[i]) < s.indexOf(ids[j])
	})
	return ids
}

// LastSelected returns the selected id with the highest list position.
func (s *Store) LastSelected() (string, bool) {
	ids := s.SelectionInListOrder()
	if len(ids) == 0 {
		return "", false
	}
	return ids[len(ids)-1], true
}

func (s *Store) pruneSelectionLocked() {
	s.selection = slices.DeleteFunc(s.selection, func(id string) bool {
		return s.indexOf(id) < 0
	})
}
