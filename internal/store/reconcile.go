package store

import "macroctl/internal/step"

// MarkPending records that a structural edit was sent to the executor and
// returns the edit's version.
func (s *Store) MarkPending() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localVersion++
	s.pending++
	return s.localVersion
}

// Pending returns the number of sent edits not yet acknowledged.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Version returns the version stamped on the last sent edit.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localVersion
}

// CancelPending withdraws the most recent MarkPending after the edit
// could not be sent.
func (s *Store) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
}

// ResetPending forgets every in-flight edit. The next broadcast is
// adopted unconditionally.
func (s *Store) ResetPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = 0
}

// ApplyBroadcast reconciles an executor broadcast with local edits and
// reports whether the broadcast list was adopted.
//
// A broadcast that carries a version is adopted when it is at least as
// new as the last local edit; an older one still acknowledges one pending
// edit. Without a version each broadcast acknowledges one pending edit,
// and the list is adopted once nothing is pending.
func (s *Store) ApplyBroadcast(steps []step.Step, version *uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version != nil {
		if *version < s.localVersion {
			if s.pending > 0 {
				s.pending--
			}
			s.logger.Debug("dropping stale broadcast", "version", *version, "local", s.localVersion)
			return false
		}
		s.pending = 0
	} else {
		if s.pending > 0 {
			s.pending--
		}
		if s.pending > 0 {
			s.logger.Debug("broadcast superseded by pending edits", "pending", s.pending)
			return false
		}
	}

	s.steps = step.CloneAll(steps)
	s.pruneSelectionLocked()
	return true
}
