package step

// Clone returns a deep copy of s. Nested group children are copied
// recursively and keep their ids.
func Clone(s Step) Step {
	out := Step{ID: s.ID, Type: s.Type, Data: s.Data}
	d := &out.Data
	if s.Data.WaitTime != nil {
		d.WaitTime = Float(*s.Data.WaitTime)
	}
	if s.Data.Randomize != nil {
		d.Randomize = Bool(*s.Data.Randomize)
	}
	if s.Data.X != nil {
		d.X = Int(*s.Data.X)
	}
	if s.Data.Y != nil {
		d.Y = Int(*s.Data.Y)
	}
	if s.Data.Modifiers != nil {
		d.Modifiers = append([]string(nil), s.Data.Modifiers...)
	}
	if s.Data.GroupSteps != nil {
		d.GroupSteps = CloneAll(s.Data.GroupSteps)
	}
	return out
}

// CloneAll deep-copies a slice of steps preserving order and ids.
func CloneAll(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Clone(s)
	}
	return out
}

// CloneWithNewIDs deep-copies s and assigns a fresh id from newID to the
// step and to every step nested inside it. The ids in taken are never
// returned; assigned ids are added to taken.
func CloneWithNewIDs(s Step, taken map[string]struct{}, newID func() string) Step {
	out := Clone(s)
	reassign(&out, taken, newID)
	return out
}

func reassign(s *Step, taken map[string]struct{}, newID func() string) {
	id := newID()
	for {
		if _, dup := taken[id]; !dup {
			break
		}
		id = newID()
	}
	taken[id] = struct{}{}
	s.ID = id
	for i := range s.Data.GroupSteps {
		reassign(&s.Data.GroupSteps[i], taken, newID)
	}
}

// CollectIDs returns every id in steps, including ids nested in groups.
func CollectIDs(steps []Step) map[string]struct{} {
	ids := make(map[string]struct{})
	Walk(steps, func(s Step) {
		ids[s.ID] = struct{}{}
	})
	return ids
}

// Walk visits steps depth-first in list order, children after their group.
func Walk(steps []Step, fn func(Step)) {
	for _, s := range steps {
		fn(s)
		if len(s.Data.GroupSteps) > 0 {
			Walk(s.Data.GroupSteps, fn)
		}
	}
}
