package typing

import "slices"

// Set tracks which remote participants are typing, in the order they
// started. The local participant is never a member.
type Set struct {
	self string
	ids  []string
}

// SetSelf records our own id and drops it from the set.
func (s *Set) SetSelf(id string) {
	s.self = id
	s.Stop(id)
}

// Start adds id and reports whether the set changed.
func (s *Set) Start(id string) bool {
	if id == "" || id == s.self || slices.Contains(s.ids, id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Stop removes id and reports whether the set changed.
func (s *Set) Stop(id string) bool {
	i := slices.Index(s.ids, id)
	if i < 0 {
		return false
	}
	s.ids = slices.Delete(s.ids, i, i+1)
	return true
}

func (s *Set) Clear() bool {
	changed := len(s.ids) > 0
	s.ids = nil
	return changed
}

func (s *Set) Len() int {
	return len(s.ids)
}

// IDs returns the typing participants in start order.
func (s *Set) IDs() []string {
	return slices.Clone(s.ids)
}
