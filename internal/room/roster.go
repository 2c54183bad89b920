package room

import (
	"slices"

	"github.com/BioHazard786/huddle/internal/signaling"
)

// Participant is one roster entry.
type Participant struct {
	ID   string
	Name string
	Self bool
}

// roster keeps participants in join order with self first.
type roster struct {
	self    Participant
	members []Participant
}

func (r *roster) reset(selfID, selfName string, others []signaling.UserInfo) {
	r.self = Participant{ID: selfID, Name: selfName, Self: true}
	r.members = r.members[:0]
	for _, u := range others {
		r.add(u.UserID, u.UserName)
	}
}

// add reports whether id was new. Self and empty ids are never members.
func (r *roster) add(id, name string) bool {
	if id == "" || id == r.self.ID || r.index(id) >= 0 {
		return false
	}
	r.members = append(r.members, Participant{ID: id, Name: name})
	return true
}

func (r *roster) remove(id string) (Participant, bool) {
	i := r.index(id)
	if i < 0 {
		return Participant{}, false
	}
	p := r.members[i]
	r.members = slices.Delete(r.members, i, i+1)
	return p, true
}

func (r *roster) index(id string) int {
	return slices.IndexFunc(r.members, func(p Participant) bool { return p.ID == id })
}

func (r *roster) name(id string) (string, bool) {
	if id != "" && id == r.self.ID {
		return r.self.Name, true
	}
	if i := r.index(id); i >= 0 {
		return r.members[i].Name, true
	}
	return "", false
}

// others returns the non-self ids in roster order.
func (r *roster) others() []string {
	ids := make([]string, len(r.members))
	for i, p := range r.members {
		ids[i] = p.ID
	}
	return ids
}

// list returns every participant, self first.
func (r *roster) list() []Participant {
	out := make([]Participant, 0, len(r.members)+1)
	if r.self.ID != "" {
		out = append(out, r.self)
	}
	return append(out, r.members...)
}
