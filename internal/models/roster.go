package models

// Roster is the static operator allow-list. Roles are derived from it and
// never read back from storage.
type Roster struct {
	ids []int64
	set map[int64]struct{}
}

func NewRoster(ids []int64) *Roster {
	r := &Roster{set: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := r.set[id]; dup {
			continue
		}
		r.set[id] = struct{}{}
		r.ids = append(r.ids, id)
	}
	return r
}

func (r *Roster) IsOperator(telegramID int64) bool {
	_, ok := r.set[telegramID]
	return ok
}

func (r *Roster) RoleOf(telegramID int64) Role {
	if r.IsOperator(telegramID) {
		return RoleOperator
	}
	return RoleUser
}

// IDs returns a copy of the operator ids in configuration order.
func (r *Roster) IDs() []int64 {
	out := make([]int64, len(r.ids))
	copy(out, r.ids)
	return out
}
