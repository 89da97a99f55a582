package reconcile

import (
	"sort"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
)

// List is the ordered bookmark list of one session: created_at descending, unique by id.
//
// All transitions are idempotent. Applying the same change twice leaves the
// list as applying it once, which is what makes duplicate or reordered
// delivery between the write path and the change-feed harmless.
type List []domain.Bookmark

// NewList builds a list from a full fetch, enforcing order and uniqueness.
func NewList(items []domain.Bookmark) List {
	out := make(List, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, b := range items {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return domain.Newer(out[i], out[j])
	})
	return out
}

// Index returns the position of id, or -1.
func (l List) Index(id string) int {
	for i, b := range l {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is present.
func (l List) Contains(id string) bool { return l.Index(id) >= 0 }

// Prepend puts b at the head unless its id is already present.
func (l List) Prepend(b domain.Bookmark) (List, bool) {
	if l.Contains(b.ID) {
		return l, false
	}
	out := make(List, 0, len(l)+1)
	out = append(out, b)
	return append(out, l...), true
}

// Replace swaps the entry with b's id for b. No-op when absent.
func (l List) Replace(b domain.Bookmark) (List, bool) {
	i := l.Index(b.ID)
	if i < 0 || l[i] == b {
		return l, false
	}
	out := make(List, len(l))
	copy(out, l)
	out[i] = b
	return out, true
}

// Remove drops the entry with id. No-op when absent.
func (l List) Remove(id string) (List, bool) {
	i := l.Index(id)
	if i < 0 {
		return l, false
	}
	out := make(List, 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...), true
}

// Apply merges a change-feed event.
//
//	insert: prepend unless present
//	update: replace if present
//	delete: remove if present
func (l List) Apply(ev domain.ChangeEvent) (List, bool) {
	switch ev.Kind {
	case domain.EventInsert:
		if ev.New == nil {
			return l, false
		}
		return l.Prepend(*ev.New)
	case domain.EventUpdate:
		if ev.New == nil {
			return l, false
		}
		return l.Replace(*ev.New)
	case domain.EventDelete:
		if ev.Old == nil {
			return l, false
		}
		return l.Remove(ev.Old.ID)
	}
	return l, false
}

// Clone returns a copy the caller may keep.
func (l List) Clone() []domain.Bookmark {
	out := make([]domain.Bookmark, len(l))
	copy(out, l)
	return out
}
