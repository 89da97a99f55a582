package domain

import "fmt"

// EventKind tags a change-feed event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent is a row-level notification from the bookmark store.
//
// Insert and update carry New. Delete carries Old (id only).
type ChangeEvent struct {
	Kind EventKind    `json:"kind"`
	New  *Bookmark    `json:"new,omitempty"`
	Old  *BookmarkRef `json:"old,omitempty"`
}

// InsertEvent builds the event published after a bookmark is created.
func InsertEvent(b Bookmark) ChangeEvent {
	return ChangeEvent{Kind: EventInsert, New: &b}
}

// UpdateEvent builds the event published after a bookmark is modified.
func UpdateEvent(b Bookmark) ChangeEvent {
	return ChangeEvent{Kind: EventUpdate, New: &b, Old: &BookmarkRef{ID: b.ID}}
}

// DeleteEvent builds the event published after a bookmark is removed.
func DeleteEvent(id string) ChangeEvent {
	return ChangeEvent{Kind: EventDelete, Old: &BookmarkRef{ID: id}}
}

// Validate checks that the event carries the record its kind requires.
func (e ChangeEvent) Validate() error {
	switch e.Kind {
	case EventInsert, EventUpdate:
		if e.New == nil || e.New.ID == "" {
			return fmt.Errorf("%s event without new record", e.Kind)
		}
	case EventDelete:
		if e.Old == nil || e.Old.ID == "" {
			return fmt.Errorf("delete event without old id")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
