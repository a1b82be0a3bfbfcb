// Package review keeps a document, its table projection and its raw JSON
// text consistent while any of them is edited.
//
// The canonical document is the source of truth. Rows are regenerated from
// its entry list after every change, so row i always describes entry i.
// The raw text has two modes: in view mode it is regenerated after every
// change, in edit mode it holds the user's keystrokes and is left alone
// until the edit is saved or cancelled. Conflicting commits resolve as
// last writer wins.
package review

import (
	"github.com/JonMunkholm/bundlewizard/internal/document"
)

type deletion struct {
	index int
	entry any
}

// Reconciler is the review state of one document. It is not safe for
// concurrent use; callers serialize access.
type Reconciler struct {
	doc  any
	rows []Row
	raw  string

	editing bool
	// base is the raw text at the time the editor opened.
	base string

	pending    any
	hasPending bool

	lastDeleted *deletion
}

// New takes a copy of doc as the canonical document.
func New(doc any) *Reconciler {
	r := &Reconciler{}
	r.install(document.Clone(doc))
	return r
}

// Document returns a copy of the canonical document.
func (r *Reconciler) Document() any {
	return document.Clone(r.doc)
}

// Rows returns a copy of the table rows.
func (r *Reconciler) Rows() []Row {
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// EntryCount is the length of the canonical entry list.
func (r *Reconciler) EntryCount() int {
	entries, _ := document.Entries(r.doc)
	return len(entries)
}

// RawText returns the raw editor buffer.
func (r *Reconciler) RawText() string { return r.raw }

// Editing reports whether the raw editor is open.
func (r *Reconciler) Editing() bool { return r.editing }

// Dirty reports whether the open raw editor holds unsaved changes.
func (r *Reconciler) Dirty() bool { return r.editing && r.raw != r.base }

// HasPending reports whether an external replacement is waiting for the
// editor to close.
func (r *Reconciler) HasPending() bool { return r.hasPending }

// CanUndo reports whether a deleted row can be restored.
func (r *Reconciler) CanUndo() bool { return r.lastDeleted != nil }

// SetCell writes one column of row i back into entry i.
func (r *Reconciler) SetCell(i int, field, value string) error {
	if err := validField(field); err != nil {
		return err
	}
	entries, _ := document.Entries(r.doc)
	if i < 0 || i >= len(entries) {
		return ErrRowIndex
	}

	res := document.Resource(entries[i])
	if res == nil {
		entry := blankEntry()
		entries[i] = entry
		res = document.Resource(entry)
	}
	res[field] = value

	r.rows[i] = project(entries[i])
	r.committed()
	return nil
}

// AddRow appends a row whose columns are all empty, with a matching entry.
func (r *Reconciler) AddRow() error {
	entries, _ := document.Entries(r.doc)
	next := append(entries, blankEntry())
	if err := document.SetEntries(r.doc, next); err != nil {
		return err
	}
	r.rows = append(r.rows, project(next[len(next)-1]))
	r.committed()
	return nil
}

// DeleteRow removes row i and entry i. The removed entry can be restored
// with UndoDelete until the next delete or document replacement.
func (r *Reconciler) DeleteRow(i int) error {
	entries, _ := document.Entries(r.doc)
	if i < 0 || i >= len(entries) {
		return ErrRowIndex
	}

	removed := entries[i]
	next := make([]any, 0, len(entries)-1)
	next = append(next, entries[:i]...)
	next = append(next, entries[i+1:]...)
	if err := document.SetEntries(r.doc, next); err != nil {
		return err
	}

	r.rows = append(r.rows[:i:i], r.rows[i+1:]...)
	r.lastDeleted = &deletion{index: i, entry: removed}
	r.committed()
	return nil
}

// UndoDelete restores the last deleted entry at its old index, or at the
// end when the list has since shrunk.
func (r *Reconciler) UndoDelete() error {
	if r.lastDeleted == nil {
		return ErrNothingToUndo
	}
	entries, _ := document.Entries(r.doc)
	at := min(r.lastDeleted.index, len(entries))

	next := make([]any, 0, len(entries)+1)
	next = append(next, entries[:at]...)
	next = append(next, r.lastDeleted.entry)
	next = append(next, entries[at:]...)
	if err := document.SetEntries(r.doc, next); err != nil {
		return err
	}

	r.rows = projectAll(next)
	r.lastDeleted = nil
	r.committed()
	return nil
}

// BeginEdit opens the raw editor on the current text.
func (r *Reconciler) BeginEdit() {
	if r.editing {
		return
	}
	r.editing = true
	r.base = r.raw
}

// EditRaw replaces the editor buffer. Nothing else changes.
func (r *Reconciler) EditRaw(text string) error {
	if !r.editing {
		return ErrNotEditing
	}
	r.raw = text
	return nil
}

// SaveRaw parses the editor buffer and, on success, makes it the canonical
// document and closes the editor. On failure it returns a *ConflictError
// and changes nothing.
func (r *Reconciler) SaveRaw() error {
	if !r.editing {
		return ErrNotEditing
	}
	doc, err := document.ParseString(r.raw)
	if err != nil {
		return newConflict(err)
	}

	r.editing = false
	r.base = ""
	r.dropPending()
	r.lastDeleted = nil
	r.install(doc)
	return nil
}

// CancelEdit discards the editor buffer. A replacement queued while the
// editor was open is applied now.
func (r *Reconciler) CancelEdit() {
	if !r.editing {
		return
	}
	r.editing = false
	r.base = ""

	if r.hasPending {
		doc := r.pending
		r.dropPending()
		r.lastDeleted = nil
		r.install(doc)
		return
	}
	r.regenerateRaw()
}

// Replace installs a document that arrived from outside the table and the
// editor. While the editor is open the replacement is queued instead, and
// a newer replacement supersedes an older queued one.
func (r *Reconciler) Replace(doc any) {
	doc = document.Clone(doc)
	if r.editing {
		r.pending = doc
		r.hasPending = true
		return
	}
	r.lastDeleted = nil
	r.install(doc)
}

func (r *Reconciler) install(doc any) {
	r.doc = doc
	entries, _ := document.Entries(doc)
	r.rows = projectAll(entries)
	r.regenerateRaw()
}

// committed runs after a table edit. A later commit beats a queued
// replacement, and the raw text follows unless the editor is open.
func (r *Reconciler) committed() {
	r.dropPending()
	if !r.editing {
		r.regenerateRaw()
	}
}

func (r *Reconciler) dropPending() {
	r.pending = nil
	r.hasPending = false
}

func (r *Reconciler) regenerateRaw() {
	text, err := document.MarshalString(r.doc)
	if err != nil {
		// Trees built by document.Parse always serialize.
		return
	}
	r.raw = text
}
