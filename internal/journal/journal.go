// Package journal records undo actions so that a unit of work either commits
// in full or leaves no trace. Every stateful component of the engine appends
// its reverse mutation here before mutating.
package journal

// Journal is an ordered undo log. It is not safe for concurrent use; callers
// serialise access the same way they serialise the state it protects.
type Journal struct {
	undo  []func()
	depth int
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append records the action that reverts the mutation about to be applied.
// Outside of Atomic the journal is not collecting and the action is dropped.
func (j *Journal) Append(undo func()) {
	if j == nil || j.depth == 0 || undo == nil {
		return
	}
	j.undo = append(j.undo, undo)
}

// Snapshot returns a marker that RevertTo can roll back to.
func (j *Journal) Snapshot() int {
	return len(j.undo)
}

// RevertTo undoes every action recorded after snap, newest first.
func (j *Journal) RevertTo(snap int) {
	for i := len(j.undo) - 1; i >= snap; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:snap]
}

// Depth reports how many Atomic calls are currently open.
func (j *Journal) Depth() int {
	return j.depth
}

// Atomic runs fn as one unit. If fn fails, everything it mutated is rolled
// back and the error is returned unchanged. Nested calls roll back only their
// own mutations; the outermost call discards the log on success.
func (j *Journal) Atomic(fn func() error) error {
	snap := j.Snapshot()
	j.depth++
	err := fn()
	j.depth--
	if err != nil {
		j.RevertTo(snap)
		return err
	}
	if j.depth == 0 {
		j.undo = j.undo[:0]
	}
	return nil
}
