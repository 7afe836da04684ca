package crdt

// EventID totally orders every operation in the system. Comparison
// proceeds lamport -> writer -> patch hash -> op-index, each
// lexicographic or numeric as appropriate. Two distinct operations can
// never tie; equal EventIDs imply the same operation (spec.md §3).
type EventID struct {
	Lamport   uint64
	Writer    WriterID
	PatchHash string
	OpIndex   int
}

// Less reports whether e sorts before o under the total order.
func (e EventID) Less(o EventID) bool {
	if e.Lamport != o.Lamport {
		return e.Lamport < o.Lamport
	}
	if e.Writer != o.Writer {
		return e.Writer < o.Writer
	}
	if e.PatchHash != o.PatchHash {
		return e.PatchHash < o.PatchHash
	}
	return e.OpIndex < o.OpIndex
}

// Greater is the strict inverse of Less (neither Less(o) nor o.Less(e)
// holding means e == o).
func (e EventID) Greater(o EventID) bool {
	return o.Less(e)
}

// Equal reports field-wise equality.
func (e EventID) Equal(o EventID) bool {
	return e == o
}

// CausalKey is the ascending sort key used whenever patches must be
// folded in a deterministic order: (lamport, writer, patch-hash). It
// breaks ties the same way EventID does, but over patches rather than
// individual ops.
type CausalKey struct {
	Lamport   uint64
	Writer    WriterID
	PatchHash string
}

// Less orders causal keys ascending.
func (k CausalKey) Less(o CausalKey) bool {
	if k.Lamport != o.Lamport {
		return k.Lamport < o.Lamport
	}
	if k.Writer != o.Writer {
		return k.Writer < o.Writer
	}
	return k.PatchHash < o.PatchHash
}
