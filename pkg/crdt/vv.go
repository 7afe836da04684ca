package crdt

import "sort"

// VersionVector maps writer-id to the highest counter observed from
// that writer. It forms a join-semilattice under pointwise maximum:
// the join is commutative, associative, and idempotent.
type VersionVector map[WriterID]uint64

// NewVersionVector returns an empty version vector.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Clone returns an independent copy.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for w, c := range vv {
		out[w] = c
	}
	return out
}

// Contains reports whether vv has observed dot d, i.e. vv[d.Writer] >= d.Counter.
func (vv VersionVector) Contains(d Dot) bool {
	return vv[d.Writer] >= d.Counter
}

// Observe raises vv[writer] to max(vv[writer], counter), in place.
func (vv VersionVector) Observe(writer WriterID, counter uint64) {
	if counter > vv[writer] {
		vv[writer] = counter
	}
}

// ObserveDot is Observe for a single dot.
func (vv VersionVector) ObserveDot(d Dot) {
	vv.Observe(d.Writer, d.Counter)
}

// Join returns the pointwise maximum of vv and other, a new
// VersionVector. Join is the lattice operation: commutative,
// associative, idempotent.
func (vv VersionVector) Join(other VersionVector) VersionVector {
	out := vv.Clone()
	for w, c := range other {
		out.Observe(w, c)
	}
	return out
}

// MergeFrom joins other into vv in place.
func (vv VersionVector) MergeFrom(other VersionVector) {
	for w, c := range other {
		vv.Observe(w, c)
	}
}

// Writers returns the writer-ids present in vv, sorted, for
// deterministic iteration.
func (vv VersionVector) Writers() []WriterID {
	out := make([]WriterID, 0, len(vv))
	for w := range vv {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether two version vectors observe exactly the same
// counters (missing entries are treated as zero).
func (vv VersionVector) Equal(other VersionVector) bool {
	for w, c := range vv {
		if other[w] != c {
			return false
		}
	}
	for w, c := range other {
		if vv[w] != c {
			return false
		}
	}
	return true
}

// LessOrEqual reports whether vv is dominated by other: every writer's
// counter in vv is <= the corresponding counter in other.
func (vv VersionVector) LessOrEqual(other VersionVector) bool {
	for w, c := range vv {
		if other[w] < c {
			return false
		}
	}
	return true
}
