package diskset

import (
	"github.com/rpcpool/diskmap/codec"
	"github.com/rpcpool/diskmap/marker"
	"github.com/rpcpool/diskmap/nodeio"
)

// UnionWith adds every member of other into s.
func (s *Set[K]) UnionWith(other *Set[K]) error {
	return other.Walk(func(k K) error {
		_, err := s.Add(k)
		return err
	})
}

// markAgainstOther runs spec.md §4.9's unmarkAll; for x in other:
// tryMark(x) loop against s's own table (eng must wrap s.table), calling
// onResult with each x and whether it was found in s. Shared by every
// marker-engine-backed algebra op below.
func (s *Set[K]) markAgainstOther(eng *marker.Engine, other *Set[K], onResult func(k K, marked bool) error) error {
	if err := eng.UnmarkAll(); err != nil {
		return err
	}
	return other.Walk(func(k K) error {
		hashCode, _, err := s.hashKey(k)
		if err != nil {
			return err
		}
		marked, err := eng.TryMark(hashCode, s.matchKey(k))
		if err != nil {
			return err
		}
		return onResult(k, marked)
	})
}

// IntersectWith removes from s every member not also in other — spec.md
// §4.9: unmarkAll; for x in other: tryMark(x); removeUnmarked.
func (s *Set[K]) IntersectWith(other *Set[K]) error {
	eng := marker.New(s.table)
	if err := s.markAgainstOther(eng, other, func(K, bool) error { return nil }); err != nil {
		return err
	}
	return s.removeWhere(eng, false)
}

// ExceptWith removes from s every member also in other — spec.md §4.9:
// for x in other: remove(x).
func (s *Set[K]) ExceptWith(other *Set[K]) error {
	return other.Walk(func(k K) error {
		_, err := s.Remove(k)
		return err
	})
}

// SymmetricExceptWith makes s hold exactly the members in s or other but
// not both — spec.md §4.9: unmarkAll; collect into list those x in other
// where tryMark returned false (absent from s); removeMarked; add each
// collected x.
//
// tryMark marks exactly the elements of other that are also in s, i.e. the
// intersection: removeMarked (not removeUnmarked) is what strips that
// intersection back out of s, while the collected, unmarked remainder of
// other (the part tryMark couldn't find in s) gets added in afterward.
func (s *Set[K]) SymmetricExceptWith(other *Set[K]) error {
	eng := marker.New(s.table)
	var toAdd []K
	if err := s.markAgainstOther(eng, other, func(k K, marked bool) error {
		if !marked {
			toAdd = append(toAdd, k)
		}
		return nil
	}); err != nil {
		return err
	}
	if err := s.removeWhere(eng, true); err != nil {
		return err
	}
	for _, k := range toAdd {
		if _, err := s.Add(k); err != nil {
			return err
		}
	}
	return nil
}

// removeWhere removes every member of s whose slot's marker is nonzero
// (removeMarked, when removeMarked is true) or zero (removeUnmarked, when
// removeMarked is false). Candidates are buffered during the walk and
// removed afterward, since Remove mutates the same table the walk is
// iterating.
func (s *Set[K]) removeWhere(eng *marker.Engine, removeMarked bool) error {
	var toRemove []K
	if err := s.table.Walk(func(itemPointer int64, ih nodeio.ItemHeader) error {
		m, err := eng.Marker(ih.LookupPointer)
		if err != nil {
			return err
		}
		if (m != 0) != removeMarked {
			return nil
		}
		r := codec.NewCursor(s.table.Stream, itemPointer+nodeio.ItemHeaderSize)
		k, err := s.keyCodec.Read(r)
		if err != nil {
			return err
		}
		toRemove = append(toRemove, k)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range toRemove {
		if _, err := s.Remove(k); err != nil {
			return err
		}
	}
	return nil
}

// IsSubsetOf reports whether every member of s is also in other — spec.md
// §4.9: unmarkAll; for x in other: tryMark(x); return allMarked.
func (s *Set[K]) IsSubsetOf(other *Set[K]) (bool, error) {
	eng := marker.New(s.table)
	if err := s.markAgainstOther(eng, other, func(K, bool) error { return nil }); err != nil {
		return false, err
	}
	return eng.AllMarked()
}

// IsProperSubsetOf reports whether s is a subset of other and other holds
// at least one element s does not — spec.md §4.9: unmarkAll; extra=false;
// for x in other: if not tryMark(x): extra=true; return extra ∧ allMarked.
func (s *Set[K]) IsProperSubsetOf(other *Set[K]) (bool, error) {
	eng := marker.New(s.table)
	extra := false
	if err := s.markAgainstOther(eng, other, func(_ K, marked bool) error {
		if !marked {
			extra = true
		}
		return nil
	}); err != nil {
		return false, err
	}
	allMarked, err := eng.AllMarked()
	if err != nil {
		return false, err
	}
	return extra && allMarked, nil
}

// IsProperSupersetOf reports whether s is a superset of other and s holds
// at least one element other does not — spec.md §4.9: unmarkAll; if any x
// in other fails tryMark: return false; return ¬allMarked.
func (s *Set[K]) IsProperSupersetOf(other *Set[K]) (bool, error) {
	eng := marker.New(s.table)
	allFound := true
	if err := s.markAgainstOther(eng, other, func(_ K, marked bool) error {
		if !marked {
			allFound = false
		}
		return nil
	}); err != nil {
		return false, err
	}
	if !allFound {
		return false, nil
	}
	allMarked, err := eng.AllMarked()
	if err != nil {
		return false, err
	}
	return !allMarked, nil
}

// IsSupersetOf reports whether every member of other is also in s —
// spec.md §4.9: all(Contains(x) for x in other). No marker pass: this is
// a direct per-element membership check, not a bulk comparison.
func (s *Set[K]) IsSupersetOf(other *Set[K]) (bool, error) {
	supersets := true
	err := other.Walk(func(k K) error {
		if !supersets {
			return nil
		}
		present, err := s.Contains(k)
		if err != nil {
			return err
		}
		if !present {
			supersets = false
		}
		return nil
	})
	return supersets, err
}

// Overlaps reports whether s and other share any member — spec.md §4.9:
// any(Contains(x) for x in other).
func (s *Set[K]) Overlaps(other *Set[K]) (bool, error) {
	overlaps := false
	err := other.Walk(func(k K) error {
		if overlaps {
			return nil
		}
		present, err := s.Contains(k)
		if err != nil {
			return err
		}
		if present {
			overlaps = true
		}
		return nil
	})
	return overlaps, err
}

// SetEquals reports whether s and other have exactly the same members —
// spec.md §4.9: unmarkAll; (∀x in other: tryMark(x)) ∧ allMarked.
func (s *Set[K]) SetEquals(other *Set[K]) (bool, error) {
	eng := marker.New(s.table)
	allFound := true
	if err := s.markAgainstOther(eng, other, func(_ K, marked bool) error {
		if !marked {
			allFound = false
		}
		return nil
	}); err != nil {
		return false, err
	}
	if !allFound {
		return false, nil
	}
	return eng.AllMarked()
}
